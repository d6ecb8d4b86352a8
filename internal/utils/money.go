// internal/utils/money.go
package utils

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
)

var maxInt64 = decimal.NewFromInt(math.MaxInt64)

// MulDivFloor returns floor(a*b/d) for non-negative operands without
// overflowing the intermediate product.
func MulDivFloor(a, b, d int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, apperrors.Validation("amounts must not be negative")
	}
	if d <= 0 {
		return 0, apperrors.Validation("divisor must be positive")
	}

	q, _ := decimal.NewFromInt(a).Mul(decimal.NewFromInt(b)).QuoRem(decimal.NewFromInt(d), 0)
	if q.GreaterThan(maxInt64) {
		return 0, apperrors.Validation("amount overflows: %d * %d / %d", a, b, d)
	}
	return q.IntPart(), nil
}

// MulChecked returns a*b for non-negative operands or an error on overflow.
func MulChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, apperrors.Validation("amounts must not be negative")
	}
	p := decimal.NewFromInt(a).Mul(decimal.NewFromInt(b))
	if p.GreaterThan(maxInt64) {
		return 0, apperrors.Validation("amount overflows: %d * %d", a, b)
	}
	return p.IntPart(), nil
}

// AddChecked returns a+b for non-negative operands or an error on overflow.
func AddChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, apperrors.Validation("amounts must not be negative")
	}
	if a > math.MaxInt64-b {
		return 0, apperrors.Validation("amount overflows: %d + %d", a, b)
	}
	return a + b, nil
}

// ApplyBP returns floor(amount*bp/10000).
func ApplyBP(amount, bp int64) (int64, error) {
	return MulDivFloor(amount, bp, 10000)
}

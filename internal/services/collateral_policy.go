// internal/services/collateral_policy.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

// RequiredCollateral returns cost * max(listingBP, reputationBP) / 10000.
// Both multipliers are clamped to [0, 10000].
func RequiredCollateral(cost, listingBP, reputationBP int64) (int64, error) {
	bp := clampBP(listingBP)
	if r := clampBP(reputationBP); r > bp {
		bp = r
	}
	return utils.ApplyBP(cost, bp)
}

func clampBP(bp int64) int64 {
	if bp < 0 {
		return 0
	}
	if bp > models.BasisPointScale {
		return models.BasisPointScale
	}
	return bp
}

type CollateralPolicy struct {
	oracle  ReputationOracle
	timeout time.Duration
}

func NewCollateralPolicy(oracle ReputationOracle, timeout time.Duration) *CollateralPolicy {
	return &CollateralPolicy{oracle: oracle, timeout: timeout}
}

// Required prices collateral for renter. A whitelisted renter posts none,
// whatever the listing asks; blacklisted renters always post the full cost.
// If the oracle cannot answer the renter posts full collateral.
func (p *CollateralPolicy) Required(ctx context.Context, renter uuid.UUID, cost, listingBP int64) (int64, error) {
	var profile *models.ReputationProfile

	err := callCollaborator(ctx, p.timeout, "reputation", func(ctx context.Context) error {
		var err error
		profile, err = p.oracle.Profile(ctx, renter)
		return err
	})
	if err != nil || profile == nil {
		logrus.WithError(err).WithField("renter_id", renter).Warn("Reputation unavailable, requiring full collateral")
		return RequiredCollateral(cost, listingBP, models.BasisPointScale)
	}

	if profile.Whitelisted && !profile.Blacklisted {
		return 0, nil
	}
	return RequiredCollateral(cost, listingBP, profile.MultiplierBP)
}

// internal/apperrors/errors_test.go
package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindAndCode(t *testing.T) {
	err := WithCode(ErrNothingToWithdraw, "stream %d", 7)

	assert.True(t, errors.Is(err, ErrNothingToWithdraw))
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.False(t, errors.Is(err, ErrRateTooLow))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "nothing to withdraw: stream 7", err.Error())

	plain := InsufficientFunds("short by %d", 3)
	assert.True(t, errors.Is(plain, ErrInsufficientFunds))
	assert.False(t, errors.Is(plain, ErrNothingToWithdraw))
}

func TestKindAndCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("opening stream: %w", WithCode(ErrRateTooLow, "net 5 over 60s"))

	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, "RATE_TOO_LOW", CodeOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Empty(t, CodeOf(State("closed")))
}

func TestCollaboratorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Collaborator(cause, "registry call failed")

	assert.True(t, errors.Is(err, ErrCollaborator))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "registry call failed: connection refused", err.Error())
}

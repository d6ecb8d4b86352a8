// internal/services/collateral_policy_test.go
package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/asset-rental-backend/internal/models"
)

type fixedReputation struct {
	profile models.ReputationProfile
	err     error
}

func (r *fixedReputation) Profile(ctx context.Context, user uuid.UUID) (*models.ReputationProfile, error) {
	if r.err != nil {
		return nil, r.err
	}
	p := r.profile
	p.UserID = user
	return &p, nil
}

func (r *fixedReputation) Score(ctx context.Context, user uuid.UUID) (int64, error) {
	p, err := r.Profile(ctx, user)
	if err != nil {
		return 0, err
	}
	return p.Score, nil
}

func (r *fixedReputation) CollateralMultiplier(ctx context.Context, user uuid.UUID) (int64, error) {
	p, err := r.Profile(ctx, user)
	if err != nil {
		return 0, err
	}
	return p.MultiplierBP, nil
}

func TestCollateralPolicyRequired(t *testing.T) {
	tests := []struct {
		name      string
		oracle    *fixedReputation
		listingBP int64
		out       int64
	}{
		{"tiered renter meets listing floor", &fixedReputation{profile: models.ReputationProfile{Score: 700, MultiplierBP: 2500}}, 5000, 5000},
		{"tiered renter above listing floor", &fixedReputation{profile: models.ReputationProfile{Score: 100, MultiplierBP: 10_000}}, 5000, 10_000},
		{"whitelisted ignores listing floor", &fixedReputation{profile: models.ReputationProfile{Whitelisted: true}}, 5000, 0},
		{"blacklist beats whitelist", &fixedReputation{profile: models.ReputationProfile{Whitelisted: true, Blacklisted: true, MultiplierBP: 10_000}}, 0, 10_000},
		{"oracle failure requires full collateral", &fixedReputation{err: errors.New("oracle down")}, 0, 10_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewCollateralPolicy(tt.oracle, time.Second)
			got, err := policy.Required(context.Background(), uuid.New(), 10_000, tt.listingBP)
			require.NoError(t, err)
			assert.Equal(t, tt.out, got)
		})
	}
}

// internal/services/reputation_service_test.go
package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/models"
)

func TestReputationDefaultsAndTiers(t *testing.T) {
	env := newTestEnv(t)
	user := env.user()

	profile, err := env.reputation.Profile(env.ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), profile.Score)
	assert.Equal(t, int64(5000), profile.MultiplierBP)

	tests := []struct {
		score int64
		want  int64
	}{
		{0, 10000},
		{299, 10000},
		{300, 5000},
		{600, 2500},
		{849, 2500},
		{850, 1000},
		{1000, 1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, env.reputation.MultiplierFor(&models.ReputationProfile{Score: tt.score}), "score %d", tt.score)
	}

	assert.Equal(t, int64(10000), env.reputation.MultiplierFor(&models.ReputationProfile{Score: 1000, Blacklisted: true}))
	assert.Zero(t, env.reputation.MultiplierFor(&models.ReputationProfile{Score: 0, Whitelisted: true}))
}

func TestRecordOutcomeClampsScore(t *testing.T) {
	env := newTestEnv(t)
	user := env.user()

	require.NoError(t, env.reputation.RecordOutcome(env.ctx, user.ID, OutcomeRentalCompleted))
	score, err := env.reputation.Score(env.ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(510), score)

	for i := 0; i < 20; i++ {
		require.NoError(t, env.reputation.RecordOutcome(env.ctx, user.ID, OutcomeDisputeLost))
	}
	score, err = env.reputation.Score(env.ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, score)

	err = env.reputation.RecordOutcome(env.ctx, user.ID, ReputationOutcome("bribed"))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	bad := int64(1001)
	_, err = env.reputation.SetFlags(env.ctx, user.ID, &ReputationFlagsRequest{Score: &bad})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestRegistryGrantsAreExclusive(t *testing.T) {
	env := newTestEnv(t)
	owner, alice, bob := env.user(), env.user(), env.user()

	asset, err := env.registry.RegisterAsset(env.ctx, owner, &RegisterAssetRequest{AssetID: "track-9"})
	require.NoError(t, err)
	assert.Len(t, asset.RecordHash, 64)
	assert.True(t, asset.TimedAccess)

	_, err = env.registry.RegisterAsset(env.ctx, alice, &RegisterAssetRequest{AssetID: "track-9"})
	assert.True(t, errors.Is(err, apperrors.ErrState))

	until := testEpoch.Add(time.Hour)
	require.NoError(t, env.registry.GrantAccess(env.ctx, "track-9", alice.ID, until))

	err = env.registry.GrantAccess(env.ctx, "track-9", bob.ID, until)
	assert.True(t, errors.Is(err, apperrors.ErrState))

	_, ok, err := env.registry.HasAccess(env.ctx, "track-9", alice.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// an expired grant gives way
	env.clock.Advance(2 * time.Hour)
	_, ok, err = env.registry.HasAccess(env.ctx, "track-9", alice.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, env.registry.GrantAccess(env.ctx, "track-9", bob.ID, testEpoch.Add(3*time.Hour)))

	require.NoError(t, env.registry.RevokeAccess(env.ctx, "track-9"))
	_, ok, err = env.registry.HasAccess(env.ctx, "track-9", bob.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, env.registry.RevokeAccess(env.ctx, "track-9"))
}

func TestRegistryWithoutTimedAccess(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	off := false
	_, err := env.registry.RegisterAsset(env.ctx, owner, &RegisterAssetRequest{AssetID: "deed-1", TimedAccess: &off})
	require.NoError(t, err)

	err = env.registry.GrantAccess(env.ctx, "deed-1", env.user().ID, testEpoch.Add(time.Hour))
	assert.True(t, errors.Is(err, apperrors.ErrState))

	listing, err := env.rentals.ListAsset(env.ctx, owner, &ListAssetRequest{AssetID: "deed-1", PricePerSecond: 3, MinDuration: 60, MaxDuration: 600})
	require.NoError(t, err)
	assert.False(t, listing.TimedAccess)

	renter := env.user()
	env.fund(renter.ID, 10_000)
	res, err := env.rentals.Rent(env.ctx, renter, listing.ID, &RentRequest{Duration: 600, Payment: 10_000})
	require.NoError(t, err)
	assert.Equal(t, models.RentalStatusActive, res.Rental.Status)
}

// internal/services/rental_service_test.go
package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/store"
)

// At 10/s for an hour the cost is 36000. A default-score renter posts half
// of that as collateral. The stream nets 35100 after the 2.5% fee and
// floors to 9/s.
const (
	rentPrice      = int64(10)
	rentDuration   = int64(3600)
	rentCost       = int64(36_000)
	rentCollateral = int64(18_000)
	rentNet        = int64(35_100)
	renterFunds    = int64(100_000)
)

type rentalFixture struct {
	*testEnv
	holder  models.Caller
	renter  models.Caller
	listing *models.Listing
}

func newRentalFixture(t *testing.T) *rentalFixture {
	env := newTestEnv(t)
	f := &rentalFixture{testEnv: env, holder: env.user(), renter: env.user()}
	f.listing = env.listAsset(f.holder, rentPrice, 0)
	env.fund(f.renter.ID, renterFunds)
	return f
}

func (f *rentalFixture) rent() *RentalResult {
	f.t.Helper()
	res, err := f.rentals.Rent(f.ctx, f.renter, f.listing.ID, &RentRequest{Duration: rentDuration, Payment: rentCost + rentCollateral})
	require.NoError(f.t, err)
	return res
}

func (f *rentalFixture) score(c models.Caller) int64 {
	f.t.Helper()
	score, err := f.reputation.Score(f.ctx, c.ID)
	require.NoError(f.t, err)
	return score
}

func TestListAsset(t *testing.T) {
	env := newTestEnv(t)
	holder := env.user()
	listing := env.listAsset(holder, rentPrice, 1000)

	assert.True(t, listing.Active)
	assert.True(t, listing.TimedAccess)
	assert.Equal(t, holder.ID, listing.HolderID)

	_, err := env.rentals.ListAsset(env.ctx, holder, &ListAssetRequest{AssetID: listing.AssetID, PricePerSecond: 5, MinDuration: 60, MaxDuration: 600})
	assert.True(t, errors.Is(err, apperrors.ErrState), "second open listing for the same asset")

	_, err = env.rentals.ListAsset(env.ctx, env.user(), &ListAssetRequest{AssetID: listing.AssetID, PricePerSecond: 5, MinDuration: 60, MaxDuration: 600})
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization))
}

func TestListAssetValidation(t *testing.T) {
	env := newTestEnv(t)
	holder := env.user()
	_, err := env.registry.RegisterAsset(env.ctx, holder, &RegisterAssetRequest{AssetID: "song-1"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  ListAssetRequest
	}{
		{"min above max", ListAssetRequest{AssetID: "song-1", PricePerSecond: 5, MinDuration: 600, MaxDuration: 60}},
		{"below engine minimum", ListAssetRequest{AssetID: "song-1", PricePerSecond: 5, MinDuration: 10, MaxDuration: 60}},
		{"price above bound", ListAssetRequest{AssetID: "song-1", PricePerSecond: 2_000_000_000_000, MinDuration: 60, MaxDuration: 600}},
		{"collateral over 100%", ListAssetRequest{AssetID: "song-1", PricePerSecond: 5, MinDuration: 60, MaxDuration: 600, CollateralBP: 10_001}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.rentals.ListAsset(env.ctx, holder, &tt.req)
			assert.True(t, errors.Is(err, apperrors.ErrValidation), "got %v", err)
		})
	}
}

func TestListAssetAsksOracleForPrice(t *testing.T) {
	env := newTestEnv(t)
	holder := env.user()
	_, err := env.registry.RegisterAsset(env.ctx, holder, &RegisterAssetRequest{AssetID: "film-7"})
	require.NoError(t, err)

	listing, err := env.rentals.ListAsset(env.ctx, holder, &ListAssetRequest{AssetID: "film-7", MinDuration: 60, MaxDuration: 600})
	require.NoError(t, err)
	assert.Equal(t, env.cfg.DefaultPricePerSecond, listing.PricePerSecond)
}

func TestQuoteUsesReputationMultiplier(t *testing.T) {
	f := newRentalFixture(t)

	q, err := f.rentals.Quote(f.ctx, f.renter, f.listing.ID, rentDuration)
	require.NoError(t, err)
	assert.Equal(t, rentCost, q.Cost)
	assert.Equal(t, rentCollateral, q.Collateral)
	assert.Equal(t, rentCost+rentCollateral, q.Total)

	whitelisted := true
	_, err = f.reputation.SetFlags(f.ctx, f.renter.ID, &ReputationFlagsRequest{Whitelisted: &whitelisted})
	require.NoError(t, err)
	q, err = f.rentals.Quote(f.ctx, f.renter, f.listing.ID, rentDuration)
	require.NoError(t, err)
	assert.Zero(t, q.Collateral)

	_, err = f.rentals.Quote(f.ctx, f.renter, f.listing.ID, 30)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	_, err = f.rentals.Quote(f.ctx, f.holder, f.listing.ID, rentDuration)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestWhitelistedRenterSkipsListingCollateral(t *testing.T) {
	f := newRentalFixture(t)
	listing := f.listAsset(f.holder, rentPrice, 5000)

	q, err := f.rentals.Quote(f.ctx, f.renter, listing.ID, rentDuration)
	require.NoError(t, err)
	assert.Equal(t, rentCollateral, q.Collateral)

	whitelisted := true
	_, err = f.reputation.SetFlags(f.ctx, f.renter.ID, &ReputationFlagsRequest{Whitelisted: &whitelisted})
	require.NoError(t, err)

	q, err = f.rentals.Quote(f.ctx, f.renter, listing.ID, rentDuration)
	require.NoError(t, err)
	assert.Zero(t, q.Collateral)
	assert.Equal(t, rentCost, q.Total)

	res, err := f.rentals.Rent(f.ctx, f.renter, listing.ID, &RentRequest{Duration: rentDuration, Payment: rentCost})
	require.NoError(t, err)
	assert.Zero(t, res.Rental.CollateralAmount)
	assert.Equal(t, renterFunds-rentCost, f.userBalance(f.renter.ID))
}

func TestBlacklistedRenterPostsFullCollateral(t *testing.T) {
	f := newRentalFixture(t)

	blacklisted, whitelisted := true, true
	_, err := f.reputation.SetFlags(f.ctx, f.renter.ID, &ReputationFlagsRequest{Blacklisted: &blacklisted, Whitelisted: &whitelisted})
	require.NoError(t, err)

	q, err := f.rentals.Quote(f.ctx, f.renter, f.listing.ID, rentDuration)
	require.NoError(t, err)
	assert.Equal(t, rentCost, q.Collateral)
}

func TestRent(t *testing.T) {
	f := newRentalFixture(t)
	res := f.rent()

	rental := res.Rental
	assert.Equal(t, models.RentalStatusActive, rental.Status)
	assert.Equal(t, rentCost, rental.RentalCost)
	assert.Equal(t, rentCollateral, rental.CollateralAmount)
	assert.Equal(t, testEpoch.Add(time.Hour), rental.EndTime)

	stream := res.Stream
	assert.Equal(t, f.renter.ID, stream.SenderID)
	assert.Equal(t, f.holder.ID, stream.RecipientID)
	assert.Equal(t, rentNet, stream.NetDeposit)
	require.NotNil(t, stream.RentalID)
	assert.Equal(t, rental.ID, *stream.RentalID)

	assert.Equal(t, renterFunds-rentCost-rentCollateral, f.userBalance(f.renter.ID))
	assert.Equal(t, rentCollateral, f.balance(models.CollateralAccount(rental.ID)))
	assert.Equal(t, rentCost, f.balance(models.StreamEscrowAccount(stream.ID)))

	listing, err := f.rentals.GetListing(f.ctx, f.listing.ID)
	require.NoError(t, err)
	assert.False(t, listing.Active)
	require.NotNil(t, listing.CurrentRentalID)
	assert.Equal(t, rental.ID, *listing.CurrentRentalID)

	_, ok, err := f.registry.HasAccess(f.ctx, f.listing.AssetID, f.renter.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	events, total, err := f.rentals.Events(f.ctx, f.renter, rental.ID, store.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, events, 3)

	// the listing is taken
	other := f.user()
	f.fund(other.ID, renterFunds)
	_, err = f.rentals.Rent(f.ctx, other, f.listing.ID, &RentRequest{Duration: rentDuration, Payment: renterFunds})
	assert.True(t, errors.Is(err, apperrors.ErrState))
}

func TestRentRejectsShortPayment(t *testing.T) {
	f := newRentalFixture(t)

	_, err := f.rentals.Rent(f.ctx, f.renter, f.listing.ID, &RentRequest{Duration: rentDuration, Payment: rentCost})
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds))
	assert.Equal(t, renterFunds, f.userBalance(f.renter.ID))
}

func TestRentIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	holder, renter := env.user(), env.user()
	listing := env.listAsset(holder, rentPrice, 0)
	// enough for the stream, not for the collateral
	env.fund(renter.ID, rentCost+1000)

	_, err := env.rentals.Rent(env.ctx, renter, listing.ID, &RentRequest{Duration: rentDuration, Payment: rentCost + rentCollateral})
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds), "got %v", err)

	assert.Equal(t, rentCost+1000, env.userBalance(renter.ID))
	rentals, total, err := env.store.Rentals().List(env.ctx, store.RentalFilter{}, store.Page{})
	require.NoError(t, err)
	assert.Empty(t, rentals)
	assert.Zero(t, total)
	streams, _, err := env.store.Streams().List(env.ctx, store.StreamFilter{}, store.Page{})
	require.NoError(t, err)
	assert.Empty(t, streams)

	after, err := env.rentals.GetListing(env.ctx, listing.ID)
	require.NoError(t, err)
	assert.True(t, after.Active)
	assert.Nil(t, after.CurrentRentalID)

	_, ok, err := env.registry.HasAccess(env.ctx, listing.AssetID, renter.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleteRental(t *testing.T) {
	f := newRentalFixture(t)
	rental := f.rent().Rental

	f.advance(rentDuration - 1)
	_, err := f.rentals.Complete(f.ctx, f.renter, rental.ID)
	assert.True(t, errors.Is(err, apperrors.ErrState))

	f.advance(1)
	_, err = f.rentals.Complete(f.ctx, f.user(), rental.ID)
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization))

	res, err := f.rentals.Complete(f.ctx, models.SystemCaller, rental.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RentalStatusCompleted, res.Rental.Status)
	assert.True(t, res.Rental.CollateralReleased)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, rentNet, res.Settlement.ToRecipient)

	assert.Equal(t, rentNet, f.userBalance(f.holder.ID))
	assert.Equal(t, renterFunds-rentCost, f.userBalance(f.renter.ID))
	assert.Equal(t, rentCost-rentNet, f.balance(models.TreasuryAccount))
	assert.Zero(t, f.balance(models.CollateralAccount(rental.ID)))

	listing, err := f.rentals.GetListing(f.ctx, f.listing.ID)
	require.NoError(t, err)
	assert.True(t, listing.Active)
	assert.Nil(t, listing.CurrentRentalID)

	_, ok, err := f.registry.HasAccess(f.ctx, f.listing.AssetID, f.renter.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int64(510), f.score(f.renter))
	assert.Equal(t, int64(510), f.score(f.holder))

	again, err := f.rentals.Complete(f.ctx, f.holder, rental.ID)
	require.NoError(t, err)
	assert.Nil(t, again.Settlement)
	assert.Equal(t, rentNet, f.userBalance(f.holder.ID))
	assert.Equal(t, int64(510), f.score(f.holder))
}

func TestCancelRental(t *testing.T) {
	f := newRentalFixture(t)
	rental := f.rent().Rental

	f.advance(1800)
	res, err := f.rentals.Cancel(f.ctx, f.renter, rental.ID, &CancelRentalRequest{Reason: "no longer needed"})
	require.NoError(t, err)

	streamed := int64(1800 * 9)
	assert.Equal(t, models.RentalStatusCancelled, res.Rental.Status)
	assert.Equal(t, "no longer needed", res.Rental.CancelReason)
	assert.Equal(t, streamed, res.Settlement.ToRecipient)
	assert.Equal(t, rentNet-streamed, res.Settlement.ToSender)

	assert.Equal(t, streamed, f.userBalance(f.holder.ID))
	assert.Equal(t, renterFunds-rentCost+rentNet-streamed, f.userBalance(f.renter.ID))
	assert.Zero(t, f.balance(models.StreamEscrowAccount(*rental.StreamID)))

	assert.Equal(t, int64(480), f.score(f.renter))
	assert.Equal(t, int64(500), f.score(f.holder))

	_, err = f.rentals.Complete(f.ctx, f.holder, rental.ID)
	assert.True(t, errors.Is(err, apperrors.ErrState))

	again, err := f.rentals.Cancel(f.ctx, f.holder, rental.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, again.Settlement)
	assert.Equal(t, int64(500), f.score(f.holder))
}

func TestRentalStreamIsSettledThroughRental(t *testing.T) {
	f := newRentalFixture(t)
	rental := f.rent().Rental

	_, err := f.engine.Cancel(f.ctx, f.renter, *rental.StreamID)
	assert.True(t, errors.Is(err, apperrors.ErrState))

	// the holder still withdraws directly
	f.advance(100)
	res, err := f.engine.Withdraw(f.ctx, f.holder, *rental.StreamID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(900), res.Paid)
}

func TestSetListingActive(t *testing.T) {
	f := newRentalFixture(t)

	_, err := f.rentals.SetListingActive(f.ctx, f.renter, f.listing.ID, false)
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization))

	paused, err := f.rentals.SetListingActive(f.ctx, f.holder, f.listing.ID, false)
	require.NoError(t, err)
	assert.False(t, paused.Active)

	_, err = f.rentals.Rent(f.ctx, f.renter, f.listing.ID, &RentRequest{Duration: rentDuration, Payment: renterFunds})
	assert.True(t, errors.Is(err, apperrors.ErrState))

	resumed, err := f.rentals.SetListingActive(f.ctx, f.holder, f.listing.ID, true)
	require.NoError(t, err)
	assert.True(t, resumed.Active)
}

func TestRequiredCollateral(t *testing.T) {
	tests := []struct {
		name                    string
		cost, listing, rep, out int64
	}{
		{"reputation dominates", 10_000, 1000, 5000, 5000},
		{"listing dominates", 10_000, 8000, 2500, 8000},
		{"clamped", 10_000, 20_000, -5, 10_000},
		{"whitelisted without floor", 10_000, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RequiredCollateral(tt.cost, tt.listing, tt.rep)
			require.NoError(t, err)
			assert.Equal(t, tt.out, got)
		})
	}
}

// internal/services/dispute_service_test.go
package services

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/store"
)

func (e *testEnv) arbiter(score int64) models.Caller {
	e.t.Helper()
	c := models.Caller{ID: uuid.New(), Role: models.RoleArbiter}
	_, err := e.reputation.SetFlags(e.ctx, c.ID, &ReputationFlagsRequest{Score: &score})
	require.NoError(e.t, err)
	return c
}

func (e *testEnv) notificationCount() int64 {
	e.t.Helper()
	_, total, err := e.notifications.List(e.ctx, store.Page{})
	require.NoError(e.t, err)
	return total
}

func (f *rentalFixture) openDispute() (*models.Rental, *models.Dispute) {
	f.t.Helper()
	rental := f.rent().Rental
	f.advance(1000)
	dispute, err := f.disputes.Open(f.ctx, f.renter, &OpenDisputeRequest{RentalID: &rental.ID, Reason: "asset unavailable"})
	require.NoError(f.t, err)
	return rental, dispute
}

func TestOpenDisputeFreezesRental(t *testing.T) {
	f := newRentalFixture(t)
	rental, dispute := f.openDispute()

	assert.Equal(t, *rental.StreamID, dispute.StreamID)
	assert.Equal(t, f.renter.ID, dispute.OpenerID)
	assert.Equal(t, testEpoch.Add(1000*time.Second+f.cfg.DisputeWindow), dispute.Deadline)

	stored, err := f.rentals.GetRental(f.ctx, f.renter, rental.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RentalStatusDisputed, stored.Status)
	assert.True(t, f.stream(*rental.StreamID).Disputed)
	assert.EqualValues(t, 1, f.notificationCount())

	_, err = f.engine.Withdraw(f.ctx, f.holder, *rental.StreamID, 0)
	assert.True(t, errors.Is(err, apperrors.ErrState))
	_, err = f.rentals.Cancel(f.ctx, f.renter, rental.ID, nil)
	assert.True(t, errors.Is(err, apperrors.ErrState))

	_, err = f.disputes.Open(f.ctx, f.holder, &OpenDisputeRequest{RentalID: &rental.ID, Reason: "again"})
	assert.True(t, errors.Is(err, apperrors.ErrState))
}

func TestOpenDisputeRequiresParty(t *testing.T) {
	f := newRentalFixture(t)
	rental := f.rent().Rental

	_, err := f.disputes.Open(f.ctx, f.user(), &OpenDisputeRequest{RentalID: &rental.ID, Reason: "not mine"})
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization))

	_, err = f.disputes.Open(f.ctx, f.renter, &OpenDisputeRequest{Reason: "no target"})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	assert.False(t, f.stream(*rental.StreamID).Disputed)
}

func TestResolveChecksResolver(t *testing.T) {
	f := newRentalFixture(t)
	_, dispute := f.openDispute()
	req := &ResolveDisputeRequest{FavorRenter: true}

	_, err := f.disputes.Resolve(f.ctx, f.user(), dispute.ID, req)
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization), "plain users cannot rule")

	lowScore := models.Caller{ID: uuid.New(), Role: models.RoleArbiter}
	_, err = f.disputes.Resolve(f.ctx, lowScore, dispute.ID, req)
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization), "default score is below the bar")

	party := models.Caller{ID: f.holder.ID, Role: models.RoleArbiter}
	score := int64(900)
	_, err = f.reputation.SetFlags(f.ctx, party.ID, &ReputationFlagsRequest{Score: &score})
	require.NoError(t, err)
	_, err = f.disputes.Resolve(f.ctx, party, dispute.ID, req)
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization), "parties cannot rule on their own dispute")
}

func TestResolveInFavorOfRenter(t *testing.T) {
	f := newRentalFixture(t)
	rental, dispute := f.openDispute()
	arbiter := f.arbiter(800)

	res, err := f.disputes.Resolve(f.ctx, arbiter, dispute.ID, &ResolveDisputeRequest{FavorRenter: true})
	require.NoError(t, err)

	assert.True(t, res.Dispute.Resolved)
	assert.Equal(t, models.DisputeOutcomeFavorRenter, res.Dispute.Outcome)
	assert.Equal(t, rentNet, res.Dispute.RefundAmount)
	assert.Equal(t, rentNet, res.Settlement.ToSender)
	assert.Zero(t, res.Settlement.ToRecipient)
	assert.Equal(t, models.SettlementResolve, res.Settlement.Kind)

	require.NotNil(t, res.Rental)
	assert.Equal(t, models.RentalStatusCompleted, res.Rental.Status)
	assert.Equal(t, models.DisputeOutcomeFavorRenter, res.Rental.Outcome)

	assert.Equal(t, renterFunds-rentCost+rentNet, f.userBalance(f.renter.ID))
	assert.Zero(t, f.userBalance(f.holder.ID))
	assert.Zero(t, f.balance(models.CollateralAccount(rental.ID)))
	assert.Zero(t, f.balance(models.StreamEscrowAccount(*rental.StreamID)))

	assert.Equal(t, int64(515), f.score(f.renter))
	assert.Equal(t, int64(450), f.score(f.holder))

	listing, err := f.rentals.GetListing(f.ctx, f.listing.ID)
	require.NoError(t, err)
	assert.True(t, listing.Active)

	again, err := f.disputes.Resolve(f.ctx, arbiter, dispute.ID, &ResolveDisputeRequest{})
	require.NoError(t, err)
	assert.Nil(t, again.Settlement)
	assert.Equal(t, models.DisputeOutcomeFavorRenter, again.Dispute.Outcome)
	assert.Equal(t, int64(515), f.score(f.renter))
}

func TestResolveInFavorOfHolderForfeitsCollateral(t *testing.T) {
	f := newRentalFixture(t)
	rental, dispute := f.openDispute()
	admin := models.Caller{ID: uuid.New(), Role: models.RoleAdmin}
	score := int64(700)
	_, err := f.reputation.SetFlags(f.ctx, admin.ID, &ReputationFlagsRequest{Score: &score})
	require.NoError(t, err)

	res, err := f.disputes.Resolve(f.ctx, admin, dispute.ID, &ResolveDisputeRequest{RefundAmount: 10_000})
	require.NoError(t, err)

	assert.Equal(t, models.DisputeOutcomeFavorHolder, res.Dispute.Outcome)
	assert.Equal(t, int64(10_000), res.Settlement.ToRecipient)
	assert.Equal(t, rentNet-10_000, res.Settlement.ToSender)

	assert.Equal(t, 10_000+rentCollateral, f.userBalance(f.holder.ID))
	assert.Equal(t, renterFunds-rentCost-rentCollateral+rentNet-10_000, f.userBalance(f.renter.ID))
	assert.Zero(t, f.balance(models.CollateralAccount(rental.ID)))

	assert.Equal(t, int64(515), f.score(f.holder))
	assert.Equal(t, int64(450), f.score(f.renter))
}

func TestDisputeOnStandaloneStream(t *testing.T) {
	env := newTestEnv(t)
	sender, recipient := env.user(), env.user()
	s := env.openStream(sender, recipient, grossTotal, 1000, nil)
	env.advance(200)

	dispute, err := env.disputes.Open(env.ctx, recipient, &OpenDisputeRequest{StreamID: &s.ID, Reason: "work rejected"})
	require.NoError(t, err)
	assert.Nil(t, dispute.RentalID)

	res, err := env.disputes.Resolve(env.ctx, env.arbiter(750), dispute.ID, &ResolveDisputeRequest{})
	require.NoError(t, err)
	assert.Nil(t, res.Rental)
	assert.Equal(t, 975*token, res.Settlement.ToRecipient)
	assert.Equal(t, 975*token, env.userBalance(recipient.ID))
	assert.True(t, env.stream(s.ID).Finalized)

	// the archived receipt is written for arbitration too
	assert.NotEmpty(t, env.archiver.get(ReceiptKey(s.ID)))
}

func TestSweepOverdueEscalatesOnce(t *testing.T) {
	f := newRentalFixture(t)
	_, dispute := f.openDispute()

	n, err := f.disputes.SweepOverdue(f.ctx, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(f.cfg.DisputeWindow + time.Hour)
	n, err = f.disputes.SweepOverdue(f.ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 2, f.notificationCount())

	n, err = f.disputes.SweepOverdue(f.ctx, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := f.store.Disputes().Get(f.ctx, dispute.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.EscalatedAt)
	assert.False(t, stored.Resolved)
}

// internal/services/rental_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/clock"
	"github.com/javajoker/asset-rental-backend/internal/config"
	"github.com/javajoker/asset-rental-backend/internal/lock"
	"github.com/javajoker/asset-rental-backend/internal/metrics"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/store"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

// RentalService runs the listing and rental lifecycle on top of the stream engine.
type RentalService struct {
	store      store.Store
	locker     *lock.Locker
	clock      clock.Clock
	engine     *StreamEngine
	collateral *CollateralPolicy
	registry   AssetRegistry
	prices     PriceOracle
	recorder   ReputationRecorder
	cfg        config.MarketplaceConfig
}

type ListAssetRequest struct {
	AssetID          string     `json:"asset_id" validate:"required,max=255"`
	PricePerSecond   int64      `json:"price_per_second" validate:"gte=0"`
	MinDuration      int64      `json:"min_duration" validate:"required,gt=0"`
	MaxDuration      int64      `json:"max_duration" validate:"required,gt=0"`
	CollateralBP     int64      `json:"collateral_bp" validate:"bp"`
	RoyaltyRecipient *uuid.UUID `json:"royalty_recipient,omitempty"`
}

type RentRequest struct {
	Duration int64 `json:"duration" validate:"required,gt=0"`
	Payment  int64 `json:"payment" validate:"required,gt=0"`
}

type CancelRentalRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type QuoteResult struct {
	ListingID      uuid.UUID `json:"listing_id"`
	Duration       int64     `json:"duration"`
	PricePerSecond int64     `json:"price_per_second"`
	Cost           int64     `json:"cost"`
	Collateral     int64     `json:"collateral"`
	Total          int64     `json:"total"`
}

type RentalResult struct {
	Rental     *models.Rental     `json:"rental"`
	Stream     *models.Stream     `json:"stream,omitempty"`
	Settlement *models.Settlement `json:"settlement,omitempty"`
}

func NewRentalService(
	st store.Store,
	locker *lock.Locker,
	clk clock.Clock,
	engine *StreamEngine,
	collateral *CollateralPolicy,
	registry AssetRegistry,
	prices PriceOracle,
	recorder ReputationRecorder,
	cfg config.MarketplaceConfig,
) *RentalService {
	return &RentalService{
		store:      st,
		locker:     locker,
		clock:      clk,
		engine:     engine,
		collateral: collateral,
		registry:   registry,
		prices:     prices,
		recorder:   recorder,
		cfg:        cfg,
	}
}

func (s *RentalService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

func (s *RentalService) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return callCollaborator(ctx, s.cfg.CollaboratorTimeout, name, fn)
}

// ListAsset publishes a listing for an asset the caller owns. A zero price
// asks the price oracle for one.
func (s *RentalService) ListAsset(ctx context.Context, caller models.Caller, req *ListAssetRequest) (*models.Listing, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}
	if req.MinDuration > req.MaxDuration {
		return nil, apperrors.Validation("min duration must not exceed max duration")
	}
	if req.MinDuration < s.cfg.StreamMinDuration || req.MaxDuration > s.cfg.StreamMaxDuration {
		return nil, apperrors.Validation("durations must be within [%d, %d] seconds", s.cfg.StreamMinDuration, s.cfg.StreamMaxDuration)
	}

	var owner uuid.UUID
	if err := s.call(ctx, "registry", func(ctx context.Context) error {
		var err error
		owner, err = s.registry.OwnerOf(ctx, req.AssetID)
		return err
	}); err != nil {
		return nil, err
	}
	if owner != caller.ID {
		return nil, apperrors.Unauthorized("caller does not own asset %s", req.AssetID)
	}

	price := req.PricePerSecond
	if price == 0 {
		if err := s.call(ctx, "price_oracle", func(ctx context.Context) error {
			var err error
			price, err = s.prices.Estimate(ctx, req.AssetID)
			return err
		}); err != nil {
			return nil, err
		}
	}
	if price < s.cfg.MinPricePerSecond || price > s.cfg.MaxPricePerSecond {
		return nil, apperrors.Validation("price per second %d is outside [%d, %d]", price, s.cfg.MinPricePerSecond, s.cfg.MaxPricePerSecond)
	}

	var timed bool
	if err := s.call(ctx, "registry", func(ctx context.Context) error {
		var err error
		timed, err = s.registry.SupportsTimedAccess(ctx, req.AssetID)
		return err
	}); err != nil {
		return nil, err
	}

	existing, _, err := s.store.Listings().List(ctx, store.ListingFilter{AssetID: req.AssetID}, store.Page{Page: 1, Limit: 100})
	if err != nil {
		return nil, err
	}
	for _, l := range existing {
		if l.Active || l.CurrentRentalID != nil {
			return nil, apperrors.State("asset %s already has an open listing", req.AssetID)
		}
	}

	listing := &models.Listing{
		AssetID:          req.AssetID,
		HolderID:         caller.ID,
		PricePerSecond:   price,
		MinDuration:      req.MinDuration,
		MaxDuration:      req.MaxDuration,
		CollateralBP:     req.CollateralBP,
		RoyaltyRecipient: req.RoyaltyRecipient,
		TimedAccess:      timed,
		Active:           true,
	}
	if err := s.store.Listings().Create(ctx, listing); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"listing_id":   listing.ID,
		"asset_id":     listing.AssetID,
		"holder_id":    listing.HolderID,
		"price":        listing.PricePerSecond,
		"timed_access": timed,
	}).Info("Asset listed")

	return listing, nil
}

func (s *RentalService) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return s.store.Listings().Get(ctx, id)
}

func (s *RentalService) ListListings(ctx context.Context, filter store.ListingFilter, page store.Page) ([]*models.Listing, int64, error) {
	return s.store.Listings().List(ctx, filter, page)
}

// SetListingActive pauses or resumes an idle listing.
func (s *RentalService) SetListingActive(ctx context.Context, caller models.Caller, id uuid.UUID, active bool) (*models.Listing, error) {
	ctx, release, err := s.locker.Acquire(ctx, listingKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	listing, err := s.store.Listings().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.HolderID != caller.ID && caller.Role != models.RoleAdmin {
		return nil, apperrors.Unauthorized("only the holder may change this listing")
	}
	if listing.CurrentRentalID != nil {
		return nil, apperrors.State("listing %s is rented out", id)
	}

	if active && !listing.Active {
		var owner uuid.UUID
		if err := s.call(ctx, "registry", func(ctx context.Context) error {
			var err error
			owner, err = s.registry.OwnerOf(ctx, listing.AssetID)
			return err
		}); err != nil {
			return nil, err
		}
		if owner != listing.HolderID {
			return nil, apperrors.State("holder no longer owns asset %s", listing.AssetID)
		}
	}

	listing.Active = active
	if err := s.store.Listings().Update(ctx, listing); err != nil {
		return nil, err
	}
	return listing, nil
}

func (s *RentalService) checkRentable(listing *models.Listing, renter uuid.UUID, duration int64) error {
	if !listing.Active || listing.CurrentRentalID != nil {
		return apperrors.State("listing %s is not available", listing.ID)
	}
	if listing.HolderID == renter {
		return apperrors.Validation("holder cannot rent their own listing")
	}
	if duration < listing.MinDuration || duration > listing.MaxDuration {
		return apperrors.Validation("duration %ds is outside [%d, %d]", duration, listing.MinDuration, listing.MaxDuration)
	}
	return nil
}

// Quote prices a prospective rental for the caller.
func (s *RentalService) Quote(ctx context.Context, caller models.Caller, listingID uuid.UUID, duration int64) (*QuoteResult, error) {
	listing, err := s.store.Listings().Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRentable(listing, caller.ID, duration); err != nil {
		return nil, err
	}
	return s.quote(ctx, listing, caller.ID, duration)
}

func (s *RentalService) quote(ctx context.Context, listing *models.Listing, renter uuid.UUID, duration int64) (*QuoteResult, error) {
	cost, err := utils.MulChecked(listing.PricePerSecond, duration)
	if err != nil {
		return nil, err
	}
	collateral, err := s.collateral.Required(ctx, renter, cost, listing.CollateralBP)
	if err != nil {
		return nil, err
	}
	total, err := utils.AddChecked(cost, collateral)
	if err != nil {
		return nil, err
	}
	return &QuoteResult{
		ListingID:      listing.ID,
		Duration:       duration,
		PricePerSecond: listing.PricePerSecond,
		Cost:           cost,
		Collateral:     collateral,
		Total:          total,
	}, nil
}

// transition moves a rental through the lifecycle and appends the event.
// A rental without a status is created.
func (s *RentalService) transition(ctx context.Context, tx store.Store, rental *models.Rental, to models.RentalStatus, actor *uuid.UUID, note string) error {
	from := rental.Status
	if from != "" && !models.CanTransition(from, to) {
		return apperrors.State("rental %s cannot move from %s to %s", rental.ID, from, to)
	}

	rental.Status = to
	if from == "" {
		if err := tx.Rentals().Create(ctx, rental); err != nil {
			return err
		}
	} else if err := tx.Rentals().Update(ctx, rental); err != nil {
		return err
	}

	if err := tx.Rentals().AppendEvent(ctx, &models.RentalEvent{
		RentalID:   rental.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actor,
		Note:       note,
	}); err != nil {
		return err
	}

	metrics.RecordRentalTransition(string(from), string(to))
	return nil
}

func actorOf(caller models.Caller) *uuid.UUID {
	if caller.ID == uuid.Nil {
		return nil
	}
	id := caller.ID
	return &id
}

// Rent opens a rental: the cost is streamed to the holder, collateral is
// escrowed and timed access is granted, all or nothing.
func (s *RentalService) Rent(ctx context.Context, caller models.Caller, listingID uuid.UUID, req *RentRequest) (*RentalResult, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}

	ctx, release, err := s.locker.Acquire(ctx, listingKey(listingID))
	if err != nil {
		return nil, err
	}
	defer release()

	listing, err := s.store.Listings().Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRentable(listing, caller.ID, req.Duration); err != nil {
		return nil, err
	}

	// the reputation oracle is consulted before any funds move
	q, err := s.quote(ctx, listing, caller.ID, req.Duration)
	if err != nil {
		return nil, err
	}
	if req.Payment < q.Total {
		return nil, apperrors.InsufficientFunds("payment %d does not cover cost %d plus collateral %d", req.Payment, q.Cost, q.Collateral)
	}

	var (
		result  *RentalResult
		granted bool
	)
	err = s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		listing, err := tx.Listings().Get(ctx, listingID)
		if err != nil {
			return err
		}
		if err := s.checkRentable(listing, caller.ID, req.Duration); err != nil {
			return err
		}

		rental := &models.Rental{
			ListingID:        listing.ID,
			AssetID:          listing.AssetID,
			HolderID:         listing.HolderID,
			RenterID:         caller.ID,
			PricePerSecond:   listing.PricePerSecond,
			RentalCost:       q.Cost,
			CollateralAmount: q.Collateral,
			TimedAccess:      listing.TimedAccess,
		}
		rental.EnsureID()
		if err := s.transition(ctx, tx, rental, models.RentalStatusListed, actorOf(caller), ""); err != nil {
			return err
		}

		stream, err := s.engine.OpenTx(ctx, tx, OpenStreamParams{
			Sender:           caller.ID,
			Recipient:        listing.HolderID,
			GrossDeposit:     q.Cost,
			Duration:         req.Duration,
			RoyaltyRecipient: listing.RoyaltyRecipient,
			RentalID:         &rental.ID,
		})
		if err != nil {
			return err
		}

		if q.Collateral > 0 {
			ref := fmt.Sprintf("rental:%s:collateral", rental.ID)
			if err := tx.Ledger().Transfer(ctx, models.UserAccount(caller.ID), models.CollateralAccount(rental.ID), q.Collateral, models.LedgerEntryCollateral, ref); err != nil {
				return err
			}
		}

		rental.StreamID = &stream.ID
		rental.StartTime = stream.StartTime
		rental.EndTime = stream.StopTime
		if err := s.transition(ctx, tx, rental, models.RentalStatusRented, actorOf(caller), ""); err != nil {
			return err
		}

		listing.Active = false
		listing.CurrentRentalID = &rental.ID
		if err := tx.Listings().Update(ctx, listing); err != nil {
			return err
		}

		if listing.TimedAccess {
			if err := s.call(ctx, "registry", func(ctx context.Context) error {
				return s.registry.GrantAccess(ctx, listing.AssetID, caller.ID, rental.EndTime)
			}); err != nil {
				return err
			}
			granted = true
		}

		if err := s.transition(ctx, tx, rental, models.RentalStatusActive, actorOf(caller), ""); err != nil {
			return err
		}

		result = &RentalResult{Rental: rental, Stream: stream}
		return nil
	})
	if err != nil {
		if granted && !joinsTransaction(s.registry) {
			s.revokeAfterFailure(ctx, listing.AssetID)
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"rental_id":  result.Rental.ID,
		"listing_id": listingID,
		"renter_id":  caller.ID,
		"stream_id":  result.Stream.ID,
		"cost":       q.Cost,
		"collateral": q.Collateral,
	}).Info("Rental started")

	return result, nil
}

func joinsTransaction(registry AssetRegistry) bool {
	tr, ok := registry.(interface{ JoinsTransaction() bool })
	return ok && tr.JoinsTransaction()
}

// revokeAfterFailure undoes a grant issued by a registry that does not share
// the store's transaction.
func (s *RentalService) revokeAfterFailure(ctx context.Context, assetID string) {
	if err := s.call(ctx, "registry", func(ctx context.Context) error {
		return s.registry.RevokeAccess(ctx, assetID)
	}); err != nil {
		logrus.WithError(err).WithField("asset_id", assetID).Error("Failed to revoke access after aborted rental")
	}
}

// LockKeys lists the locks guarding a rental in acquisition order.
func LockKeys(rental *models.Rental) []string {
	keys := []string{listingKey(rental.ListingID), rentalKey(rental.ID)}
	if rental.StreamID != nil {
		keys = append(keys, streamKey(*rental.StreamID))
	}
	return keys
}

func (s *RentalService) lockRental(ctx context.Context, rentalID uuid.UUID) (context.Context, func(), error) {
	rental, err := s.store.Rentals().Get(ctx, rentalID)
	if err != nil {
		return ctx, func() {}, err
	}
	return s.locker.AcquireAll(ctx, LockKeys(rental)...)
}

type closeParams struct {
	status       models.RentalStatus
	actor        *uuid.UUID
	note         string
	forfeit      bool // collateral goes to the holder
	outcome      models.DisputeOutcome
	cancelReason string
}

// closeTx ends an active or disputed rental after its stream was settled:
// the rental and listing are updated first, then collateral moves and access
// is revoked.
func (s *RentalService) closeTx(ctx context.Context, tx store.Store, rental *models.Rental, p closeParams) error {
	release := !rental.CollateralReleased && rental.CollateralAmount > 0
	rental.CollateralReleased = true
	rental.Outcome = p.outcome
	if p.status == models.RentalStatusCancelled {
		rental.CancelReason = p.cancelReason
		rental.CancelledBy = p.actor
	}
	if err := s.transition(ctx, tx, rental, p.status, p.actor, p.note); err != nil {
		return err
	}

	listing, err := tx.Listings().Get(ctx, rental.ListingID)
	if err != nil {
		return err
	}
	if listing.CurrentRentalID != nil && *listing.CurrentRentalID == rental.ID {
		listing.CurrentRentalID = nil
		listing.Active = true
		if err := tx.Listings().Update(ctx, listing); err != nil {
			return err
		}
	}

	if release {
		to, kind := models.UserAccount(rental.RenterID), models.LedgerEntryRefund
		if p.forfeit {
			to, kind = models.UserAccount(rental.HolderID), models.LedgerEntryForfeit
		}
		ref := fmt.Sprintf("rental:%s:collateral:%s", rental.ID, kind)
		if err := tx.Ledger().Transfer(ctx, models.CollateralAccount(rental.ID), to, rental.CollateralAmount, kind, ref); err != nil {
			return err
		}
	}

	if rental.TimedAccess {
		if err := s.call(ctx, "registry", func(ctx context.Context) error {
			return s.registry.RevokeAccess(ctx, rental.AssetID)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Complete finalizes a rental whose term has ended. Completing it again is a no-op.
func (s *RentalService) Complete(ctx context.Context, caller models.Caller, rentalID uuid.UUID) (*RentalResult, error) {
	ctx, release, err := s.lockRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		result  = &RentalResult{}
		settled bool
	)
	err = s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		rental, err := tx.Rentals().Get(ctx, rentalID)
		if err != nil {
			return err
		}
		if !rental.IsParty(caller.ID) && !caller.IsOrchestrator() {
			return apperrors.Unauthorized("caller may not complete rental %s", rentalID)
		}
		result.Rental = rental
		if rental.Status == models.RentalStatusCompleted {
			return nil
		}
		if rental.Status != models.RentalStatusActive {
			return apperrors.State("rental %s is %s", rentalID, rental.Status)
		}
		if s.now().Before(rental.EndTime) {
			return apperrors.State("rental %s runs until %s", rentalID, rental.EndTime.Format(time.RFC3339))
		}

		result.Settlement, settled, err = s.engine.FinalizeTx(ctx, tx, *rental.StreamID)
		if err != nil {
			return err
		}
		return s.closeTx(ctx, tx, rental, closeParams{status: models.RentalStatusCompleted, actor: actorOf(caller)})
	})
	if err != nil {
		return nil, err
	}

	if settled {
		s.engine.ArchiveReceipt(ctx, result.Settlement)
		s.recordOutcome(ctx, result.Rental.RenterID, OutcomeRentalCompleted)
		s.recordOutcome(ctx, result.Rental.HolderID, OutcomeRentalCompleted)

		logrus.WithFields(logrus.Fields{
			"rental_id": rentalID,
			"caller_id": caller.ID,
		}).Info("Rental completed")
	}
	return result, nil
}

// Cancel ends an active rental early. The holder keeps what streamed so
// far, the renter gets the rest of the escrow and the collateral back.
func (s *RentalService) Cancel(ctx context.Context, caller models.Caller, rentalID uuid.UUID, req *CancelRentalRequest) (*RentalResult, error) {
	if req == nil {
		req = &CancelRentalRequest{}
	}
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}

	ctx, release, err := s.lockRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		result  = &RentalResult{}
		settled bool
	)
	err = s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		rental, err := tx.Rentals().Get(ctx, rentalID)
		if err != nil {
			return err
		}
		if !rental.IsParty(caller.ID) && !caller.IsOrchestrator() {
			return apperrors.Unauthorized("caller may not cancel rental %s", rentalID)
		}
		result.Rental = rental
		if rental.Status == models.RentalStatusCancelled {
			return nil
		}
		if rental.Status != models.RentalStatusActive {
			return apperrors.State("rental %s is %s", rentalID, rental.Status)
		}

		result.Settlement, settled, err = s.engine.CancelTx(ctx, tx, *rental.StreamID)
		if err != nil {
			return err
		}
		return s.closeTx(ctx, tx, rental, closeParams{
			status:       models.RentalStatusCancelled,
			actor:        actorOf(caller),
			cancelReason: req.Reason,
		})
	})
	if err != nil {
		return nil, err
	}

	if settled {
		s.engine.ArchiveReceipt(ctx, result.Settlement)
		if result.Rental.IsParty(caller.ID) {
			s.recordOutcome(ctx, caller.ID, OutcomeCancelledEarly)
		}

		logrus.WithFields(logrus.Fields{
			"rental_id":    rentalID,
			"caller_id":    caller.ID,
			"to_holder":    result.Settlement.ToRecipient,
			"to_renter":    result.Settlement.ToSender,
			"collateral":   result.Rental.CollateralAmount,
			"cancel_cause": req.Reason,
		}).Info("Rental cancelled")
	}
	return result, nil
}

// recordOutcome reports to the reputation oracle. Failures never undo a
// committed rental.
func (s *RentalService) recordOutcome(ctx context.Context, user uuid.UUID, outcome ReputationOutcome) {
	if s.recorder == nil {
		return
	}
	if err := s.call(ctx, "reputation", func(ctx context.Context) error {
		return s.recorder.RecordOutcome(ctx, user, outcome)
	}); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id": user,
			"outcome": outcome,
		}).Warn("Failed to record reputation outcome")
	}
}

func (s *RentalService) GetRental(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Rental, error) {
	rental, err := s.store.Rentals().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(caller, rental.IsParty(caller.ID)) {
		return nil, apperrors.Unauthorized("caller is not a party to rental %s", id)
	}
	return rental, nil
}

func (s *RentalService) ListRentals(ctx context.Context, caller models.Caller, status models.RentalStatus, page store.Page) ([]*models.Rental, int64, error) {
	filter := store.RentalFilter{Status: status}
	if !caller.IsOrchestrator() && caller.Role != models.RoleArbiter {
		filter.PartyID = &caller.ID
	}
	return s.store.Rentals().List(ctx, filter, page)
}

func (s *RentalService) Events(ctx context.Context, caller models.Caller, id uuid.UUID, page store.Page) ([]models.RentalEvent, int64, error) {
	if _, err := s.GetRental(ctx, caller, id); err != nil {
		return nil, 0, err
	}
	return s.store.Rentals().Events(ctx, id, page)
}

// internal/services/stream_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
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

func streamKey(id uuid.UUID) string  { return "stream:" + id.String() }
func rentalKey(id uuid.UUID) string  { return "rental:" + id.String() }
func listingKey(id uuid.UUID) string { return "listing:" + id.String() }

// StreamEngine owns the escrowed streaming payments. Public methods take the
// stream lock themselves; the *Tx helpers expect the caller to hold it and to
// pass the transactional store.
type StreamEngine struct {
	store    store.Store
	locker   *lock.Locker
	clock    clock.Clock
	fees     *FeeSplitter
	archiver ReceiptArchiver
	cfg      config.MarketplaceConfig
}

type OpenStreamParams struct {
	Sender       uuid.UUID
	Recipient    uuid.UUID
	GrossDeposit int64
	// Start defaults to now. Stop defaults to Start + Duration seconds.
	Start            time.Time
	Stop             time.Time
	Duration         int64
	RoyaltyRecipient *uuid.UUID
	Milestones       []int64
	RentalID         *uuid.UUID
}

type OpenStreamRequest struct {
	RecipientID      uuid.UUID  `json:"recipient_id" validate:"required"`
	GrossDeposit     int64      `json:"gross_deposit" validate:"required,gt=0"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	Duration         int64      `json:"duration" validate:"required,gt=0"`
	RoyaltyRecipient *uuid.UUID `json:"royalty_recipient,omitempty"`
	Milestones       []int64    `json:"milestones,omitempty" validate:"omitempty,dive,gt=0"`
}

type WithdrawRequest struct {
	Amount int64 `json:"amount" validate:"gte=0"`
}

type WithdrawResult struct {
	Stream *models.Stream `json:"stream"`
	Paid   int64          `json:"paid"`
}

type BalanceResult struct {
	StreamID  uuid.UUID `json:"stream_id"`
	At        time.Time `json:"at"`
	Accrued   int64     `json:"accrued"`
	Remaining int64     `json:"remaining"`
	Withdrawn int64     `json:"withdrawn"`
}

// SettlementReceipt is the archived record of a terminal stream payout.
type SettlementReceipt struct {
	StreamID         uuid.UUID             `json:"stream_id"`
	RentalID         *uuid.UUID            `json:"rental_id,omitempty"`
	Kind             models.SettlementKind `json:"kind"`
	Sender           uuid.UUID             `json:"sender"`
	Recipient        uuid.UUID             `json:"recipient"`
	GrossDeposit     int64                 `json:"gross_deposit"`
	NetDeposit       int64                 `json:"net_deposit"`
	ToRecipient      int64                 `json:"to_recipient"`
	ToSender         int64                 `json:"to_sender"`
	PlatformFee      int64                 `json:"platform_fee"`
	Royalty          int64                 `json:"royalty"`
	RoyaltyRecipient *uuid.UUID            `json:"royalty_recipient,omitempty"`
	SettledAt        int64                 `json:"settled_at"`
}

func NewStreamEngine(st store.Store, locker *lock.Locker, clk clock.Clock, fees *FeeSplitter, archiver ReceiptArchiver, cfg config.MarketplaceConfig) *StreamEngine {
	return &StreamEngine{
		store:    st,
		locker:   locker,
		clock:    clk,
		fees:     fees,
		archiver: archiver,
		cfg:      cfg,
	}
}

func (e *StreamEngine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Second)
}

// ParamsFromRequest turns an HTTP request into engine parameters for sender.
func (e *StreamEngine) ParamsFromRequest(sender uuid.UUID, req *OpenStreamRequest) (OpenStreamParams, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return OpenStreamParams{}, err
	}

	params := OpenStreamParams{
		Sender:           sender,
		Recipient:        req.RecipientID,
		GrossDeposit:     req.GrossDeposit,
		Duration:         req.Duration,
		RoyaltyRecipient: req.RoyaltyRecipient,
		Milestones:       req.Milestones,
	}
	if req.StartTime != nil {
		params.Start = *req.StartTime
	}
	return params, nil
}

// Open escrows the sender's deposit and starts a stream.
func (e *StreamEngine) Open(ctx context.Context, caller models.Caller, params OpenStreamParams) (*models.Stream, error) {
	if caller.ID != params.Sender && !caller.IsOrchestrator() {
		return nil, apperrors.Unauthorized("only the sender may fund a stream")
	}

	var stream *models.Stream
	err := e.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		stream, err = e.OpenTx(ctx, tx, params)
		return err
	})
	metrics.RecordStreamOperation("open", err)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"stream_id":    stream.ID,
		"sender_id":    stream.SenderID,
		"recipient_id": stream.RecipientID,
		"gross":        stream.GrossDeposit,
		"net":          stream.NetDeposit,
		"rate":         stream.RatePerSecond,
	}).Info("Stream opened")

	return stream, nil
}

// OpenTx validates params, records the stream and moves the gross deposit
// from the sender into the stream escrow.
func (e *StreamEngine) OpenTx(ctx context.Context, tx store.Store, params OpenStreamParams) (*models.Stream, error) {
	stream, err := e.prepare(params)
	if err != nil {
		return nil, err
	}

	stream.EnsureID()
	if err := tx.Streams().Create(ctx, stream); err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	ref := fmt.Sprintf("stream:%s:open", stream.ID)
	if err := tx.Ledger().Transfer(ctx, models.UserAccount(stream.SenderID), models.StreamEscrowAccount(stream.ID), stream.GrossDeposit, models.LedgerEntryEscrow, ref); err != nil {
		return nil, err
	}

	return stream, nil
}

func (e *StreamEngine) prepare(p OpenStreamParams) (*models.Stream, error) {
	if p.Sender == uuid.Nil || p.Recipient == uuid.Nil {
		return nil, apperrors.Validation("sender and recipient are required")
	}
	if p.Sender == p.Recipient {
		return nil, apperrors.Validation("sender and recipient must differ")
	}
	if p.GrossDeposit <= 0 {
		return nil, apperrors.Validation("gross deposit must be positive")
	}

	start := p.Start.UTC().Truncate(time.Second)
	if p.Start.IsZero() {
		start = e.now()
	}
	stop := p.Stop.UTC().Truncate(time.Second)
	if p.Stop.IsZero() && p.Duration > 0 {
		stop = start.Add(time.Duration(p.Duration) * time.Second)
	}
	if !stop.After(start) {
		return nil, apperrors.Validation("stop time must be after start time")
	}
	if start.Before(e.now()) {
		return nil, apperrors.Validation("start time must not be in the past")
	}

	duration := stop.Unix() - start.Unix()
	if duration < e.cfg.StreamMinDuration || duration > e.cfg.StreamMaxDuration {
		return nil, apperrors.Validation("duration %ds is outside [%d, %d]", duration, e.cfg.StreamMinDuration, e.cfg.StreamMaxDuration)
	}

	minDeposit, err := utils.MulChecked(duration, e.cfg.MinRatePerSecond)
	if err != nil {
		return nil, err
	}
	if p.GrossDeposit < minDeposit {
		return nil, apperrors.Validation("gross deposit %d is below the minimum %d for %ds", p.GrossDeposit, minDeposit, duration)
	}

	split, err := e.fees.Split(p.GrossDeposit, p.RoyaltyRecipient != nil)
	if err != nil {
		return nil, err
	}

	rate := split.Net / duration
	if rate == 0 {
		return nil, apperrors.WithCode(apperrors.ErrRateTooLow, "net %d over %ds", split.Net, duration)
	}

	if err := validateMilestones(p.Milestones, split.Net); err != nil {
		return nil, err
	}

	stream := &models.Stream{
		SenderID:         p.Sender,
		RecipientID:      p.Recipient,
		RentalID:         p.RentalID,
		GrossDeposit:     p.GrossDeposit,
		NetDeposit:       split.Net,
		RatePerSecond:    rate,
		StartTime:        start,
		StopTime:         stop,
		RemainingBalance: split.Net,
		Active:           true,
		PlatformFee:      split.Fee,
		RoyaltyAmount:    split.Royalty,
		RoyaltyRecipient: p.RoyaltyRecipient,
	}
	if len(p.Milestones) > 0 {
		stream.Milestones = append(pq.Int64Array(nil), p.Milestones...)
	}
	return stream, nil
}

func validateMilestones(milestones []int64, net int64) error {
	var prev int64
	for i, m := range milestones {
		if m <= prev {
			return apperrors.WithCode(apperrors.ErrInvalidMilestone, "milestone %d (%d) does not exceed %d", i, m, prev)
		}
		if m > net {
			return apperrors.WithCode(apperrors.ErrInvalidMilestone, "milestone %d (%d) exceeds net deposit %d", i, m, net)
		}
		prev = m
	}
	return nil
}

// milestoneCap is the cumulative amount releasable before the next milestone
// is reached. ok is false once every milestone has passed.
func milestoneCap(s *models.Stream) (int64, bool) {
	if s.CurrentMilestone < len(s.Milestones) {
		return s.Milestones[s.CurrentMilestone], true
	}
	return 0, false
}

// Accrued is the amount the recipient may take out at now.
func Accrued(s *models.Stream, now time.Time) int64 {
	if !now.After(s.StartTime) {
		return 0
	}
	if !now.Before(s.StopTime) {
		return s.RemainingBalance
	}

	elapsed := now.Unix() - s.StartTime.Unix()
	streamed := elapsed * s.RatePerSecond // elapsed < duration, so this stays below net
	if limit, ok := milestoneCap(s); ok && streamed > limit {
		streamed = limit
	}

	available := streamed - s.TotalWithdrawn
	if available < 0 {
		return 0
	}
	if available > s.RemainingBalance {
		return s.RemainingBalance
	}
	return available
}

func advanceMilestones(s *models.Stream) {
	for s.CurrentMilestone < len(s.Milestones) && s.TotalWithdrawn >= s.Milestones[s.CurrentMilestone] {
		s.CurrentMilestone++
	}
}

func (e *StreamEngine) Get(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Stream, error) {
	stream, err := e.store.Streams().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(caller, stream.IsParty(caller.ID)) {
		return nil, apperrors.Unauthorized("caller is not a party to stream %s", id)
	}
	return stream, nil
}

func (e *StreamEngine) List(ctx context.Context, caller models.Caller, page store.Page) ([]*models.Stream, int64, error) {
	filter := store.StreamFilter{}
	if !caller.IsOrchestrator() && caller.Role != models.RoleArbiter {
		filter.PartyID = &caller.ID
	}
	return e.store.Streams().List(ctx, filter, page)
}

func (e *StreamEngine) Settlement(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Settlement, error) {
	if _, err := e.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	return e.store.Streams().GetSettlement(ctx, id)
}

// AccruedBalance reports the withdrawable amount at the given instant.
func (e *StreamEngine) AccruedBalance(ctx context.Context, id uuid.UUID, now time.Time) (*BalanceResult, error) {
	stream, err := e.store.Streams().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	return &BalanceResult{
		StreamID:  stream.ID,
		At:        now,
		Accrued:   Accrued(stream, now),
		Remaining: stream.RemainingBalance,
		Withdrawn: stream.TotalWithdrawn,
	}, nil
}

// lockStream takes the per-stream lock. A call chain that already holds it
// gets apperrors.ErrReentrant.
func (e *StreamEngine) lockStream(ctx context.Context, id uuid.UUID) (context.Context, func(), error) {
	return e.locker.Acquire(ctx, streamKey(id))
}

func requireHeld(ctx context.Context, key string) error {
	if !lock.Holds(ctx, key) {
		return apperrors.State("%s must be locked by the caller", key)
	}
	return nil
}

func checkOpen(s *models.Stream) error {
	if s.Finalized || !s.Active {
		return apperrors.State("stream %s is closed", s.ID)
	}
	if s.Disputed {
		return apperrors.State("stream %s is frozen by a dispute", s.ID)
	}
	return nil
}

// Withdraw pays the recipient min(amount, accrued). Zero means everything accrued.
func (e *StreamEngine) Withdraw(ctx context.Context, caller models.Caller, id uuid.UUID, amount int64) (*WithdrawResult, error) {
	if amount < 0 {
		return nil, apperrors.Validation("amount must not be negative")
	}

	ctx, release, err := e.lockStream(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *WithdrawResult
	err = e.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		stream, err := tx.Streams().Get(ctx, id)
		if err != nil {
			return err
		}
		if caller.ID != stream.RecipientID {
			return apperrors.Unauthorized("only the recipient may withdraw")
		}
		if err := checkOpen(stream); err != nil {
			return err
		}

		available := Accrued(stream, e.now())
		if available == 0 {
			return apperrors.WithCode(apperrors.ErrNothingToWithdraw, "stream %s", id)
		}

		pay := available
		if amount > 0 && amount < pay {
			pay = amount
		}

		paid, err := e.payOutTx(ctx, tx, stream, pay, "withdraw")
		if err != nil {
			return err
		}
		result = &WithdrawResult{Stream: stream, Paid: paid}
		return nil
	})
	metrics.RecordStreamOperation("withdraw", err)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"stream_id": id,
		"paid":      result.Paid,
		"remaining": result.Stream.RemainingBalance,
		"milestone": result.Stream.CurrentMilestone,
	}).Info("Stream withdrawal")

	return result, nil
}

// payOutTx moves pay from the stream to its recipient. State is saved before
// the ledger transfer.
func (e *StreamEngine) payOutTx(ctx context.Context, tx store.Store, stream *models.Stream, pay int64, op string) (int64, error) {
	if pay > stream.RemainingBalance {
		pay = stream.RemainingBalance
	}
	if pay <= 0 {
		return 0, nil
	}

	stream.RemainingBalance -= pay
	stream.TotalWithdrawn += pay
	advanceMilestones(stream)
	if err := tx.Streams().Update(ctx, stream); err != nil {
		return 0, fmt.Errorf("failed to update stream: %w", err)
	}

	ref := fmt.Sprintf("stream:%s:%s:%d", stream.ID, op, stream.TotalWithdrawn)
	if err := tx.Ledger().Transfer(ctx, models.StreamEscrowAccount(stream.ID), models.UserAccount(stream.RecipientID), pay, models.LedgerEntryWithdrawal, ref); err != nil {
		return 0, err
	}
	metrics.RecordPayout("recipient", pay)
	return pay, nil
}

// ApproveMilestone unlocks the next milestone once its condition is met out of band.
func (e *StreamEngine) ApproveMilestone(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Stream, error) {
	ctx, release, err := e.lockStream(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var stream *models.Stream
	err = e.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		stream, err = tx.Streams().Get(ctx, id)
		if err != nil {
			return err
		}
		if caller.ID != stream.SenderID && !caller.IsOrchestrator() {
			return apperrors.Unauthorized("only the sender or an operator may approve milestones")
		}
		if err := checkOpen(stream); err != nil {
			return err
		}
		if stream.CurrentMilestone >= len(stream.Milestones) {
			return apperrors.State("stream %s has no pending milestone", id)
		}

		stream.CurrentMilestone++
		return tx.Streams().Update(ctx, stream)
	})
	metrics.RecordStreamOperation("approve_milestone", err)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"stream_id": id,
		"milestone": stream.CurrentMilestone,
		"caller_id": caller.ID,
	}).Info("Stream milestone approved")

	return stream, nil
}

// AutoRelease pays out whatever has accrued. It is a no-op while the release
// interval has not elapsed, when nothing accrued, or on closed and frozen streams.
func (e *StreamEngine) AutoRelease(ctx context.Context, id uuid.UUID) (int64, error) {
	ctx, release, err := e.lockStream(ctx, id)
	if err != nil {
		return 0, err
	}
	defer release()

	var paid int64
	err = e.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		stream, err := tx.Streams().Get(ctx, id)
		if err != nil {
			return err
		}
		if checkOpen(stream) != nil {
			return nil
		}

		now := e.now()
		if stream.LastAutoRelease != nil && now.Sub(*stream.LastAutoRelease) < e.cfg.AutoReleaseInterval {
			return nil
		}

		available := Accrued(stream, now)
		if available == 0 {
			return nil
		}

		stream.LastAutoRelease = &now
		paid, err = e.payOutTx(ctx, tx, stream, available, "release")
		return err
	})
	metrics.RecordStreamOperation("auto_release", err)
	if err != nil {
		return 0, err
	}

	if paid > 0 {
		logrus.WithFields(logrus.Fields{"stream_id": id, "paid": paid}).Info("Stream auto-released")
	}
	return paid, nil
}

// ReleaseDue walks open streams in id order and auto-releases each one.
// At most maxItems streams are visited.
func (e *StreamEngine) ReleaseDue(ctx context.Context, batchSize, maxItems int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	visited, released := 0, 0
	after := uuid.Nil
	for maxItems <= 0 || visited < maxItems {
		if err := ctx.Err(); err != nil {
			return released, err
		}

		batch, err := e.store.Streams().ListReleasable(ctx, after, batchSize)
		if err != nil {
			return released, fmt.Errorf("failed to list releasable streams: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, stream := range batch {
			after = stream.ID
			visited++

			paid, err := e.AutoRelease(ctx, stream.ID)
			if err != nil {
				logrus.WithError(err).WithField("stream_id", stream.ID).Warn("Auto-release failed")
			} else if paid > 0 {
				released++
			}

			if maxItems > 0 && visited >= maxItems {
				break
			}
		}

		if len(batch) < batchSize {
			break
		}
	}

	return released, nil
}

// canView lets parties, orchestrators and arbiters read an entity.
func canView(caller models.Caller, party bool) bool {
	return party || caller.IsOrchestrator() || caller.Role == models.RoleArbiter
}

func canSettle(caller models.Caller, s *models.Stream) bool {
	return s.IsParty(caller.ID) || caller.IsOrchestrator()
}

// Cancel ends a stream early: the recipient gets what accrued, the sender
// the rest. Cancelling a settled stream returns its settlement.
func (e *StreamEngine) Cancel(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Settlement, error) {
	return e.settle(ctx, caller, id, "cancel", e.CancelTx)
}

// Finalize pays out a stream that has reached its stop time.
func (e *StreamEngine) Finalize(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Settlement, error) {
	return e.settle(ctx, caller, id, "finalize", e.FinalizeTx)
}

func (e *StreamEngine) settle(ctx context.Context, caller models.Caller, id uuid.UUID, op string, fn func(context.Context, store.Store, uuid.UUID) (*models.Settlement, bool, error)) (*models.Settlement, error) {
	ctx, release, err := e.lockStream(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		settlement *models.Settlement
		settled    bool
	)
	err = e.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		stream, err := tx.Streams().Get(ctx, id)
		if err != nil {
			return err
		}
		if !canSettle(caller, stream) {
			return apperrors.Unauthorized("caller may not %s stream %s", op, id)
		}
		if stream.RentalID != nil && !caller.IsOrchestrator() {
			return apperrors.State("stream %s belongs to rental %s; settle it through the rental", id, *stream.RentalID)
		}
		settlement, settled, err = fn(ctx, tx, id)
		return err
	})
	metrics.RecordStreamOperation(op, err)
	if err != nil {
		return nil, err
	}

	if settled {
		e.ArchiveReceipt(ctx, settlement)
	}
	return settlement, nil
}

// CancelTx settles the stream pro rata. The bool reports whether this call
// performed the settlement.
func (e *StreamEngine) CancelTx(ctx context.Context, tx store.Store, id uuid.UUID) (*models.Settlement, bool, error) {
	if err := requireHeld(ctx, streamKey(id)); err != nil {
		return nil, false, err
	}

	stream, err := tx.Streams().Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if stream.Finalized {
		existing, err := tx.Streams().GetSettlement(ctx, id)
		return existing, false, err
	}
	if stream.Disputed {
		return nil, false, apperrors.State("stream %s is frozen by a dispute", id)
	}

	payable := Accrued(stream, e.now())
	refund := stream.RemainingBalance - payable

	settlement, err := e.settleTx(ctx, tx, stream, payable, refund, models.SettlementCancel)
	if err != nil {
		return nil, false, err
	}
	return settlement, true, nil
}

// FinalizeTx pays the remaining balance to the recipient once the stream ended.
func (e *StreamEngine) FinalizeTx(ctx context.Context, tx store.Store, id uuid.UUID) (*models.Settlement, bool, error) {
	if err := requireHeld(ctx, streamKey(id)); err != nil {
		return nil, false, err
	}

	stream, err := tx.Streams().Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if stream.Finalized {
		existing, err := tx.Streams().GetSettlement(ctx, id)
		return existing, false, err
	}
	if stream.Disputed {
		return nil, false, apperrors.State("stream %s is frozen by a dispute", id)
	}
	if e.now().Before(stream.StopTime) {
		return nil, false, apperrors.State("stream %s runs until %s", id, stream.StopTime.Format(time.RFC3339))
	}

	settlement, err := e.settleTx(ctx, tx, stream, stream.RemainingBalance, 0, models.SettlementFinalize)
	if err != nil {
		return nil, false, err
	}
	return settlement, true, nil
}

// FreezeTx marks the stream disputed so nothing more can be paid out.
func (e *StreamEngine) FreezeTx(ctx context.Context, tx store.Store, id uuid.UUID) (*models.Stream, error) {
	if err := requireHeld(ctx, streamKey(id)); err != nil {
		return nil, err
	}

	stream, err := tx.Streams().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOpen(stream); err != nil {
		return nil, err
	}

	stream.Disputed = true
	if err := tx.Streams().Update(ctx, stream); err != nil {
		return nil, fmt.Errorf("failed to freeze stream: %w", err)
	}
	return stream, nil
}

// SettleDisputeTx applies an arbitration split to a frozen stream.
// toRecipient + toSender must equal the remaining balance.
func (e *StreamEngine) SettleDisputeTx(ctx context.Context, tx store.Store, id uuid.UUID, toRecipient, toSender int64) (*models.Settlement, bool, error) {
	if err := requireHeld(ctx, streamKey(id)); err != nil {
		return nil, false, err
	}

	stream, err := tx.Streams().Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if stream.Finalized {
		existing, err := tx.Streams().GetSettlement(ctx, id)
		return existing, false, err
	}
	if !stream.Disputed {
		return nil, false, apperrors.State("stream %s is not under dispute", id)
	}

	settlement, err := e.settleTx(ctx, tx, stream, toRecipient, toSender, models.SettlementResolve)
	if err != nil {
		return nil, false, err
	}
	return settlement, true, nil
}

// settleTx closes the stream, then pays the recipient, the sender, the
// treasury and the royalty recipient from escrow.
func (e *StreamEngine) settleTx(ctx context.Context, tx store.Store, stream *models.Stream, toRecipient, toSender int64, kind models.SettlementKind) (*models.Settlement, error) {
	if toRecipient < 0 || toSender < 0 || toRecipient+toSender != stream.RemainingBalance {
		return nil, apperrors.Validation("split %d/%d does not match remaining balance %d", toRecipient, toSender, stream.RemainingBalance)
	}

	now := e.now()
	stream.TotalWithdrawn += stream.RemainingBalance
	stream.RemainingBalance = 0
	stream.Active = false
	stream.Finalized = true
	stream.Disputed = false
	if err := tx.Streams().Update(ctx, stream); err != nil {
		return nil, fmt.Errorf("failed to update stream: %w", err)
	}

	royalty := stream.RoyaltyAmount
	if stream.RoyaltyRecipient == nil {
		royalty = 0
	}

	receipt := SettlementReceipt{
		StreamID:         stream.ID,
		RentalID:         stream.RentalID,
		Kind:             kind,
		Sender:           stream.SenderID,
		Recipient:        stream.RecipientID,
		GrossDeposit:     stream.GrossDeposit,
		NetDeposit:       stream.NetDeposit,
		ToRecipient:      toRecipient,
		ToSender:         toSender,
		PlatformFee:      stream.PlatformFee,
		Royalty:          royalty,
		RoyaltyRecipient: stream.RoyaltyRecipient,
		SettledAt:        now.Unix(),
	}
	hash, _, err := utils.HashRecord(receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to hash settlement receipt: %w", err)
	}

	settlement := &models.Settlement{
		StreamID:         stream.ID,
		Kind:             kind,
		ToRecipient:      toRecipient,
		ToSender:         toSender,
		PlatformFee:      stream.PlatformFee,
		Royalty:          royalty,
		RoyaltyRecipient: stream.RoyaltyRecipient,
		ReceiptHash:      hash,
		SettledAt:        now,
	}
	if err := tx.Streams().CreateSettlement(ctx, settlement); err != nil {
		return nil, err
	}

	escrow := models.StreamEscrowAccount(stream.ID)
	ref := fmt.Sprintf("stream:%s:%s", stream.ID, kind)
	transfers := []struct {
		to     string
		amount int64
		kind   models.LedgerEntryKind
		label  string
	}{
		{models.UserAccount(stream.RecipientID), toRecipient, models.LedgerEntryWithdrawal, "recipient"},
		{models.UserAccount(stream.SenderID), toSender, models.LedgerEntryRefund, "sender"},
		{models.TreasuryAccount, stream.PlatformFee, models.LedgerEntryFee, "treasury"},
	}
	if stream.RoyaltyRecipient != nil {
		transfers = append(transfers, struct {
			to     string
			amount int64
			kind   models.LedgerEntryKind
			label  string
		}{models.UserAccount(*stream.RoyaltyRecipient), royalty, models.LedgerEntryRoyalty, "royalty"})
	}

	for _, t := range transfers {
		if err := tx.Ledger().Transfer(ctx, escrow, t.to, t.amount, t.kind, ref); err != nil {
			return nil, err
		}
		metrics.RecordPayout(t.label, t.amount)
	}

	logrus.WithFields(logrus.Fields{
		"stream_id":    stream.ID,
		"kind":         kind,
		"to_recipient": toRecipient,
		"to_sender":    toSender,
		"fee":          stream.PlatformFee,
		"royalty":      royalty,
	}).Info("Stream settled")

	return settlement, nil
}

// ArchiveReceipt stores the settlement receipt and records its location.
// Failures are logged; the settlement itself is already committed.
func (e *StreamEngine) ArchiveReceipt(ctx context.Context, settlement *models.Settlement) {
	if e.archiver == nil || settlement == nil {
		return
	}

	stream, err := e.store.Streams().Get(ctx, settlement.StreamID)
	if err != nil {
		logrus.WithError(err).WithField("stream_id", settlement.StreamID).Warn("Failed to load stream for receipt")
		return
	}

	receipt := SettlementReceipt{
		StreamID:         stream.ID,
		RentalID:         stream.RentalID,
		Kind:             settlement.Kind,
		Sender:           stream.SenderID,
		Recipient:        stream.RecipientID,
		GrossDeposit:     stream.GrossDeposit,
		NetDeposit:       stream.NetDeposit,
		ToRecipient:      settlement.ToRecipient,
		ToSender:         settlement.ToSender,
		PlatformFee:      settlement.PlatformFee,
		Royalty:          settlement.Royalty,
		RoyaltyRecipient: settlement.RoyaltyRecipient,
		SettledAt:        settlement.SettledAt.Unix(),
	}
	hash, data, err := utils.HashRecord(receipt)
	if err != nil || hash != settlement.ReceiptHash {
		logrus.WithField("stream_id", stream.ID).Error("Settlement receipt does not match recorded hash")
		return
	}

	url, err := e.archiver.Archive(ctx, ReceiptKey(stream.ID), data)
	if err != nil {
		logrus.WithError(err).WithField("stream_id", stream.ID).Warn("Failed to archive settlement receipt")
		return
	}

	settlement.ReceiptURL = url
	if err := e.store.Streams().UpdateSettlement(ctx, settlement); err != nil {
		logrus.WithError(err).WithField("stream_id", stream.ID).Warn("Failed to record receipt location")
	}
}

func ReceiptKey(streamID uuid.UUID) string {
	return fmt.Sprintf("%s.json", streamID)
}

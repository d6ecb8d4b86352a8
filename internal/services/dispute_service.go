// internal/services/dispute_service.go
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

// DisputeService freezes contested streams and applies arbitration rulings.
type DisputeService struct {
	store         store.Store
	locker        *lock.Locker
	clock         clock.Clock
	engine        *StreamEngine
	rentals       *RentalService
	reputation    ReputationOracle
	notifications *NotificationService
	cfg           config.MarketplaceConfig
}

type OpenDisputeRequest struct {
	RentalID *uuid.UUID `json:"rental_id,omitempty"`
	StreamID *uuid.UUID `json:"stream_id,omitempty"`
	Reason   string     `json:"reason" validate:"required,max=2000"`
}

type ResolveDisputeRequest struct {
	FavorRenter bool `json:"favor_renter"`
	// RefundAmount goes to the favored party; zero means the whole remaining balance.
	RefundAmount int64 `json:"refund_amount" validate:"gte=0"`
}

type DisputeResult struct {
	Dispute    *models.Dispute    `json:"dispute"`
	Rental     *models.Rental     `json:"rental,omitempty"`
	Settlement *models.Settlement `json:"settlement,omitempty"`
}

func NewDisputeService(
	st store.Store,
	locker *lock.Locker,
	clk clock.Clock,
	engine *StreamEngine,
	rentals *RentalService,
	reputation ReputationOracle,
	notifications *NotificationService,
	cfg config.MarketplaceConfig,
) *DisputeService {
	return &DisputeService{
		store:         st,
		locker:        locker,
		clock:         clk,
		engine:        engine,
		rentals:       rentals,
		reputation:    reputation,
		notifications: notifications,
		cfg:           cfg,
	}
}

func (s *DisputeService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

// target resolves the request to a stream and, for rental streams, the
// rental. Lock keys follow listing, rental, stream order.
func (s *DisputeService) target(ctx context.Context, rentalID, streamID *uuid.UUID) (uuid.UUID, *uuid.UUID, []string, error) {
	if rentalID == nil && streamID != nil {
		stream, err := s.store.Streams().Get(ctx, *streamID)
		if err != nil {
			return uuid.Nil, nil, nil, err
		}
		if stream.RentalID == nil {
			return stream.ID, nil, []string{streamKey(stream.ID)}, nil
		}
		rentalID = stream.RentalID
	}
	if rentalID == nil {
		return uuid.Nil, nil, nil, apperrors.Validation("rental_id or stream_id is required")
	}

	rental, err := s.store.Rentals().Get(ctx, *rentalID)
	if err != nil {
		return uuid.Nil, nil, nil, err
	}
	if rental.StreamID == nil {
		return uuid.Nil, nil, nil, apperrors.State("rental %s has no stream", rental.ID)
	}
	id := rental.ID
	return *rental.StreamID, &id, LockKeys(rental), nil
}

// Open freezes the stream behind a rental (or a standalone stream) until an
// arbiter rules. Only the two parties may open a dispute.
func (s *DisputeService) Open(ctx context.Context, caller models.Caller, req *OpenDisputeRequest) (*models.Dispute, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}

	streamID, rentalID, keys, err := s.target(ctx, req.RentalID, req.StreamID)
	if err != nil {
		return nil, err
	}

	ctx, release, err := s.locker.AcquireAll(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	var dispute *models.Dispute
	err = s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		stream, err := tx.Streams().Get(ctx, streamID)
		if err != nil {
			return err
		}
		if !stream.IsParty(caller.ID) {
			return apperrors.Unauthorized("only a party may open a dispute")
		}

		open, err := tx.Disputes().FindOpenByStream(ctx, streamID)
		if err != nil {
			return err
		}
		if open != nil {
			return apperrors.State("stream %s already has an open dispute", streamID)
		}

		var rental *models.Rental
		if rentalID != nil {
			if rental, err = tx.Rentals().Get(ctx, *rentalID); err != nil {
				return err
			}
			if rental.Status != models.RentalStatusActive {
				return apperrors.State("rental %s is %s", rental.ID, rental.Status)
			}
		}

		if _, err := s.engine.FreezeTx(ctx, tx, streamID); err != nil {
			return err
		}

		if rental != nil {
			if err := s.rentals.transition(ctx, tx, rental, models.RentalStatusDisputed, actorOf(caller), req.Reason); err != nil {
				return err
			}
		}

		now := s.now()
		dispute = &models.Dispute{
			RentalID: rentalID,
			StreamID: streamID,
			OpenerID: caller.ID,
			Reason:   req.Reason,
			OpenedAt: now,
			Deadline: now.Add(s.cfg.DisputeWindow),
		}
		if err := tx.Disputes().Create(ctx, dispute); err != nil {
			return err
		}

		return s.notifications.SendDisputeOpenedNotification(ctx, dispute)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordDisputeEvent("opened")

	logrus.WithFields(logrus.Fields{
		"dispute_id": dispute.ID,
		"stream_id":  streamID,
		"opener_id":  caller.ID,
		"deadline":   dispute.Deadline,
	}).Info("Dispute opened")

	return dispute, nil
}

// checkResolver requires an arbiter or admin in good standing who is not a
// party to the dispute.
func (s *DisputeService) checkResolver(ctx context.Context, caller models.Caller, stream *models.Stream) error {
	if caller.Role != models.RoleArbiter && caller.Role != models.RoleAdmin {
		return apperrors.Unauthorized("only arbiters may resolve disputes")
	}
	if stream.IsParty(caller.ID) {
		return apperrors.Unauthorized("a party cannot resolve its own dispute")
	}

	var score int64
	if err := callCollaborator(ctx, s.cfg.CollaboratorTimeout, "reputation", func(ctx context.Context) error {
		var err error
		score, err = s.reputation.Score(ctx, caller.ID)
		return err
	}); err != nil {
		return err
	}
	if score < s.cfg.ResolverMinScore {
		return apperrors.Unauthorized("resolver reputation %d is below %d", score, s.cfg.ResolverMinScore)
	}
	return nil
}

// Resolve applies a ruling. The favored party receives the refund, the other
// the rest of the remaining balance. Collateral returns to a favored renter
// and is forfeited to the holder otherwise. Resolving twice is a no-op.
func (s *DisputeService) Resolve(ctx context.Context, caller models.Caller, disputeID uuid.UUID, req *ResolveDisputeRequest) (*DisputeResult, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}

	dispute, err := s.store.Disputes().Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	stream, err := s.store.Streams().Get(ctx, dispute.StreamID)
	if err != nil {
		return nil, err
	}
	if err := s.checkResolver(ctx, caller, stream); err != nil {
		return nil, err
	}

	_, _, keys, err := s.target(ctx, dispute.RentalID, &dispute.StreamID)
	if err != nil {
		return nil, err
	}
	ctx, release, err := s.locker.AcquireAll(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		result  = &DisputeResult{}
		settled bool
	)
	err = s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		dispute, err := tx.Disputes().Get(ctx, disputeID)
		if err != nil {
			return err
		}
		result.Dispute = dispute
		if dispute.Resolved {
			return nil
		}

		stream, err := tx.Streams().Get(ctx, dispute.StreamID)
		if err != nil {
			return err
		}

		remaining := stream.RemainingBalance
		refund := req.RefundAmount
		if refund == 0 || refund > remaining {
			refund = remaining
		}

		// the renter is the stream's sender, the holder its recipient
		toSender, toRecipient := remaining-refund, refund
		outcome := models.DisputeOutcomeFavorHolder
		if req.FavorRenter {
			toSender, toRecipient = refund, remaining-refund
			outcome = models.DisputeOutcomeFavorRenter
		}

		result.Settlement, settled, err = s.engine.SettleDisputeTx(ctx, tx, stream.ID, toRecipient, toSender)
		if err != nil {
			return err
		}

		if dispute.RentalID != nil {
			rental, err := tx.Rentals().Get(ctx, *dispute.RentalID)
			if err != nil {
				return err
			}
			if err := s.rentals.closeTx(ctx, tx, rental, closeParams{
				status:  models.RentalStatusCompleted,
				actor:   actorOf(caller),
				note:    fmt.Sprintf("dispute %s resolved: %s", dispute.ID, outcome),
				forfeit: !req.FavorRenter,
				outcome: outcome,
			}); err != nil {
				return err
			}
			result.Rental = rental
		}

		now := s.now()
		dispute.Resolved = true
		dispute.ResolvedAt = &now
		dispute.ResolverID = actorOf(caller)
		dispute.Outcome = outcome
		dispute.RefundAmount = refund
		return tx.Disputes().Update(ctx, dispute)
	})
	if err != nil {
		return nil, err
	}

	if settled {
		metrics.RecordDisputeEvent("resolved")
		s.engine.ArchiveReceipt(ctx, result.Settlement)

		winner, loser := stream.RecipientID, stream.SenderID
		if req.FavorRenter {
			winner, loser = loser, winner
		}
		s.rentals.recordOutcome(ctx, winner, OutcomeDisputeWon)
		s.rentals.recordOutcome(ctx, loser, OutcomeDisputeLost)

		logrus.WithFields(logrus.Fields{
			"dispute_id":  disputeID,
			"resolver_id": caller.ID,
			"outcome":     result.Dispute.Outcome,
			"refund":      result.Dispute.RefundAmount,
		}).Info("Dispute resolved")
	}
	return result, nil
}

func (s *DisputeService) Get(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.store.Disputes().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	stream, err := s.store.Streams().Get(ctx, dispute.StreamID)
	if err != nil {
		return nil, err
	}
	if !canView(caller, stream.IsParty(caller.ID)) {
		return nil, apperrors.Unauthorized("caller is not a party to dispute %s", id)
	}
	return dispute, nil
}

// SweepOverdue raises a notification for every unresolved dispute past its
// deadline that has not been escalated yet. Disputes stay open for an arbiter.
func (s *DisputeService) SweepOverdue(ctx context.Context, batchSize, maxItems int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	escalated := 0
	after := uuid.Nil
	now := s.now()
	for maxItems <= 0 || escalated < maxItems {
		if err := ctx.Err(); err != nil {
			return escalated, err
		}

		batch, err := s.store.Disputes().ListOverdue(ctx, now, after, batchSize)
		if err != nil {
			return escalated, fmt.Errorf("failed to list overdue disputes: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, d := range batch {
			after = d.ID
			if d.Resolved || d.EscalatedAt != nil {
				continue
			}
			if err := s.escalate(ctx, d.ID, now); err != nil {
				logrus.WithError(err).WithField("dispute_id", d.ID).Warn("Failed to escalate dispute")
				continue
			}
			escalated++
			metrics.RecordDisputeEvent("escalated")
			if maxItems > 0 && escalated >= maxItems {
				break
			}
		}

		if len(batch) < batchSize {
			break
		}
	}

	return escalated, nil
}

func (s *DisputeService) escalate(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		dispute, err := tx.Disputes().Get(ctx, id)
		if err != nil {
			return err
		}
		if dispute.Resolved || dispute.EscalatedAt != nil {
			return nil
		}

		dispute.EscalatedAt = &now
		if err := tx.Disputes().Update(ctx, dispute); err != nil {
			return err
		}
		return s.notifications.SendDisputeOverdueNotification(ctx, dispute)
	})
}

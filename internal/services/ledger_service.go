// internal/services/ledger_service.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/lock"
	"github.com/javajoker/asset-rental-backend/internal/metrics"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/store"
)

type LedgerService struct {
	store         store.Store
	locker        *lock.Locker
	minimumPayout int64
}

type BalanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

type PayoutRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

func NewLedgerService(st store.Store, locker *lock.Locker, minimumPayout int64) *LedgerService {
	return &LedgerService{store: st, locker: locker, minimumPayout: minimumPayout}
}

func (s *LedgerService) accountFor(caller models.Caller, userID uuid.UUID) (string, error) {
	if caller.ID != userID && !caller.IsOrchestrator() {
		return "", apperrors.Unauthorized("cannot read another user's ledger")
	}
	return models.UserAccount(userID), nil
}

func (s *LedgerService) Balance(ctx context.Context, caller models.Caller, userID uuid.UUID) (*BalanceResponse, error) {
	account, err := s.accountFor(caller, userID)
	if err != nil {
		return nil, err
	}
	balance, err := s.store.Ledger().Balance(ctx, account)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{Account: account, Balance: balance}, nil
}

func (s *LedgerService) Entries(ctx context.Context, caller models.Caller, userID uuid.UUID, page store.Page) ([]models.LedgerEntry, int64, error) {
	account, err := s.accountFor(caller, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.store.Ledger().Entries(ctx, account, page)
}

// AccountBalance reads any account, including escrow and treasury.
func (s *LedgerService) AccountBalance(ctx context.Context, account string) (*BalanceResponse, error) {
	balance, err := s.store.Ledger().Balance(ctx, account)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{Account: account, Balance: balance}, nil
}

// Deposit credits userID from outside the system once per reference.
// credited is false when the reference was already applied.
func (s *LedgerService) Deposit(ctx context.Context, userID uuid.UUID, amount int64, reference string) (bool, error) {
	if amount <= 0 {
		return false, apperrors.Validation("deposit amount must be positive")
	}
	if reference == "" {
		return false, apperrors.Validation("deposit reference is required")
	}

	ctx, release, err := s.locker.Acquire(ctx, "deposit:"+reference)
	if err != nil {
		return false, err
	}
	defer release()

	credited := false
	err = s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		seen, err := tx.Ledger().HasReference(ctx, reference)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
		if err := tx.Ledger().Transfer(ctx, models.DepositsAccount, models.UserAccount(userID), amount, models.LedgerEntryDeposit, reference); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if credited {
		logrus.WithFields(logrus.Fields{
			"user_id":   userID,
			"amount":    amount,
			"reference": reference,
		}).Info("Deposit credited")
	}
	return credited, nil
}

// Payout moves funds from the caller's balance to the external payouts account.
func (s *LedgerService) Payout(ctx context.Context, caller models.Caller, req *PayoutRequest) (*BalanceResponse, error) {
	if req.Amount <= 0 {
		return nil, apperrors.Validation("payout amount must be positive")
	}
	if req.Amount < s.minimumPayout {
		return nil, apperrors.Validation("minimum payout amount is %d", s.minimumPayout)
	}

	account := models.UserAccount(caller.ID)
	reference := fmt.Sprintf("payout:%s", uuid.New())
	err := s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.Ledger().Transfer(ctx, account, models.PayoutsAccount, req.Amount, models.LedgerEntryPayout, reference)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordPayout("external", req.Amount)

	logrus.WithFields(logrus.Fields{
		"user_id":   caller.ID,
		"amount":    req.Amount,
		"reference": reference,
	}).Info("Payout requested")

	return s.AccountBalance(ctx, account)
}

// internal/services/collaborators.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/metrics"
	"github.com/javajoker/asset-rental-backend/internal/models"
)

// AssetRegistry answers ownership questions and issues time-bound access.
type AssetRegistry interface {
	OwnerOf(ctx context.Context, assetID string) (uuid.UUID, error)
	SupportsTimedAccess(ctx context.Context, assetID string) (bool, error)
	GrantAccess(ctx context.Context, assetID string, user uuid.UUID, until time.Time) error
	RevokeAccess(ctx context.Context, assetID string) error
}

// ReputationOracle reports a user's standing. Scores are within [0, 1000].
type ReputationOracle interface {
	Profile(ctx context.Context, user uuid.UUID) (*models.ReputationProfile, error)
	Score(ctx context.Context, user uuid.UUID) (int64, error)
	CollateralMultiplier(ctx context.Context, user uuid.UUID) (int64, error)
}

type ReputationOutcome string

const (
	OutcomeRentalCompleted ReputationOutcome = "rental_completed"
	OutcomeCancelledEarly  ReputationOutcome = "cancelled_early"
	OutcomeDisputeWon      ReputationOutcome = "dispute_won"
	OutcomeDisputeLost     ReputationOutcome = "dispute_lost"
)

// ReputationRecorder receives rental outcomes.
type ReputationRecorder interface {
	RecordOutcome(ctx context.Context, user uuid.UUID, outcome ReputationOutcome) error
}

// PriceOracle suggests a price per second for an asset.
type PriceOracle interface {
	Estimate(ctx context.Context, assetID string) (int64, error)
}

type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	Succeeded    bool   `json:"succeeded"`
	UserID       string `json:"user_id,omitempty"`
}

// PaymentGateway moves money between the outside world and the ledger.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*PaymentIntent, error)
	IntentStatus(ctx context.Context, intentID string) (*PaymentIntent, error)
}

// ReceiptArchiver stores settlement receipts and returns their location.
type ReceiptArchiver interface {
	Archive(ctx context.Context, key string, data []byte) (string, error)
}

// callCollaborator bounds fn by timeout and classifies plain failures as
// collaborator errors. Errors that already carry a kind pass through.
func callCollaborator(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	metrics.RecordCollaboratorCall(name, time.Since(start), err == nil)
	if err == nil {
		return nil
	}

	if apperrors.KindOf(err) != "" {
		return err
	}

	logrus.WithError(err).WithField("collaborator", name).Warn("Collaborator call failed")
	return apperrors.Collaborator(err, "%s call failed", name)
}

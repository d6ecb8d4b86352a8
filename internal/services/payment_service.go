// internal/services/payment_service.go
package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/config"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

// StripeGateway funds ledger deposits through Stripe payment intents.
type StripeGateway struct{}

func NewStripeGateway(secretKey string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return fromStripe(pi), nil
}

func (g *StripeGateway) IntentStatus(ctx context.Context, intentID string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripe.PaymentIntent) *PaymentIntent {
	return &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		Succeeded:    pi.Status == stripe.PaymentIntentStatusSucceeded,
		UserID:       pi.Metadata["user_id"],
	}
}

// SandboxGateway settles intents immediately. It is used when no Stripe key
// is configured and in tests.
type SandboxGateway struct {
	mu      sync.Mutex
	seq     int
	intents map[string]*PaymentIntent
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{intents: make(map[string]*PaymentIntent)}
}

func (g *SandboxGateway) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	secret, err := utils.GenerateRandomString(24)
	if err != nil {
		return nil, err
	}

	g.seq++
	pi := &PaymentIntent{
		ID:           "pi_sandbox_" + strconv.Itoa(g.seq),
		ClientSecret: "pi_sandbox_" + strconv.Itoa(g.seq) + "_secret_" + secret,
		Amount:       amount,
		Currency:     currency,
		Status:       string(stripe.PaymentIntentStatusSucceeded),
		Succeeded:    true,
		UserID:       metadata["user_id"],
	}
	g.intents[pi.ID] = pi

	c := *pi
	return &c, nil
}

func (g *SandboxGateway) IntentStatus(ctx context.Context, intentID string) (*PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pi, ok := g.intents[intentID]
	if !ok {
		return nil, apperrors.NotFound("payment intent %s not found", intentID)
	}
	c := *pi
	return &c, nil
}

// NewPaymentGateway picks Stripe when a secret key is configured.
func NewPaymentGateway(cfg config.PaymentConfig) PaymentGateway {
	if cfg.StripeSecretKey == "" {
		logrus.Warn("Stripe is not configured, using the sandbox payment gateway")
		return NewSandboxGateway()
	}
	return NewStripeGateway(cfg.StripeSecretKey)
}

type PaymentService struct {
	gateway  PaymentGateway
	ledger   *LedgerService
	currency string
	timeout  time.Duration
}

type CreateDepositRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type ConfirmDepositRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
}

type DepositResult struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int64  `json:"amount"`
	Credited        bool   `json:"credited"`
	Balance         int64  `json:"balance"`
}

func NewPaymentService(gateway PaymentGateway, ledger *LedgerService, cfg *config.Config) *PaymentService {
	currency := cfg.Payment.Currency
	if currency == "" {
		currency = "usd"
	}
	return &PaymentService{
		gateway:  gateway,
		ledger:   ledger,
		currency: currency,
		timeout:  cfg.Marketplace.CollaboratorTimeout,
	}
}

func (s *PaymentService) CreateDepositIntent(ctx context.Context, caller models.Caller, req *CreateDepositRequest) (*PaymentIntent, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}

	var intent *PaymentIntent
	err := callCollaborator(ctx, s.timeout, "payment", func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.CreateIntent(ctx, req.Amount, s.currency, map[string]string{
			"user_id": caller.ID.String(),
			"purpose": "ledger_deposit",
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":   caller.ID,
		"intent_id": intent.ID,
		"amount":    intent.Amount,
	}).Info("Deposit intent created")
	return intent, nil
}

// ConfirmDeposit credits the ledger for a succeeded intent. Confirming the
// same intent again does not credit twice.
func (s *PaymentService) ConfirmDeposit(ctx context.Context, caller models.Caller, req *ConfirmDepositRequest) (*DepositResult, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}

	var intent *PaymentIntent
	err := callCollaborator(ctx, s.timeout, "payment", func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.IntentStatus(ctx, req.PaymentIntentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	owner, err := uuid.Parse(intent.UserID)
	if err != nil || (owner != caller.ID && !caller.IsOrchestrator()) {
		return nil, apperrors.Unauthorized("payment intent does not belong to the caller")
	}
	if !intent.Succeeded {
		return nil, apperrors.State("payment intent %s is %s", intent.ID, intent.Status)
	}

	credited, err := s.ledger.Deposit(ctx, owner, intent.Amount, "stripe:"+intent.ID)
	if err != nil {
		return nil, err
	}

	balance, err := s.ledger.Balance(ctx, caller, owner)
	if err != nil {
		return nil, err
	}

	return &DepositResult{
		PaymentIntentID: intent.ID,
		Amount:          intent.Amount,
		Credited:        credited,
		Balance:         balance.Balance,
	}, nil
}

// internal/services/env_test.go
package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/asset-rental-backend/internal/clock"
	"github.com/javajoker/asset-rental-backend/internal/config"
	"github.com/javajoker/asset-rental-backend/internal/lock"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/store"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testMarketplaceConfig(t *testing.T) config.MarketplaceConfig {
	t.Helper()
	tiers, err := config.ParseReputationTiers("0:10000,300:5000,600:2500,850:1000")
	require.NoError(t, err)
	return config.MarketplaceConfig{
		PlatformFeeBP:          250,
		RoyaltyBP:              50,
		StreamMinDuration:      60,
		StreamMaxDuration:      365 * 24 * 3600,
		MinRatePerSecond:       1,
		MinPricePerSecond:      1,
		MaxPricePerSecond:      1_000_000_000_000,
		AutoReleaseInterval:    time.Hour,
		DisputeWindow:          7 * 24 * time.Hour,
		ResolverMinScore:       700,
		CollaboratorTimeout:    time.Second,
		ReputationTiers:        tiers,
		DefaultReputationScore: 500,
		DefaultPricePerSecond:  1000,
	}
}

// memArchiver keeps receipts in memory.
type memArchiver struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (a *memArchiver) Archive(ctx context.Context, key string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.blobs == nil {
		a.blobs = make(map[string][]byte)
	}
	a.blobs[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func (a *memArchiver) get(key string) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blobs[key]
}

type testEnv struct {
	t             *testing.T
	ctx           context.Context
	store         *store.Memory
	clock         *clock.Fake
	locker        *lock.Locker
	cfg           config.MarketplaceConfig
	archiver      *memArchiver
	engine        *StreamEngine
	registry      *RegistryService
	reputation    *ReputationService
	notifications *NotificationService
	rentals       *RentalService
	disputes      *DisputeService
	ledger        *LedgerService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testMarketplaceConfig(t)
	st := store.NewMemory()
	clk := clock.NewFake(testEpoch)
	locker := lock.New()
	archiver := &memArchiver{}

	fees, err := NewFeeSplitter(cfg.PlatformFeeBP, cfg.RoyaltyBP, cfg.StreamMinDuration*cfg.MinRatePerSecond)
	require.NoError(t, err)

	registry := NewRegistryService(st, clk)
	reputation := NewReputationService(st, cfg)
	notifications := NewNotificationService(st)
	engine := NewStreamEngine(st, locker, clk, fees, archiver, cfg)
	collateral := NewCollateralPolicy(reputation, cfg.CollaboratorTimeout)
	rentals := NewRentalService(st, locker, clk, engine, collateral, registry, NewStaticPriceOracle(cfg.DefaultPricePerSecond), reputation, cfg)
	disputes := NewDisputeService(st, locker, clk, engine, rentals, reputation, notifications, cfg)

	return &testEnv{
		t:             t,
		ctx:           context.Background(),
		store:         st,
		clock:         clk,
		locker:        locker,
		cfg:           cfg,
		archiver:      archiver,
		engine:        engine,
		registry:      registry,
		reputation:    reputation,
		notifications: notifications,
		rentals:       rentals,
		disputes:      disputes,
		ledger:        NewLedgerService(st, locker, 1),
	}
}

func (e *testEnv) user() models.Caller {
	return models.Caller{ID: uuid.New(), Role: models.RoleUser}
}

func (e *testEnv) fund(user uuid.UUID, amount int64) {
	e.t.Helper()
	_, err := e.ledger.Deposit(e.ctx, user, amount, "seed:"+uuid.NewString())
	require.NoError(e.t, err)
}

func (e *testEnv) balance(account string) int64 {
	e.t.Helper()
	bal, err := e.store.Ledger().Balance(e.ctx, account)
	require.NoError(e.t, err)
	return bal
}

func (e *testEnv) userBalance(user uuid.UUID) int64 {
	return e.balance(models.UserAccount(user))
}

func (e *testEnv) stream(id uuid.UUID) *models.Stream {
	e.t.Helper()
	s, err := e.store.Streams().Get(e.ctx, id)
	require.NoError(e.t, err)
	return s
}

func (e *testEnv) advance(seconds int64) {
	e.clock.Advance(time.Duration(seconds) * time.Second)
}

// openStream funds sender and opens a stream starting now.
func (e *testEnv) openStream(sender, recipient models.Caller, gross, duration int64, royalty *uuid.UUID, milestones ...int64) *models.Stream {
	e.t.Helper()
	e.fund(sender.ID, gross)
	s, err := e.engine.Open(e.ctx, sender, OpenStreamParams{
		Sender:           sender.ID,
		Recipient:        recipient.ID,
		GrossDeposit:     gross,
		Duration:         duration,
		RoyaltyRecipient: royalty,
		Milestones:       milestones,
	})
	require.NoError(e.t, err)
	return s
}

// listAsset registers an asset for holder and lists it.
func (e *testEnv) listAsset(holder models.Caller, price, collateralBP int64) *models.Listing {
	e.t.Helper()
	assetID := "asset-" + uuid.NewString()
	_, err := e.registry.RegisterAsset(e.ctx, holder, &RegisterAssetRequest{AssetID: assetID})
	require.NoError(e.t, err)

	listing, err := e.rentals.ListAsset(e.ctx, holder, &ListAssetRequest{
		AssetID:        assetID,
		PricePerSecond: price,
		MinDuration:    60,
		MaxDuration:    86400,
		CollateralBP:   collateralBP,
	})
	require.NoError(e.t, err)
	return listing
}

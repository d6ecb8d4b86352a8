// internal/store/store.go
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/asset-rental-backend/internal/models"
)

// Store is the keyed persistence owned by the marketplace. Every mutation
// that touches more than one record runs inside Atomic.
type Store interface {
	Streams() StreamRepository
	Listings() ListingRepository
	Rentals() RentalRepository
	Disputes() DisputeRepository
	Ledger() LedgerRepository
	Assets() AssetRepository
	Reputation() ReputationRepository
	Users() UserRepository
	Admin() AdminRepository

	// Atomic runs fn against a transactional view. Returning an error undoes
	// every write made through that view. The ctx handed to fn carries the
	// view, and Atomic calls made with that ctx join the outer unit.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

type txCtxKey struct{}

// WithTx binds tx to ctx.
func WithTx(ctx context.Context, tx Store) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// From returns the transactional view bound to ctx, or fallback outside Atomic.
// Collaborators backed by the same store use it so their writes join the
// caller's unit.
func From(ctx context.Context, fallback Store) Store {
	if tx, ok := ctx.Value(txCtxKey{}).(Store); ok {
		return tx
	}
	return fallback
}

// Page is an offset page request. Limit <= 0 means the default of 20.
type Page struct {
	Page  int
	Limit int
}

func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 || p.Limit > 100 {
		p.Limit = 20
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}

type StreamFilter struct {
	PartyID *uuid.UUID
}

type ListingFilter struct {
	HolderID   *uuid.UUID
	AssetID    string
	ActiveOnly bool
}

type RentalFilter struct {
	PartyID *uuid.UUID
	Status  models.RentalStatus
}

type StreamRepository interface {
	Create(ctx context.Context, stream *models.Stream) error
	Get(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	Update(ctx context.Context, stream *models.Stream) error
	List(ctx context.Context, filter StreamFilter, page Page) ([]*models.Stream, int64, error)
	// ListReleasable returns open, undisputed streams with id greater than
	// after, ordered by id, for keyset-paginated batch jobs.
	ListReleasable(ctx context.Context, after uuid.UUID, limit int) ([]*models.Stream, error)
	CreateSettlement(ctx context.Context, settlement *models.Settlement) error
	GetSettlement(ctx context.Context, streamID uuid.UUID) (*models.Settlement, error)
	UpdateSettlement(ctx context.Context, settlement *models.Settlement) error
}

type ListingRepository interface {
	Create(ctx context.Context, listing *models.Listing) error
	Get(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	Update(ctx context.Context, listing *models.Listing) error
	List(ctx context.Context, filter ListingFilter, page Page) ([]*models.Listing, int64, error)
}

type RentalRepository interface {
	Create(ctx context.Context, rental *models.Rental) error
	Get(ctx context.Context, id uuid.UUID) (*models.Rental, error)
	Update(ctx context.Context, rental *models.Rental) error
	List(ctx context.Context, filter RentalFilter, page Page) ([]*models.Rental, int64, error)
	AppendEvent(ctx context.Context, event *models.RentalEvent) error
	Events(ctx context.Context, rentalID uuid.UUID, page Page) ([]models.RentalEvent, int64, error)
}

type DisputeRepository interface {
	Create(ctx context.Context, dispute *models.Dispute) error
	Get(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	Update(ctx context.Context, dispute *models.Dispute) error
	// FindOpenByStream returns nil, nil when the stream has no open dispute.
	FindOpenByStream(ctx context.Context, streamID uuid.UUID) (*models.Dispute, error)
	ListOverdue(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]*models.Dispute, error)
}

type LedgerRepository interface {
	Balance(ctx context.Context, account string) (int64, error)
	// Transfer moves amount from one account to another and writes both
	// entries. Internal accounts may not go negative.
	Transfer(ctx context.Context, from, to string, amount int64, kind models.LedgerEntryKind, reference string) error
	Entries(ctx context.Context, account string, page Page) ([]models.LedgerEntry, int64, error)
	HasReference(ctx context.Context, reference string) (bool, error)
}

type AssetRepository interface {
	CreateAsset(ctx context.Context, asset *models.AssetRecord) error
	GetAsset(ctx context.Context, assetID string) (*models.AssetRecord, error)
	CreateGrant(ctx context.Context, grant *models.AccessGrant) error
	// ActiveGrant returns nil, nil when no unrevoked grant exists.
	ActiveGrant(ctx context.Context, assetID string) (*models.AccessGrant, error)
	UpdateGrant(ctx context.Context, grant *models.AccessGrant) error
}

type ReputationRepository interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.ReputationProfile, error)
	SaveProfile(ctx context.Context, profile *models.ReputationProfile) error
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Exists(ctx context.Context, email, username string) (bool, error)
	Update(ctx context.Context, user *models.User) error
}

type AdminRepository interface {
	CreateNotification(ctx context.Context, notification *models.AdminNotification) error
	ListNotifications(ctx context.Context, page Page) ([]models.AdminNotification, int64, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

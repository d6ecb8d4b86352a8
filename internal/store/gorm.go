// internal/store/gorm.go
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/models"
)

// GormStore persists marketplace records in PostgreSQL. Inside Atomic every
// Get takes a row lock so concurrent replicas serialize on the same entity.
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Streams() StreamRepository        { return gormStreams{s} }
func (s *GormStore) Listings() ListingRepository      { return gormListings{s} }
func (s *GormStore) Rentals() RentalRepository        { return gormRentals{s} }
func (s *GormStore) Disputes() DisputeRepository      { return gormDisputes{s} }
func (s *GormStore) Ledger() LedgerRepository         { return gormLedger{s} }
func (s *GormStore) Assets() AssetRepository          { return gormAssets{s} }
func (s *GormStore) Reputation() ReputationRepository { return gormReputation{s} }
func (s *GormStore) Users() UserRepository            { return gormUsers{s} }
func (s *GormStore) Admin() AdminRepository           { return gormAdmin{s} }

func (s *GormStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(WithTx(ctx, s), s)
	}
	if outer, ok := ctx.Value(txCtxKey{}).(*GormStore); ok && outer.inTx {
		return fn(ctx, outer)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		view := &GormStore{db: tx, inTx: true}
		return fn(WithTx(ctx, view), view)
	})
}

func (s *GormStore) query(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// locked adds SELECT ... FOR UPDATE inside a transaction.
func (s *GormStore) locked(ctx context.Context) *gorm.DB {
	q := s.query(ctx)
	if s.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(format, args...)
	}
	return err
}

func applyPage(q *gorm.DB, page Page) *gorm.DB {
	page = page.Normalize()
	return q.Offset(page.Offset()).Limit(page.Limit)
}

// Streams

type gormStreams struct{ s *GormStore }

func (r gormStreams) Create(ctx context.Context, stream *models.Stream) error {
	stream.EnsureID()
	return r.s.query(ctx).Create(stream).Error
}

func (r gormStreams) Get(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	var stream models.Stream
	if err := r.s.locked(ctx).First(&stream, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "stream %s not found", id)
	}
	return &stream, nil
}

func (r gormStreams) Update(ctx context.Context, stream *models.Stream) error {
	return r.s.query(ctx).Save(stream).Error
}

func (r gormStreams) List(ctx context.Context, filter StreamFilter, page Page) ([]*models.Stream, int64, error) {
	q := r.s.query(ctx).Model(&models.Stream{})
	if filter.PartyID != nil {
		q = q.Where("sender_id = ? OR recipient_id = ?", *filter.PartyID, *filter.PartyID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var streams []*models.Stream
	if err := applyPage(q.Order("created_at DESC, id"), page).Find(&streams).Error; err != nil {
		return nil, 0, err
	}
	return streams, total, nil
}

func (r gormStreams) ListReleasable(ctx context.Context, after uuid.UUID, limit int) ([]*models.Stream, error) {
	q := r.s.query(ctx).
		Where("active = ? AND finalized = ? AND disputed = ?", true, false, false).
		Order("id")
	if after != uuid.Nil {
		q = q.Where("id > ?", after)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var streams []*models.Stream
	if err := q.Find(&streams).Error; err != nil {
		return nil, err
	}
	return streams, nil
}

func (r gormStreams) CreateSettlement(ctx context.Context, settlement *models.Settlement) error {
	settlement.EnsureID()
	var count int64
	if err := r.s.query(ctx).Model(&models.Settlement{}).Where("stream_id = ?", settlement.StreamID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return apperrors.State("stream %s already settled", settlement.StreamID)
	}
	return r.s.query(ctx).Create(settlement).Error
}

func (r gormStreams) GetSettlement(ctx context.Context, streamID uuid.UUID) (*models.Settlement, error) {
	var settlement models.Settlement
	if err := r.s.query(ctx).Where("stream_id = ?", streamID).First(&settlement).Error; err != nil {
		return nil, notFound(err, "settlement for stream %s not found", streamID)
	}
	return &settlement, nil
}

func (r gormStreams) UpdateSettlement(ctx context.Context, settlement *models.Settlement) error {
	return r.s.query(ctx).Save(settlement).Error
}

// Listings

type gormListings struct{ s *GormStore }

func (r gormListings) Create(ctx context.Context, listing *models.Listing) error {
	listing.EnsureID()
	return r.s.query(ctx).Create(listing).Error
}

func (r gormListings) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.s.locked(ctx).First(&listing, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "listing %s not found", id)
	}
	return &listing, nil
}

func (r gormListings) Update(ctx context.Context, listing *models.Listing) error {
	return r.s.query(ctx).Save(listing).Error
}

func (r gormListings) List(ctx context.Context, filter ListingFilter, page Page) ([]*models.Listing, int64, error) {
	q := r.s.query(ctx).Model(&models.Listing{})
	if filter.HolderID != nil {
		q = q.Where("holder_id = ?", *filter.HolderID)
	}
	if filter.AssetID != "" {
		q = q.Where("asset_id = ?", filter.AssetID)
	}
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var listings []*models.Listing
	if err := applyPage(q.Order("created_at DESC, id"), page).Find(&listings).Error; err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

// Rentals

type gormRentals struct{ s *GormStore }

func (r gormRentals) Create(ctx context.Context, rental *models.Rental) error {
	rental.EnsureID()
	return r.s.query(ctx).Create(rental).Error
}

func (r gormRentals) Get(ctx context.Context, id uuid.UUID) (*models.Rental, error) {
	var rental models.Rental
	if err := r.s.locked(ctx).First(&rental, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "rental %s not found", id)
	}
	return &rental, nil
}

func (r gormRentals) Update(ctx context.Context, rental *models.Rental) error {
	return r.s.query(ctx).Save(rental).Error
}

func (r gormRentals) List(ctx context.Context, filter RentalFilter, page Page) ([]*models.Rental, int64, error) {
	q := r.s.query(ctx).Model(&models.Rental{})
	if filter.PartyID != nil {
		q = q.Where("renter_id = ? OR holder_id = ?", *filter.PartyID, *filter.PartyID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rentals []*models.Rental
	if err := applyPage(q.Order("created_at DESC, id"), page).Find(&rentals).Error; err != nil {
		return nil, 0, err
	}
	return rentals, total, nil
}

func (r gormRentals) AppendEvent(ctx context.Context, event *models.RentalEvent) error {
	event.EnsureID()
	return r.s.query(ctx).Create(event).Error
}

func (r gormRentals) Events(ctx context.Context, rentalID uuid.UUID, page Page) ([]models.RentalEvent, int64, error) {
	q := r.s.query(ctx).Model(&models.RentalEvent{}).Where("rental_id = ?", rentalID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []models.RentalEvent
	if err := applyPage(q.Order("created_at, id"), page).Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// Disputes

type gormDisputes struct{ s *GormStore }

func (r gormDisputes) Create(ctx context.Context, dispute *models.Dispute) error {
	dispute.EnsureID()
	return r.s.query(ctx).Create(dispute).Error
}

func (r gormDisputes) Get(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.s.locked(ctx).First(&dispute, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "dispute %s not found", id)
	}
	return &dispute, nil
}

func (r gormDisputes) Update(ctx context.Context, dispute *models.Dispute) error {
	return r.s.query(ctx).Save(dispute).Error
}

func (r gormDisputes) FindOpenByStream(ctx context.Context, streamID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.s.query(ctx).Where("stream_id = ? AND resolved = ?", streamID, false).First(&dispute).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r gormDisputes) ListOverdue(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]*models.Dispute, error) {
	q := r.s.query(ctx).
		Where("resolved = ? AND escalated_at IS NULL AND deadline < ?", false, now).
		Order("id")
	if after != uuid.Nil {
		q = q.Where("id > ?", after)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var disputes []*models.Dispute
	if err := q.Find(&disputes).Error; err != nil {
		return nil, err
	}
	return disputes, nil
}

// Ledger

type gormLedger struct{ s *GormStore }

func (r gormLedger) Balance(ctx context.Context, account string) (int64, error) {
	var acct models.LedgerAccount
	err := r.s.query(ctx).First(&acct, "account = ?", account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (r gormLedger) Transfer(ctx context.Context, from, to string, amount int64, kind models.LedgerEntryKind, reference string) error {
	if amount < 0 {
		return apperrors.Validation("transfer amount must not be negative")
	}
	if amount == 0 {
		return nil
	}
	if from == to {
		return apperrors.Validation("cannot transfer to the same account")
	}

	return r.s.Atomic(ctx, func(ctx context.Context, tx Store) error {
		db := tx.(*GormStore).query(ctx)

		// Make sure both rows exist before the conditional updates
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&[]models.LedgerAccount{{Account: from}, {Account: to}}).Error; err != nil {
			return err
		}

		// Update rows in key order so opposite transfers cannot deadlock
		deltas := map[string]int64{from: -amount, to: amount}
		accounts := []string{from, to}
		sort.Strings(accounts)

		for _, account := range accounts {
			delta := deltas[account]
			q := db.Model(&models.LedgerAccount{}).Where("account = ?", account)
			if delta < 0 && !models.IsExternalAccount(account) {
				q = q.Where("balance >= ?", -delta)
			}
			res := q.Update("balance", gorm.Expr("balance + ?", delta))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperrors.InsufficientFunds("account %s cannot cover %d", account, -delta)
			}
		}

		var rows []models.LedgerAccount
		if err := db.Where("account IN ?", accounts).Find(&rows).Error; err != nil {
			return err
		}
		after := make(map[string]int64, len(rows))
		for _, row := range rows {
			after[row.Account] = row.Balance
		}

		entries := []models.LedgerEntry{
			{Account: from, Counterparty: to, Delta: -amount, BalanceAfter: after[from], Kind: kind, Reference: reference},
			{Account: to, Counterparty: from, Delta: amount, BalanceAfter: after[to], Kind: kind, Reference: reference},
		}
		for i := range entries {
			entries[i].EnsureID()
		}
		return db.Create(&entries).Error
	})
}

func (r gormLedger) Entries(ctx context.Context, account string, page Page) ([]models.LedgerEntry, int64, error) {
	q := r.s.query(ctx).Model(&models.LedgerEntry{}).Where("account = ?", account)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.LedgerEntry
	if err := applyPage(q.Order("created_at DESC, id DESC"), page).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r gormLedger) HasReference(ctx context.Context, reference string) (bool, error) {
	var count int64
	if err := r.s.query(ctx).Model(&models.LedgerEntry{}).Where("reference = ?", reference).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Assets

type gormAssets struct{ s *GormStore }

func (r gormAssets) CreateAsset(ctx context.Context, asset *models.AssetRecord) error {
	asset.EnsureID()
	var count int64
	if err := r.s.query(ctx).Model(&models.AssetRecord{}).Where("asset_id = ?", asset.AssetID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return apperrors.State("asset %s is already registered", asset.AssetID)
	}
	return r.s.query(ctx).Create(asset).Error
}

func (r gormAssets) GetAsset(ctx context.Context, assetID string) (*models.AssetRecord, error) {
	var asset models.AssetRecord
	if err := r.s.query(ctx).Where("asset_id = ?", assetID).First(&asset).Error; err != nil {
		return nil, notFound(err, "asset %s not found", assetID)
	}
	return &asset, nil
}

func (r gormAssets) CreateGrant(ctx context.Context, grant *models.AccessGrant) error {
	grant.EnsureID()
	return r.s.query(ctx).Create(grant).Error
}

func (r gormAssets) ActiveGrant(ctx context.Context, assetID string) (*models.AccessGrant, error) {
	var grant models.AccessGrant
	err := r.s.query(ctx).
		Where("asset_id = ? AND revoked = ?", assetID, false).
		Order("created_at DESC").
		First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (r gormAssets) UpdateGrant(ctx context.Context, grant *models.AccessGrant) error {
	return r.s.query(ctx).Save(grant).Error
}

// Reputation

type gormReputation struct{ s *GormStore }

func (r gormReputation) GetProfile(ctx context.Context, userID uuid.UUID) (*models.ReputationProfile, error) {
	var profile models.ReputationProfile
	if err := r.s.query(ctx).First(&profile, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err, "reputation profile for %s not found", userID)
	}
	return &profile, nil
}

func (r gormReputation) SaveProfile(ctx context.Context, profile *models.ReputationProfile) error {
	return r.s.query(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(profile).Error
}

// Users

type gormUsers struct{ s *GormStore }

func (r gormUsers) Create(ctx context.Context, user *models.User) error {
	user.EnsureID()
	return r.s.query(ctx).Create(user).Error
}

func (r gormUsers) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.s.query(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user %s not found", id)
	}
	return &user, nil
}

func (r gormUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.s.query(ctx).Where("LOWER(email) = LOWER(?)", email).First(&user).Error; err != nil {
		return nil, notFound(err, "user not found")
	}
	return &user, nil
}

func (r gormUsers) Exists(ctx context.Context, email, username string) (bool, error) {
	var count int64
	err := r.s.query(ctx).Model(&models.User{}).
		Where("LOWER(email) = LOWER(?) OR username = ?", email, username).
		Count(&count).Error
	return count > 0, err
}

func (r gormUsers) Update(ctx context.Context, user *models.User) error {
	return r.s.query(ctx).Save(user).Error
}

// Admin

type gormAdmin struct{ s *GormStore }

func (r gormAdmin) CreateNotification(ctx context.Context, notification *models.AdminNotification) error {
	notification.EnsureID()
	return r.s.query(ctx).Create(notification).Error
}

func (r gormAdmin) ListNotifications(ctx context.Context, page Page) ([]models.AdminNotification, int64, error) {
	q := r.s.query(ctx).Model(&models.AdminNotification{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var notifications []models.AdminNotification
	if err := applyPage(q.Order("created_at DESC"), page).Find(&notifications).Error; err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

func (r gormAdmin) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.EnsureID()
	return r.s.query(ctx).Create(log).Error
}

// internal/services/registry_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/clock"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/store"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

// RegistryService is the bundled asset registry. Ownership and access grants
// are stored next to the marketplace data and every record carries a hash of
// its content so it can be checked later.
type RegistryService struct {
	store store.Store
	clock clock.Clock
}

type RegisterAssetRequest struct {
	AssetID     string `json:"asset_id" validate:"required,max=255"`
	TimedAccess *bool  `json:"timed_access,omitempty"`
}

type registryRecord struct {
	Type      string `json:"type"`
	AssetID   string `json:"asset_id"`
	UserID    string `json:"user_id"`
	Until     int64  `json:"until,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func NewRegistryService(st store.Store, clk clock.Clock) *RegistryService {
	return &RegistryService{store: st, clock: clk}
}

// JoinsTransaction reports that grants written inside Atomic are rolled back
// with the caller's unit.
func (s *RegistryService) JoinsTransaction() bool { return true }

// db joins the caller's transaction when there is one.
func (s *RegistryService) db(ctx context.Context) store.Store {
	return store.From(ctx, s.store)
}

func (s *RegistryService) RegisterAsset(ctx context.Context, caller models.Caller, req *RegisterAssetRequest) (*models.AssetRecord, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}

	timed := true
	if req.TimedAccess != nil {
		timed = *req.TimedAccess
	}

	now := s.clock.Now().UTC()
	hash, _, err := utils.HashRecord(registryRecord{
		Type:      "asset_registration",
		AssetID:   req.AssetID,
		UserID:    caller.ID.String(),
		Timestamp: now.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to hash asset record: %w", err)
	}

	asset := &models.AssetRecord{
		AssetID:     req.AssetID,
		OwnerID:     caller.ID,
		TimedAccess: timed,
		RecordHash:  hash,
	}
	if err := s.db(ctx).Assets().CreateAsset(ctx, asset); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"asset_id":    asset.AssetID,
		"owner_id":    asset.OwnerID,
		"record_hash": hash,
	}).Info("Asset registered")

	return asset, nil
}

func (s *RegistryService) GetAsset(ctx context.Context, assetID string) (*models.AssetRecord, error) {
	return s.db(ctx).Assets().GetAsset(ctx, assetID)
}

func (s *RegistryService) OwnerOf(ctx context.Context, assetID string) (uuid.UUID, error) {
	asset, err := s.db(ctx).Assets().GetAsset(ctx, assetID)
	if err != nil {
		return uuid.Nil, err
	}
	return asset.OwnerID, nil
}

func (s *RegistryService) SupportsTimedAccess(ctx context.Context, assetID string) (bool, error) {
	asset, err := s.db(ctx).Assets().GetAsset(ctx, assetID)
	if err != nil {
		return false, err
	}
	return asset.TimedAccess, nil
}

// GrantAccess issues an exclusive grant. A live grant to another user blocks
// it; an expired one is revoked first.
func (s *RegistryService) GrantAccess(ctx context.Context, assetID string, user uuid.UUID, until time.Time) error {
	db := s.db(ctx)
	asset, err := db.Assets().GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if !asset.TimedAccess {
		return apperrors.State("asset %s does not support timed access", assetID)
	}

	now := s.clock.Now().UTC()
	current, err := db.Assets().ActiveGrant(ctx, assetID)
	if err != nil {
		return err
	}
	if current != nil {
		if current.Until.After(now) && current.UserID != user {
			return apperrors.State("asset %s is already granted until %s", assetID, current.Until.Format(time.RFC3339))
		}
		if err := s.revoke(ctx, db, current, now); err != nil {
			return err
		}
	}

	hash, _, err := utils.HashRecord(registryRecord{
		Type:      "access_grant",
		AssetID:   assetID,
		UserID:    user.String(),
		Until:     until.Unix(),
		Timestamp: now.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to hash access grant: %w", err)
	}

	grant := &models.AccessGrant{
		AssetID:    assetID,
		UserID:     user,
		Until:      until.UTC(),
		RecordHash: hash,
	}
	if err := db.Assets().CreateGrant(ctx, grant); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"asset_id": assetID,
		"user_id":  user,
		"until":    grant.Until,
	}).Info("Access granted")
	return nil
}

// RevokeAccess ends the current grant. Revoking an asset with no grant is a no-op.
func (s *RegistryService) RevokeAccess(ctx context.Context, assetID string) error {
	db := s.db(ctx)
	current, err := db.Assets().ActiveGrant(ctx, assetID)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	return s.revoke(ctx, db, current, s.clock.Now().UTC())
}

func (s *RegistryService) revoke(ctx context.Context, db store.Store, grant *models.AccessGrant, now time.Time) error {
	grant.Revoked = true
	grant.RevokedAt = &now
	if err := db.Assets().UpdateGrant(ctx, grant); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"asset_id": grant.AssetID, "user_id": grant.UserID}).Info("Access revoked")
	return nil
}

// HasAccess reports whether user currently holds an unexpired grant on the asset.
func (s *RegistryService) HasAccess(ctx context.Context, assetID string, user uuid.UUID) (*models.AccessGrant, bool, error) {
	grant, err := s.db(ctx).Assets().ActiveGrant(ctx, assetID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if grant == nil || grant.UserID != user || !grant.Until.After(s.clock.Now()) {
		return grant, false, nil
	}
	return grant, true, nil
}

// internal/models/registry.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// AssetRecord is the bundled registry's ownership row.
type AssetRecord struct {
	BaseModel
	AssetID     string    `json:"asset_id" gorm:"size:255;not null;uniqueIndex"`
	OwnerID     uuid.UUID `json:"owner_id" gorm:"type:uuid;not null;index"`
	TimedAccess bool      `json:"timed_access" gorm:"not null;default:true"`
	RecordHash  string    `json:"record_hash" gorm:"size:64"`
}

// AccessGrant is a time-bound exclusive access right issued by the registry.
type AccessGrant struct {
	BaseModel
	AssetID    string     `json:"asset_id" gorm:"size:255;not null;index"`
	UserID     uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index"`
	Until      time.Time  `json:"until" gorm:"not null"`
	Revoked    bool       `json:"revoked" gorm:"not null;default:false"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	RecordHash string     `json:"record_hash" gorm:"size:64"`
}

// ReputationProfile belongs to the reputation oracle; the marketplace only reads it
// and reports outcomes back.
type ReputationProfile struct {
	UserID       uuid.UUID `json:"user_id" gorm:"type:uuid;primaryKey"`
	Score        int64     `json:"score" gorm:"not null"`
	Whitelisted  bool      `json:"whitelisted" gorm:"not null;default:false"`
	Blacklisted  bool      `json:"blacklisted" gorm:"not null;default:false"`
	MultiplierBP int64     `json:"multiplier_bp" gorm:"not null"`
	UpdatedAt    time.Time `json:"updated_at"`
}

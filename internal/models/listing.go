// internal/models/listing.go
package models

import (
	"github.com/google/uuid"
)

// Listing is a holder's offer to rent out an asset by the second.
type Listing struct {
	BaseModel
	AssetID          string     `json:"asset_id" gorm:"size:255;not null;index"`
	HolderID         uuid.UUID  `json:"holder_id" gorm:"type:uuid;not null;index"`
	PricePerSecond   int64      `json:"price_per_second" gorm:"not null"`
	MinDuration      int64      `json:"min_duration" gorm:"not null"`
	MaxDuration      int64      `json:"max_duration" gorm:"not null"`
	CollateralBP     int64      `json:"collateral_bp" gorm:"not null;default:0"`
	RoyaltyRecipient *uuid.UUID `json:"royalty_recipient,omitempty" gorm:"type:uuid"`
	TimedAccess      bool       `json:"timed_access" gorm:"not null;default:false"`
	Active           bool       `json:"active" gorm:"not null;default:true;index"`
	// CurrentRentalID is set while the listing is rented out.
	CurrentRentalID *uuid.UUID `json:"current_rental_id,omitempty" gorm:"type:uuid"`
}

func (l *Listing) Clone() *Listing {
	c := *l
	if l.RoyaltyRecipient != nil {
		id := *l.RoyaltyRecipient
		c.RoyaltyRecipient = &id
	}
	if l.CurrentRentalID != nil {
		id := *l.CurrentRentalID
		c.CurrentRentalID = &id
	}
	return &c
}

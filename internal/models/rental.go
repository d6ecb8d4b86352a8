// internal/models/rental.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type RentalStatus string

const (
	RentalStatusListed    RentalStatus = "listed"
	RentalStatusRented    RentalStatus = "rented"
	RentalStatusActive    RentalStatus = "active"
	RentalStatusDisputed  RentalStatus = "disputed"
	RentalStatusCompleted RentalStatus = "completed"
	RentalStatusCancelled RentalStatus = "cancelled"
)

var rentalTransitions = map[RentalStatus][]RentalStatus{
	RentalStatusListed:   {RentalStatusRented},
	RentalStatusRented:   {RentalStatusActive},
	RentalStatusActive:   {RentalStatusCompleted, RentalStatusCancelled, RentalStatusDisputed},
	RentalStatusDisputed: {RentalStatusCompleted},
}

// CanTransition reports whether the rental lifecycle allows from -> to.
func CanTransition(from, to RentalStatus) bool {
	for _, next := range rentalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Rental struct {
	BaseModel
	ListingID          uuid.UUID      `json:"listing_id" gorm:"type:uuid;not null;index"`
	AssetID            string         `json:"asset_id" gorm:"size:255;not null;index"`
	HolderID           uuid.UUID      `json:"holder_id" gorm:"type:uuid;not null;index"`
	RenterID           uuid.UUID      `json:"renter_id" gorm:"type:uuid;not null;index"`
	PricePerSecond     int64          `json:"price_per_second" gorm:"not null"`
	StartTime          time.Time      `json:"start_time" gorm:"not null"`
	EndTime            time.Time      `json:"end_time" gorm:"not null;index"`
	RentalCost         int64          `json:"rental_cost" gorm:"not null"`
	CollateralAmount   int64          `json:"collateral_amount" gorm:"not null;default:0"`
	StreamID           *uuid.UUID     `json:"stream_id,omitempty" gorm:"type:uuid;index"`
	Status             RentalStatus   `json:"status" gorm:"type:varchar(20);not null;index"`
	TimedAccess        bool           `json:"timed_access" gorm:"not null;default:false"`
	CancelReason       string         `json:"cancel_reason,omitempty" gorm:"type:text"`
	CancelledBy        *uuid.UUID     `json:"cancelled_by,omitempty" gorm:"type:uuid"`
	Outcome            DisputeOutcome `json:"outcome,omitempty" gorm:"type:varchar(20)"`
	CollateralReleased bool           `json:"collateral_released" gorm:"not null;default:false"`
}

// IsParty reports whether id is the renter or the holder.
func (r *Rental) IsParty(id uuid.UUID) bool {
	return id == r.RenterID || id == r.HolderID
}

func (r *Rental) Clone() *Rental {
	c := *r
	if r.StreamID != nil {
		id := *r.StreamID
		c.StreamID = &id
	}
	if r.CancelledBy != nil {
		id := *r.CancelledBy
		c.CancelledBy = &id
	}
	return &c
}

// RentalEvent is an append-only record of a rental status change.
type RentalEvent struct {
	BaseModel
	RentalID   uuid.UUID    `json:"rental_id" gorm:"type:uuid;not null;index"`
	FromStatus RentalStatus `json:"from_status" gorm:"type:varchar(20)"`
	ToStatus   RentalStatus `json:"to_status" gorm:"type:varchar(20);not null"`
	ActorID    *uuid.UUID   `json:"actor_id,omitempty" gorm:"type:uuid"`
	Note       string       `json:"note,omitempty" gorm:"type:text"`
}

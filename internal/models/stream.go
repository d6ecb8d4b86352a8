// internal/models/stream.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Stream is a unidirectional, time-gated payment channel funded from escrow.
type Stream struct {
	BaseModel
	SenderID         uuid.UUID     `json:"sender_id" gorm:"type:uuid;not null;index"`
	RecipientID      uuid.UUID     `json:"recipient_id" gorm:"type:uuid;not null;index"`
	RentalID         *uuid.UUID    `json:"rental_id,omitempty" gorm:"type:uuid;index"`
	GrossDeposit     int64         `json:"gross_deposit" gorm:"not null"`
	NetDeposit       int64         `json:"net_deposit" gorm:"not null"`
	RatePerSecond    int64         `json:"rate_per_second" gorm:"not null"`
	StartTime        time.Time     `json:"start_time" gorm:"not null"`
	StopTime         time.Time     `json:"stop_time" gorm:"not null;index"`
	RemainingBalance int64         `json:"remaining_balance" gorm:"not null"`
	TotalWithdrawn   int64         `json:"total_withdrawn" gorm:"not null;default:0"`
	Active           bool          `json:"active" gorm:"not null;default:true;index"`
	Finalized        bool          `json:"finalized" gorm:"not null;default:false"`
	Disputed         bool          `json:"disputed" gorm:"not null;default:false"`
	Milestones       pq.Int64Array `json:"milestones" gorm:"type:bigint[]"`
	CurrentMilestone int           `json:"current_milestone" gorm:"not null;default:0"`
	PlatformFee      int64         `json:"platform_fee" gorm:"not null;default:0"`
	RoyaltyAmount    int64         `json:"royalty_amount" gorm:"not null;default:0"`
	RoyaltyRecipient *uuid.UUID    `json:"royalty_recipient,omitempty" gorm:"type:uuid"`
	LastAutoRelease  *time.Time    `json:"last_auto_release,omitempty"`
}

// Duration returns the stream length in whole seconds.
func (s *Stream) Duration() int64 {
	return s.StopTime.Unix() - s.StartTime.Unix()
}

// IsParty reports whether id is the sender or the recipient.
func (s *Stream) IsParty(id uuid.UUID) bool {
	return id == s.SenderID || id == s.RecipientID
}

// Conserved reports whether the balance invariant holds.
func (s *Stream) Conserved() bool {
	return s.RemainingBalance+s.TotalWithdrawn == s.NetDeposit
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Stream) Clone() *Stream {
	c := *s
	if s.Milestones != nil {
		c.Milestones = append(pq.Int64Array(nil), s.Milestones...)
	}
	if s.RentalID != nil {
		id := *s.RentalID
		c.RentalID = &id
	}
	if s.RoyaltyRecipient != nil {
		id := *s.RoyaltyRecipient
		c.RoyaltyRecipient = &id
	}
	if s.LastAutoRelease != nil {
		t := *s.LastAutoRelease
		c.LastAutoRelease = &t
	}
	return &c
}

// Settlement records the payout of a terminal stream transition.
type Settlement struct {
	BaseModel
	StreamID         uuid.UUID      `json:"stream_id" gorm:"type:uuid;not null;uniqueIndex"`
	Kind             SettlementKind `json:"kind" gorm:"type:varchar(20);not null"`
	ToRecipient      int64          `json:"to_recipient" gorm:"not null"`
	ToSender         int64          `json:"to_sender" gorm:"not null"`
	PlatformFee      int64          `json:"platform_fee" gorm:"not null"`
	Royalty          int64          `json:"royalty" gorm:"not null"`
	RoyaltyRecipient *uuid.UUID     `json:"royalty_recipient,omitempty" gorm:"type:uuid"`
	ReceiptHash      string         `json:"receipt_hash" gorm:"size:64"`
	ReceiptURL       string         `json:"receipt_url,omitempty" gorm:"size:512"`
	SettledAt        time.Time      `json:"settled_at" gorm:"not null"`
}

// internal/models/dispute.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type Dispute struct {
	BaseModel
	RentalID     *uuid.UUID     `json:"rental_id,omitempty" gorm:"type:uuid;index"`
	StreamID     uuid.UUID      `json:"stream_id" gorm:"type:uuid;not null;index"`
	OpenerID     uuid.UUID      `json:"opener_id" gorm:"type:uuid;not null"`
	Reason       string         `json:"reason" gorm:"type:text;not null"`
	OpenedAt     time.Time      `json:"opened_at" gorm:"not null"`
	Deadline     time.Time      `json:"deadline" gorm:"not null;index"`
	ResolverID   *uuid.UUID     `json:"resolver_id,omitempty" gorm:"type:uuid"`
	Outcome      DisputeOutcome `json:"outcome,omitempty" gorm:"type:varchar(20)"`
	RefundAmount int64          `json:"refund_amount" gorm:"not null;default:0"`
	Resolved     bool           `json:"resolved" gorm:"not null;default:false;index"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
	// EscalatedAt is stamped once the overdue sweep has raised a notification.
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
}

func (d *Dispute) Clone() *Dispute {
	c := *d
	if d.RentalID != nil {
		id := *d.RentalID
		c.RentalID = &id
	}
	if d.ResolverID != nil {
		id := *d.ResolverID
		c.ResolverID = &id
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		c.ResolvedAt = &t
	}
	if d.EscalatedAt != nil {
		t := *d.EscalatedAt
		c.EscalatedAt = &t
	}
	return &c
}

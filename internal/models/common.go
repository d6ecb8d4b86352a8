// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// EnsureID assigns a fresh id when the record has none. Stores call it so
// ids are known before the row is written.
func (b *BaseModel) EnsureID() {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
}

// Touch stamps the timestamps the way gorm would.
func (b *BaseModel) Touch(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// BasisPointScale is 100% expressed in basis points.
const BasisPointScale int64 = 10000

// Enums
type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
	RoleArbiter  Role = "arbiter"
	RoleAdmin    Role = "admin"
	// RoleSystem identifies the marketplace itself acting as orchestrator.
	RoleSystem Role = "system"
)

// Assignable reports whether a user account may hold r. RoleSystem is never
// granted to an account.
func (r Role) Assignable() bool {
	switch r {
	case RoleUser, RoleOperator, RoleArbiter, RoleAdmin:
		return true
	}
	return false
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusBanned    UserStatus = "banned"
)

type DisputeOutcome string

const (
	DisputeOutcomeNone        DisputeOutcome = ""
	DisputeOutcomeFavorRenter DisputeOutcome = "favor_renter"
	DisputeOutcomeFavorHolder DisputeOutcome = "favor_holder"
)

type LedgerEntryKind string

const (
	LedgerEntryDeposit    LedgerEntryKind = "deposit"
	LedgerEntryEscrow     LedgerEntryKind = "escrow"
	LedgerEntryCollateral LedgerEntryKind = "collateral"
	LedgerEntryWithdrawal LedgerEntryKind = "withdrawal"
	LedgerEntryRefund     LedgerEntryKind = "refund"
	LedgerEntryFee        LedgerEntryKind = "platform_fee"
	LedgerEntryRoyalty    LedgerEntryKind = "royalty"
	LedgerEntryForfeit    LedgerEntryKind = "forfeit"
	LedgerEntryPayout     LedgerEntryKind = "payout"
)

type SettlementKind string

const (
	SettlementFinalize SettlementKind = "finalize"
	SettlementCancel   SettlementKind = "cancel"
	SettlementResolve  SettlementKind = "resolve"
)

// Caller is the authenticated identity behind every operation.
type Caller struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// SystemCaller is used when the marketplace drives a stream on a rental's behalf.
var SystemCaller = Caller{Role: RoleSystem}

// IsOrchestrator reports whether the caller may act on entities it is not a party to.
func (c Caller) IsOrchestrator() bool {
	return c.Role == RoleSystem || c.Role == RoleOperator || c.Role == RoleAdmin
}

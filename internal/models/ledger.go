// internal/models/ledger.go
package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Well-known ledger accounts.
const (
	TreasuryAccount = "treasury"
	PayoutsAccount  = "payouts"
	DepositsAccount = "deposits"
)

func UserAccount(id uuid.UUID) string {
	return fmt.Sprintf("user:%s", id)
}

func StreamEscrowAccount(streamID uuid.UUID) string {
	return fmt.Sprintf("escrow:stream:%s", streamID)
}

func CollateralAccount(rentalID uuid.UUID) string {
	return fmt.Sprintf("escrow:collateral:%s", rentalID)
}

// External accounts may go negative: they mirror money entering or leaving the system.
func IsExternalAccount(account string) bool {
	return account == DepositsAccount || account == PayoutsAccount
}

type LedgerAccount struct {
	Account   string `json:"account" gorm:"primaryKey;size:100"`
	Balance   int64  `json:"balance" gorm:"not null;default:0"`
	UpdatedAt int64  `json:"updated_at" gorm:"autoUpdateTime"`
}

type LedgerEntry struct {
	BaseModel
	Account      string          `json:"account" gorm:"size:100;not null;index"`
	Counterparty string          `json:"counterparty" gorm:"size:100;not null"`
	Delta        int64           `json:"delta" gorm:"not null"`
	BalanceAfter int64           `json:"balance_after" gorm:"not null"`
	Kind         LedgerEntryKind `json:"kind" gorm:"type:varchar(20);not null;index"`
	Reference    string          `json:"reference" gorm:"size:255;index"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeUser   AccountType = "USER"
	AccountTypeSystem AccountType = "SYSTEM"
)

type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// Account is one owner's holding of one asset type. The balance is never
// stored here; it is derived from ledger entries.
type Account struct {
	ID            string      `json:"id" db:"id"`
	OwnerID       string      `json:"user_id" db:"owner_id"`
	AccountType   AccountType `json:"account_type" db:"account_type"`
	AssetTypeCode string      `json:"asset_type_code" db:"asset_type_code"`
	Version       int         `json:"version" db:"version"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is one half of a double-entry pair. Both halves reference the
// same debit and credit accounts; EntryType selects which side it counts for.
type LedgerEntry struct {
	ID              string          `json:"id" db:"id"`
	TransactionID   string          `json:"transaction_id" db:"transaction_id"`
	EntryType       EntryType       `json:"entry_type" db:"entry_type"`
	DebitAccountID  string          `json:"debit_account_id" db:"debit_account_id"`
	CreditAccountID string          `json:"credit_account_id" db:"credit_account_id"`
	AssetTypeCode   string          `json:"asset_type_code" db:"asset_type_code"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// BalanceDetail is a derived balance for one of an owner's accounts.
type BalanceDetail struct {
	AssetType string          `json:"asset_type"`
	Balance   decimal.Decimal `json:"balance"`
	AccountID string          `json:"account_id"`
}

// OwnerSummary is one USER owner and how many accounts they hold.
type OwnerSummary struct {
	OwnerID      string `json:"user_id" db:"owner_id"`
	AccountCount int    `json:"account_count" db:"account_count"`
}

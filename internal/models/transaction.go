package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeTopup      TransactionType = "TOPUP"
	TransactionTypeBonus      TransactionType = "BONUS"
	TransactionTypeSpend      TransactionType = "SPEND"
	TransactionTypeRefund     TransactionType = "REFUND"
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusReversed  TransactionStatus = "REVERSED"
)

// Transaction represents one requested value movement
type Transaction struct {
	ID             string            `json:"id" db:"id"`
	Type           TransactionType   `json:"transaction_type" db:"transaction_type"`
	Status         TransactionStatus `json:"status" db:"status"`
	OwnerID        string            `json:"user_id" db:"owner_id"`
	AssetTypeCode  string            `json:"asset_type_code" db:"asset_type_code"`
	Amount         decimal.Decimal   `json:"amount" db:"amount"`
	Description    string            `json:"description,omitempty" db:"description"`
	Metadata       Metadata          `json:"metadata,omitempty" db:"metadata"`
	IdempotencyKey string            `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

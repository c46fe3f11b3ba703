// Package repository defines the storage port the ledger engine runs against.
// Implementations live in sub-packages named after their backend.
package repository

import (
	"context"
	"errors"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateIdempotencyKey is returned when a transaction insert collides
	// with an already committed idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrConflict marks transient storage conflicts: deadlocks, serialization
	// failures, lock-wait timeouts and unexpected unique violations.
	ErrConflict = errors.New("transient storage conflict")
)

// Repository is the read side shared by the store and by a unit of work, plus
// insert-if-absent account creation which is safe both in and out of one.
type Repository interface {
	GetAssetType(ctx context.Context, code string) (*models.AssetType, error)
	FindAccount(ctx context.Context, ownerID, assetType string) (*models.Account, error)
	ListAccountsByOwner(ctx context.Context, ownerID string) ([]models.Account, error)
	// ListOwners returns the owners of USER accounts ordered by owner id.
	ListOwners(ctx context.Context) ([]models.OwnerSummary, error)
	// InsertAccount inserts the account unless (owner, asset type) already
	// exists. created is false when another writer got there first.
	InsertAccount(ctx context.Context, account *models.Account) (created bool, err error)

	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetTransactionByKey(ctx context.Context, idempotencyKey string) (*models.Transaction, error)
	ListTransactionsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Transaction, error)
	ListEntriesByTransaction(ctx context.Context, transactionID string) ([]models.LedgerEntry, error)

	// SumEntries returns the DEBIT-role total where the account is the debit
	// account and the CREDIT-role total where it is the credit account.
	SumEntries(ctx context.Context, accountID, assetType string) (debits, credits decimal.Decimal, err error)
}

// Store is the long-lived handle to the backend.
type Store interface {
	Repository
	// EnsureAssetType registers the asset type unless the code already exists.
	EnsureAssetType(ctx context.Context, assetType *models.AssetType) (created bool, err error)
	// RowLocking reports whether UnitOfWork.LockAccount excludes other units
	// of work. Stores that return false need a process-wide lock coordinator.
	RowLocking() bool
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork is one atomic commit. Nothing written through it is visible to
// other callers before Commit; Rollback after Commit is a no-op.
type UnitOfWork interface {
	Repository
	// LockAccount takes an exclusive lock on the account row that is held
	// until Commit or Rollback.
	LockAccount(ctx context.Context, accountID string) error
	TouchAccount(ctx context.Context, accountID string) error
	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	UpdateTransactionStatus(ctx context.Context, id string, status models.TransactionStatus) error
	InsertLedgerEntries(ctx context.Context, entries ...models.LedgerEntry) error
	Commit() error
	Rollback() error
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/shopspring/decimal"
)

// IdempotencyConstraint is the unique constraint guarding transactions.idempotency_key.
const IdempotencyConstraint = "uq_transactions_idempotency_key"

// SQLSTATE codes treated as transient conflicts.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres-backed ledger store.
type Store struct {
	queries
	db          *sql.DB
	lockTimeout time.Duration
}

// NewStore wraps an open connection pool. A positive lockTimeout is applied
// to every unit of work with SET LOCAL lock_timeout.
func NewStore(db *sql.DB, lockTimeout time.Duration) *Store {
	return &Store{
		queries:     queries{db: db},
		db:          db,
		lockTimeout: lockTimeout,
	}
}

func (s *Store) EnsureAssetType(ctx context.Context, at *models.AssetType) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_types (code, name, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO NOTHING`,
		at.Code, at.Name, at.Description, at.IsActive, now, now)
	if err != nil {
		return false, classify(err)
	}
	return affected(result)
}

func (s *Store) RowLocking() bool { return true }

func (s *Store) Begin(ctx context.Context) (repository.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return nil, classify(err)
		}
	}

	return &unitOfWork{queries: queries{db: tx}, tx: tx}, nil
}

type unitOfWork struct {
	queries
	tx *sql.Tx
}

func (u *unitOfWork) LockAccount(ctx context.Context, accountID string) error {
	var id string
	err := u.db.QueryRowContext(ctx, `
		SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&id)
	return classify(err)
}

func (u *unitOfWork) TouchAccount(ctx context.Context, accountID string) error {
	result, err := u.db.ExecContext(ctx, `
		UPDATE accounts SET version = version + 1, updated_at = $2 WHERE id = $1`,
		accountID, time.Now().UTC())
	if err != nil {
		return classify(err)
	}
	if ok, err := affected(result); err != nil || !ok {
		return notFoundUnless(err)
	}
	return nil
}

func (u *unitOfWork) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	_, err := u.db.ExecContext(ctx, `
		INSERT INTO transactions (id, transaction_type, status, owner_id, asset_type_code, amount,
			description, metadata, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		txn.ID, txn.Type, txn.Status, txn.OwnerID, txn.AssetTypeCode, txn.Amount,
		txn.Description, txn.Metadata, txn.IdempotencyKey, txn.CreatedAt, txn.UpdatedAt)
	return classify(err)
}

func (u *unitOfWork) UpdateTransactionStatus(ctx context.Context, id string, status models.TransactionStatus) error {
	result, err := u.db.ExecContext(ctx, `
		UPDATE transactions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return classify(err)
	}
	if ok, err := affected(result); err != nil || !ok {
		return notFoundUnless(err)
	}
	return nil
}

// InsertLedgerEntries writes all entries with one multi-row INSERT.
func (u *unitOfWork) InsertLedgerEntries(ctx context.Context, entries ...models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const cols = 8
	var sb strings.Builder
	sb.WriteString(`INSERT INTO ledger_entries (id, transaction_id, entry_type, debit_account_id, credit_account_id, asset_type_code, amount, created_at) VALUES `)
	args := make([]any, 0, len(entries)*cols)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := 1; c <= cols; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*cols+c)
		}
		sb.WriteString(")")
		args = append(args, e.ID, e.TransactionID, e.EntryType, e.DebitAccountID,
			e.CreditAccountID, e.AssetTypeCode, e.Amount, e.CreatedAt)
	}

	_, err := u.db.ExecContext(ctx, sb.String(), args...)
	return classify(err)
}

func (u *unitOfWork) Commit() error {
	return classify(u.tx.Commit())
}

func (u *unitOfWork) Rollback() error {
	err := u.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type queries struct {
	db dbtx
}

func (q queries) GetAssetType(ctx context.Context, code string) (*models.AssetType, error) {
	var at models.AssetType
	err := q.db.QueryRowContext(ctx, `
		SELECT code, name, COALESCE(description, ''), is_active, created_at, updated_at
		FROM asset_types WHERE code = $1`, code).
		Scan(&at.Code, &at.Name, &at.Description, &at.IsActive, &at.CreatedAt, &at.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &at, nil
}

const accountColumns = `id, owner_id, account_type, asset_type_code, version, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.OwnerID, &a.AccountType, &a.AssetTypeCode, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (q queries) FindAccount(ctx context.Context, ownerID, assetType string) (*models.Account, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE owner_id = $1 AND asset_type_code = $2`, ownerID, assetType)
	a, err := scanAccount(row)
	if err != nil {
		return nil, classify(err)
	}
	return a, nil
}

func (q queries) ListAccountsByOwner(ctx context.Context, ownerID string) ([]models.Account, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE owner_id = $1 ORDER BY asset_type_code`, ownerID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, classify(err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, classify(rows.Err())
}

func (q queries) ListOwners(ctx context.Context) ([]models.OwnerSummary, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT owner_id, COUNT(*)
		FROM accounts
		WHERE account_type = $1
		GROUP BY owner_id
		ORDER BY owner_id`, models.AccountTypeUser)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	owners := []models.OwnerSummary{}
	for rows.Next() {
		var o models.OwnerSummary
		if err := rows.Scan(&o.OwnerID, &o.AccountCount); err != nil {
			return nil, classify(err)
		}
		owners = append(owners, o)
	}
	return owners, classify(rows.Err())
}

// InsertAccount relies on ON CONFLICT DO NOTHING so a concurrent creator of the
// same (owner, asset type) makes this a no-op instead of aborting the transaction.
func (q queries) InsertAccount(ctx context.Context, a *models.Account) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`,
		a.ID, a.OwnerID, a.AccountType, a.AssetTypeCode, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return false, classify(err)
	}
	return affected(result)
}

const transactionColumns = `id, transaction_type, status, owner_id, asset_type_code, amount,
	COALESCE(description, ''), metadata, idempotency_key, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.Type, &t.Status, &t.OwnerID, &t.AssetTypeCode, &t.Amount,
		&t.Description, &t.Metadata, &t.IdempotencyKey, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (q queries) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func (q queries) GetTransactionByKey(ctx context.Context, key string) (*models.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key))
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func (q queries) ListTransactionsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	txns := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, classify(err)
		}
		txns = append(txns, *t)
	}
	return txns, classify(rows.Err())
}

func (q queries) ListEntriesByTransaction(ctx context.Context, transactionID string) ([]models.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, transaction_id, entry_type, debit_account_id, credit_account_id,
			asset_type_code, amount, created_at
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY entry_type DESC, id`, transactionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.EntryType, &e.DebitAccountID,
			&e.CreditAccountID, &e.AssetTypeCode, &e.Amount, &e.CreatedAt); err != nil {
			return nil, classify(err)
		}
		entries = append(entries, e)
	}
	return entries, classify(rows.Err())
}

// SumEntries aggregates in NUMERIC on the server; the totals are scanned
// straight into decimals.
func (q queries) SumEntries(ctx context.Context, accountID, assetType string) (decimal.Decimal, decimal.Decimal, error) {
	var debits, credits decimal.Decimal
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'DEBIT' AND debit_account_id = $1), 0),
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'CREDIT' AND credit_account_id = $1), 0)
		FROM ledger_entries
		WHERE asset_type_code = $2 AND (debit_account_id = $1 OR credit_account_id = $1)`,
		accountID, assetType).Scan(&debits, &credits)
	if err != nil {
		return decimal.Zero, decimal.Zero, classify(err)
	}
	return debits, credits, nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func notFoundUnless(err error) error {
	if err != nil {
		return err
	}
	return repository.ErrNotFound
}

// classify maps driver errors onto the repository error kinds by SQLSTATE.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %w", repository.ErrConflict, err)
		case codeUniqueViolation:
			if pqErr.Constraint == IdempotencyConstraint {
				return fmt.Errorf("%w: %w", repository.ErrDuplicateIdempotencyKey, err)
			}
			return fmt.Errorf("%w: %w", repository.ErrConflict, err)
		}
	}
	return err
}

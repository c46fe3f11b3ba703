package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T, lockTimeout time.Duration) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, lockTimeout), mock
}

var transactionRowColumns = []string{
	"id", "transaction_type", "status", "owner_id", "asset_type_code", "amount",
	"description", "metadata", "idempotency_key", "created_at", "updated_at",
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, repository.ErrNotFound},
		{"serialization failure", &pq.Error{Code: "40001"}, repository.ErrConflict},
		{"deadlock", &pq.Error{Code: "40P01"}, repository.ErrConflict},
		{"lock timeout", &pq.Error{Code: "55P03"}, repository.ErrConflict},
		{"idempotency key", &pq.Error{Code: "23505", Constraint: IdempotencyConstraint}, repository.ErrDuplicateIdempotencyKey},
		{"other unique", &pq.Error{Code: "23505", Constraint: "ledger_entries_pkey"}, repository.ErrConflict},
		{"wrapped", fmt.Errorf("exec: %w", &pq.Error{Code: "40P01"}), repository.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	assert.NoError(t, classify(nil))

	other := &pq.Error{Code: "23503"}
	got := classify(other)
	assert.Same(t, other, got)
	assert.NotErrorIs(t, got, repository.ErrConflict)
}

func TestStore_BeginSetsLockTimeout(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t, 1500*time.Millisecond)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout = '1500ms'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id FROM accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs("acc_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc_1"))
	mock.ExpectQuery(`SELECT id FROM accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs("acc_2").
		WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.LockAccount(ctx, "acc_1"))
	assert.ErrorIs(t, uow.LockAccount(ctx, "acc_2"), repository.ErrConflict)
	require.NoError(t, uow.Rollback())
	require.NoError(t, uow.Rollback(), "second rollback is a no-op")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_WritePath(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t, 0)
	now := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	amount := decimal.RequireFromString("25.00")

	txn := &models.Transaction{
		ID:             "txn_1",
		Type:           models.TransactionTypeTopup,
		Status:         models.TransactionStatusPending,
		OwnerID:        "user_1",
		AssetTypeCode:  "GOLD_COINS",
		Amount:         amount,
		Description:    "Wallet top-up for user_1",
		Metadata:       models.Metadata{"source": "test"},
		IdempotencyKey: "k1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	entry := func(id string, kind models.EntryType) models.LedgerEntry {
		return models.LedgerEntry{
			ID: id, TransactionID: "txn_1", EntryType: kind,
			DebitAccountID: "acc_user", CreditAccountID: "acc_treasury",
			AssetTypeCode: "GOLD_COINS", Amount: amount, CreatedAt: now,
		}
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO transactions`).
		WithArgs("txn_1", models.TransactionTypeTopup, models.TransactionStatusPending, "user_1", "GOLD_COINS",
			amount, "Wallet top-up for user_1", []byte(`{"source":"test"}`), "k1", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ledger_entries .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\), \(\$9, .*\$16\)`).
		WithArgs(
			"led_d", "txn_1", models.EntryTypeDebit, "acc_user", "acc_treasury", "GOLD_COINS", amount, now,
			"led_c", "txn_1", models.EntryTypeCredit, "acc_user", "acc_treasury", "GOLD_COINS", amount, now,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE accounts SET version = version \+ 1`).
		WithArgs("acc_user", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts SET version = version \+ 1`).
		WithArgs("acc_missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE transactions SET status = \$2`).
		WithArgs("txn_1", models.TransactionStatusCompleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.InsertTransaction(ctx, txn))
	require.NoError(t, uow.InsertLedgerEntries(ctx, entry("led_d", models.EntryTypeDebit), entry("led_c", models.EntryTypeCredit)))
	require.NoError(t, uow.TouchAccount(ctx, "acc_user"))
	assert.ErrorIs(t, uow.TouchAccount(ctx, "acc_missing"), repository.ErrNotFound)
	require.NoError(t, uow.UpdateTransactionStatus(ctx, "txn_1", models.TransactionStatusCompleted))
	require.NoError(t, uow.Commit())
	require.NoError(t, uow.Rollback(), "rollback after commit is a no-op")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_InsertTransactionDuplicateKey(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t, 0)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO transactions`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: IdempotencyConstraint})
	mock.ExpectRollback()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	err = uow.InsertTransaction(ctx, &models.Transaction{ID: "txn_1", IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, repository.ErrDuplicateIdempotencyKey)
	require.NoError(t, uow.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_InsertLedgerEntriesEmpty(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t, 0)

	mock.ExpectBegin()
	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	assert.NoError(t, uow.InsertLedgerEntries(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SumEntries(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t, 0)

	mock.ExpectQuery(`SUM\(amount\) FILTER \(WHERE entry_type = 'DEBIT' AND debit_account_id = \$1\)`).
		WithArgs("acc_1", "GOLD_COINS").
		WillReturnRows(sqlmock.NewRows([]string{"debits", "credits"}).AddRow("150.00", "30.50"))

	debits, credits, err := store.SumEntries(ctx, "acc_1", "GOLD_COINS")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("150").Equal(debits))
	assert.True(t, decimal.RequireFromString("30.5").Equal(credits))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Accounts(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t, 0)
	now := time.Now().UTC()
	cols := []string{"id", "owner_id", "account_type", "asset_type_code", "version", "created_at", "updated_at"}

	mock.ExpectQuery(`FROM accounts WHERE owner_id = \$1 AND asset_type_code = \$2`).
		WithArgs("user_1", "GOLD_COINS").
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectExec(`INSERT INTO accounts .* ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM accounts WHERE owner_id = \$1 AND asset_type_code = \$2`).
		WithArgs("user_1", "GOLD_COINS").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("acc_1", "user_1", "USER", "GOLD_COINS", 3, now, now))
	mock.ExpectQuery(`FROM accounts WHERE owner_id = \$1 ORDER BY asset_type_code`).
		WithArgs("user_1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("acc_2", "user_1", "USER", "DIAMONDS", 0, now, now).
			AddRow("acc_1", "user_1", "USER", "GOLD_COINS", 3, now, now))

	_, err := store.FindAccount(ctx, "user_1", "GOLD_COINS")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	created, err := store.InsertAccount(ctx, &models.Account{ID: "acc_1", OwnerID: "user_1", AssetTypeCode: "GOLD_COINS"})
	require.NoError(t, err)
	assert.False(t, created)

	account, err := store.FindAccount(ctx, "user_1", "GOLD_COINS")
	require.NoError(t, err)
	assert.Equal(t, "acc_1", account.ID)
	assert.Equal(t, models.AccountTypeUser, account.AccountType)
	assert.Equal(t, 3, account.Version)

	accounts, err := store.ListAccountsByOwner(ctx, "user_1")
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Transactions(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t, 0)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM transactions WHERE idempotency_key = \$1`).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows(transactionRowColumns).
			AddRow("txn_1", "SPEND", "COMPLETED", "user_1", "GOLD_COINS", "30.00", "Spend by user_1", []byte(`{"order":"o-1"}`), "k1", now, now))
	mock.ExpectQuery(`FROM transactions WHERE id = \$1`).
		WithArgs("txn_missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`ORDER BY created_at DESC, id DESC\s+LIMIT \$2 OFFSET \$3`).
		WithArgs("user_1", 10, 0).
		WillReturnRows(sqlmock.NewRows(transactionRowColumns).
			AddRow("txn_2", "TOPUP", "COMPLETED", "user_1", "GOLD_COINS", "100.00", "", nil, "k0", now, now).
			AddRow("txn_1", "SPEND", "COMPLETED", "user_1", "GOLD_COINS", "30.00", "Spend by user_1", nil, "k1", now, now))
	mock.ExpectQuery(`FROM ledger_entries\s+WHERE transaction_id = \$1`).
		WithArgs("txn_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "transaction_id", "entry_type", "debit_account_id", "credit_account_id", "asset_type_code", "amount", "created_at"}).
			AddRow("led_2", "txn_1", "DEBIT", "acc_t", "acc_u", "GOLD_COINS", "30.00", now).
			AddRow("led_1", "txn_1", "CREDIT", "acc_t", "acc_u", "GOLD_COINS", "30.00", now))

	txn, err := store.GetTransactionByKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeSpend, txn.Type)
	assert.Equal(t, "30.00", txn.Amount.StringFixed(2))
	assert.Equal(t, "o-1", txn.Metadata["order"])

	_, err = store.GetTransaction(ctx, "txn_missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	txns, err := store.ListTransactionsByOwner(ctx, "user_1", 10, 0)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "txn_2", txns[0].ID)
	assert.Nil(t, txns[0].Metadata)

	entries, err := store.ListEntriesByTransaction(ctx, "txn_1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.EntryTypeDebit, entries[0].EntryType)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_EnsureAssetType(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t, 0)

	mock.ExpectExec(`INSERT INTO asset_types .* ON CONFLICT \(code\) DO NOTHING`).
		WithArgs("GOLD_COINS", "Gold Coins", "", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO asset_types`).
		WillReturnError(errors.New("connection reset"))

	created, err := store.EnsureAssetType(ctx, &models.AssetType{Code: "GOLD_COINS", Name: "Gold Coins", IsActive: true})
	require.NoError(t, err)
	assert.True(t, created)

	_, err = store.EnsureAssetType(ctx, &models.AssetType{Code: "DIAMONDS"})
	assert.ErrorContains(t, err, "connection reset")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListOwners(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t, 0)
	assert.True(t, store.RowLocking())

	query := `SELECT owner_id, COUNT\(\*\) FROM accounts WHERE account_type = \$1 GROUP BY owner_id ORDER BY owner_id`
	mock.ExpectQuery(query).
		WithArgs("USER").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "count"}).
			AddRow("user_1", 2).
			AddRow("user_2", 1))
	mock.ExpectQuery(query).
		WithArgs("USER").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "count"}))
	mock.ExpectQuery(query).
		WillReturnError(&pq.Error{Code: "40001"})

	owners, err := store.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.OwnerSummary{
		{OwnerID: "user_1", AccountCount: 2},
		{OwnerID: "user_2", AccountCount: 1},
	}, owners)

	owners, err = store.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.OwnerSummary{}, owners)

	_, err = store.ListOwners(ctx)
	assert.ErrorIs(t, err, repository.ErrConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

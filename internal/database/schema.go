package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS asset_types (
		code        VARCHAR(50) PRIMARY KEY,
		name        VARCHAR(100) NOT NULL,
		description TEXT,
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id              VARCHAR(100) PRIMARY KEY,
		owner_id        VARCHAR(100) NOT NULL,
		account_type    VARCHAR(10) NOT NULL CHECK (account_type IN ('USER', 'SYSTEM')),
		asset_type_code VARCHAR(50) NOT NULL REFERENCES asset_types (code),
		version         INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT uq_accounts_owner_asset UNIQUE (owner_id, asset_type_code)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id               VARCHAR(100) PRIMARY KEY,
		transaction_type VARCHAR(20) NOT NULL,
		status           VARCHAR(20) NOT NULL,
		owner_id         VARCHAR(100) NOT NULL,
		asset_type_code  VARCHAR(50) NOT NULL REFERENCES asset_types (code),
		amount           NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
		description      TEXT,
		metadata         JSONB,
		idempotency_key  VARCHAR(255) NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT uq_transactions_idempotency_key UNIQUE (idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_transactions_owner_created ON transactions (owner_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS ix_transactions_type_status ON transactions (transaction_type, status)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id                VARCHAR(100) PRIMARY KEY,
		transaction_id    VARCHAR(100) NOT NULL REFERENCES transactions (id),
		entry_type        VARCHAR(10) NOT NULL CHECK (entry_type IN ('DEBIT', 'CREDIT')),
		debit_account_id  VARCHAR(100) NOT NULL REFERENCES accounts (id),
		credit_account_id VARCHAR(100) NOT NULL REFERENCES accounts (id),
		asset_type_code   VARCHAR(50) NOT NULL REFERENCES asset_types (code),
		amount            NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS ix_ledger_transaction ON ledger_entries (transaction_id)`,
	`CREATE INDEX IF NOT EXISTS ix_ledger_debit_asset ON ledger_entries (debit_account_id, asset_type_code)`,
	`CREATE INDEX IF NOT EXISTS ix_ledger_credit_asset ON ledger_entries (credit_account_id, asset_type_code)`,
}

// Migrate creates the ledger tables inside one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

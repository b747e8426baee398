package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ledger-service/internal/logger"

	_ "github.com/lib/pq"
)

func NewConnection(ctx context.Context, databaseURL string, log *logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database connection established successfully")
	return db, nil
}

// RunMigrations creates the ledger schema. Every statement is idempotent.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	accountsTable := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		balance_amount BIGINT NOT NULL DEFAULT 0 CHECK (balance_amount >= 0),
		currency CHAR(3) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`

	transactionsTable := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		amount BIGINT NOT NULL CHECK (amount > 0),
		currency CHAR(3) NOT NULL,
		direction VARCHAR(6) NOT NULL CHECK (direction IN ('CREDIT', 'DEBIT')),
		memo TEXT NOT NULL DEFAULT '',
		state VARCHAR(10) NOT NULL CHECK (state IN ('PENDING', 'COMPLETED', 'FAILED', 'REVERSED')),
		error_reason TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK ((state = 'FAILED') = (error_reason IS NOT NULL))
	);`

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_transactions_account_id_created_at ON transactions(account_id, created_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_transactions_state ON transactions(state);",
	}

	migrations := []string{accountsTable, transactionsTable}
	migrations = append(migrations, indexes...)

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

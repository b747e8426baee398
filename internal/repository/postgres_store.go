package repository

import (
	"context"
	"database/sql"
	"fmt"

	"ledger-service/internal/logger"
)

type PostgresStore struct {
	db           *sql.DB
	logger       *logger.Logger
	accounts     *accountRepository
	transactions *transactionRepository
}

func NewPostgresStore(db *sql.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:           db,
		logger:       log,
		accounts:     &accountRepository{db: db, logger: log},
		transactions: &transactionRepository{db: db, logger: log},
	}
}

func (s *PostgresStore) Accounts() AccountRepository {
	return s.accounts
}

func (s *PostgresStore) Transactions() TransactionRepository {
	return s.transactions
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithAccountLock uses READ COMMITTED with a row lock on the account. Every
// writer of the account takes the same lock first, so the isolation level does
// not need to be raised.
func (s *PostgresStore) WithAccountLock(ctx context.Context, accountID string, fn func(ctx context.Context, tx Tx) error) error {
	entry := s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
	})

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
		ReadOnly:  false,
	})
	if err != nil {
		entry.Error("Failed to begin transaction: %v", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer tx.Rollback()

	unit := &postgresTx{
		accounts:     &accountRepository{db: tx, logger: s.logger},
		transactions: &transactionRepository{db: tx, logger: s.logger},
	}

	entry.Debug("Locking account")
	if err := unit.accounts.lockAccount(ctx, accountID); err != nil {
		return err
	}

	if err := fn(ctx, unit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		entry.Error("Failed to commit transaction: %v", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type postgresTx struct {
	accounts     *accountRepository
	transactions *transactionRepository
}

func (t *postgresTx) Accounts() AccountRepository {
	return t.accounts
}

func (t *postgresTx) Transactions() TransactionRepository {
	return t.transactions
}

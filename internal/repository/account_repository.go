package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/logger"
	"ledger-service/models"

	"github.com/lib/pq"
)

// numeric_value_out_of_range
const pqNumericOutOfRange = "22003"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const accountColumns = `id, name, description, balance_amount, currency, created_at, updated_at`

type accountRepository struct {
	db     dbtx
	logger *logger.Logger
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	newAccount(account, time.Now().UTC())

	entry := r.logger.WithFields(map[string]interface{}{
		"account_id": account.ID,
		"currency":   account.Balance.Currency,
	})
	entry.Debug("Creating account")

	query := `
		INSERT INTO accounts (id, name, description, balance_amount, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Name,
		account.Description,
		account.Balance.Amount,
		account.Balance.Currency,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		entry.Error("Failed to insert account: %v", err)
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrAccountNotFound, id)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// Adjust is a single conditional UPDATE so the sufficiency check and the write
// happen under the same row lock. When no row matches, the account is re-read
// to tell the caller why.
func (r *accountRepository) Adjust(ctx context.Context, id string, delta int64, currency string) (*models.Account, error) {
	entry := r.logger.WithFields(map[string]interface{}{
		"account_id": id,
		"delta":      delta,
		"currency":   currency,
	})

	query := `
		UPDATE accounts
		SET balance_amount = balance_amount + $2, updated_at = $4
		WHERE id = $1 AND currency = $3 AND balance_amount + $2 >= 0
		RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id, delta, currency, time.Now().UTC()))
	if err == nil {
		entry.Debug("Balance adjusted, new balance: %d", account.Balance.Amount)
		return account, nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqNumericOutOfRange {
		entry.Warn("Balance would overflow")
		return nil, fmt.Errorf("%w: account %s", models.ErrAmountOverflow, id)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		entry.Error("Failed to adjust balance: %v", err)
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Balance.Currency != currency {
		return nil, fmt.Errorf("%w: account %s holds %s, got %s",
			models.ErrCurrencyMismatch, id, current.Balance.Currency, currency)
	}

	entry.Warn("Insufficient balance: balance=%d", current.Balance.Amount)
	return nil, fmt.Errorf("%w: account %s", models.ErrInsufficientFunds, id)
}

// lockAccount takes the row lock that serializes every writer of the account
// until the surrounding transaction ends.
func (r *accountRepository) lockAccount(ctx context.Context, id string) error {
	var locked string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", models.ErrAccountNotFound, id)
		}
		return fmt.Errorf("failed to lock account: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	account := &models.Account{}
	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Description,
		&account.Balance.Amount,
		&account.Balance.Currency,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return account, nil
}

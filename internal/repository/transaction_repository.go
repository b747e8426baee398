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

const transactionColumns = `id, account_id, amount, currency, direction, memo, state, error_reason, created_at, updated_at`

type transactionRepository struct {
	db     dbtx
	logger *logger.Logger
}

func (r *transactionRepository) Append(ctx context.Context, transaction *models.Transaction) error {
	if err := prepareAppend(transaction, time.Now().UTC()); err != nil {
		return err
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		transaction.ID,
		transaction.AccountID,
		transaction.Money.Amount,
		transaction.Money.Currency,
		string(transaction.Direction),
		transaction.Memo,
		string(transaction.State),
		nullString(transaction.ErrorReason),
		transaction.CreatedAt,
		transaction.UpdatedAt,
	)
	if err != nil {
		r.logger.WithFields(map[string]interface{}{
			"transaction_id": transaction.ID,
			"account_id":     transaction.AccountID,
		}).Error("Failed to insert transaction: %v", err)
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	return nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	transaction, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrTransactionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return transaction, nil
}

// Transition only matches rows whose current state has an edge into next, so
// two racing transitions of the same transaction cannot both succeed.
func (r *transactionRepository) Transition(ctx context.Context, id string, next models.TransactionState, reason string) (*models.Transaction, error) {
	if err := checkReason(next, reason); err != nil {
		return nil, err
	}

	from := next.Predecessors()
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no state leads to %s", models.ErrInvalidTransition, next)
	}
	sources := make([]string, len(from))
	for i, state := range from {
		sources[i] = string(state)
	}

	query := `
		UPDATE transactions
		SET state = $2, error_reason = $3, updated_at = $4
		WHERE id = $1 AND state = ANY($5)
		RETURNING ` + transactionColumns

	transaction, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		id, string(next), nullString(reason), time.Now().UTC(), pq.Array(sources)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s cannot move to %s", models.ErrInvalidTransition, id, next)
		}
		return nil, fmt.Errorf("failed to transition transaction: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"transaction_id": id,
		"state":          next,
	}).Debug("Transaction state updated")

	return transaction, nil
}

func (r *transactionRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, accountID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return transactions, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		transaction models.Transaction
		direction   string
		state       string
		reason      sql.NullString
	)

	err := row.Scan(
		&transaction.ID,
		&transaction.AccountID,
		&transaction.Money.Amount,
		&transaction.Money.Currency,
		&direction,
		&transaction.Memo,
		&state,
		&reason,
		&transaction.CreatedAt,
		&transaction.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if transaction.Direction, err = models.ParseDirection(direction); err != nil {
		return nil, err
	}
	if transaction.State, err = models.ParseState(state); err != nil {
		return nil, err
	}
	transaction.ErrorReason = reason.String

	return &transaction, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

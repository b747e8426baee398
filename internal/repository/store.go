package repository

import (
	"context"
	"fmt"
	"time"

	"ledger-service/models"

	"github.com/segmentio/ksuid"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	// Adjust applies a signed delta in minor units and returns the updated account.
	Adjust(ctx context.Context, id string, delta int64, currency string) (*models.Account, error)
}

type TransactionRepository interface {
	Append(ctx context.Context, transaction *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	Transition(ctx context.Context, id string, next models.TransactionState, reason string) (*models.Transaction, error)
	// ListByAccount returns the newest transactions first.
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Transaction, error)
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
}

// Store is the ledger's persistence boundary. The repositories it returns
// directly run each call on its own; WithAccountLock groups calls atomically.
type Store interface {
	Tx
	// WithAccountLock runs fn while holding an exclusive lock on the account.
	// Writes made through the Tx passed to fn commit together when fn
	// returns nil and are discarded otherwise.
	WithAccountLock(ctx context.Context, accountID string, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

const DefaultListLimit = 50

func newAccount(account *models.Account, now time.Time) {
	account.ID = ksuid.New().String()
	account.Balance.Amount = 0
	account.CreatedAt = now
	account.UpdatedAt = now
}

func prepareAppend(txn *models.Transaction, now time.Time) error {
	if !txn.State.IsInitial() {
		return fmt.Errorf("%w: cannot append a transaction in state %s", models.ErrInvalidTransition, txn.State)
	}
	if err := checkReason(txn.State, txn.ErrorReason); err != nil {
		return err
	}

	txn.ID = ksuid.New().String()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	return nil
}

// checkReason enforces that error_reason is present exactly on FAILED transactions.
func checkReason(state models.TransactionState, reason string) error {
	if (state == models.StateFailed) != (reason != "") {
		return fmt.Errorf("error_reason must be set only on %s transactions, got state %s with reason %q",
			models.StateFailed, state, reason)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

package repository_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"ledger-service/internal/repository"
	"ledger-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) repository.Store {
		return repository.NewMemoryStore()
	})
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("AccountLifecycle", func(t *testing.T) { testAccountLifecycle(t, newStore(t)) })
	t.Run("Adjust", func(t *testing.T) { testAdjust(t, newStore(t)) })
	t.Run("AdjustOverflow", func(t *testing.T) { testAdjustOverflow(t, newStore(t)) })
	t.Run("AppendAndTransition", func(t *testing.T) { testAppendAndTransition(t, newStore(t)) })
	t.Run("UnitOfWorkRollsBack", func(t *testing.T) { testUnitOfWorkRollsBack(t, newStore(t)) })
	t.Run("UnitOfWorkCommits", func(t *testing.T) { testUnitOfWorkCommits(t, newStore(t)) })
	t.Run("ConcurrentDebits", func(t *testing.T) { testConcurrentDebits(t, newStore(t)) })
	t.Run("ListByAccount", func(t *testing.T) { testListByAccount(t, newStore(t)) })
}

func createAccount(t *testing.T, store repository.Store, currency string) *models.Account {
	t.Helper()

	account := &models.Account{
		Name:    "test account",
		Balance: models.NewMoney(0, currency),
	}
	require.NoError(t, store.Accounts().Create(context.Background(), account))
	require.NotEmpty(t, account.ID)
	return account
}

func fund(t *testing.T, store repository.Store, accountID string, amount int64) {
	t.Helper()
	_, err := store.Accounts().Adjust(context.Background(), accountID, amount, "USD")
	require.NoError(t, err)
}

func testAccountLifecycle(t *testing.T, store repository.Store) {
	ctx := context.Background()
	account := createAccount(t, store, "USD")

	got, err := store.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance.Amount)
	assert.Equal(t, "USD", got.Balance.Currency)
	assert.Equal(t, "test account", got.Name)

	other := createAccount(t, store, "USD")
	assert.NotEqual(t, account.ID, other.ID, "names are not unique, ids are")

	_, err = store.Accounts().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func testAdjust(t *testing.T, store repository.Store) {
	ctx := context.Background()
	account := createAccount(t, store, "USD")

	updated, err := store.Accounts().Adjust(ctx, account.ID, 10, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(10), updated.Balance.Amount)

	_, err = store.Accounts().Adjust(ctx, account.ID, 5, "EUR")
	assert.ErrorIs(t, err, models.ErrCurrencyMismatch)

	_, err = store.Accounts().Adjust(ctx, account.ID, -11, "USD")
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)

	updated, err = store.Accounts().Adjust(ctx, account.ID, -10, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.Balance.Amount)

	_, err = store.Accounts().Adjust(ctx, "missing", 1, "USD")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func testAdjustOverflow(t *testing.T, store repository.Store) {
	ctx := context.Background()
	account := createAccount(t, store, "USD")

	fund(t, store, account.ID, math.MaxInt64)

	_, err := store.Accounts().Adjust(ctx, account.ID, math.MaxInt64, "USD")
	assert.ErrorIs(t, err, models.ErrAmountOverflow)

	current, err := store.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), current.Balance.Amount, "balance must not wrap")
}

func newTransaction(accountID string, state models.TransactionState) *models.Transaction {
	txn := &models.Transaction{
		AccountID: accountID,
		Money:     models.NewMoney(10, "USD"),
		Direction: models.DirectionDebit,
		Memo:      "rent",
		State:     state,
	}
	if state == models.StateFailed {
		txn.ErrorReason = models.ReasonInsufficientFunds
	}
	return txn
}

func testAppendAndTransition(t *testing.T, store repository.Store) {
	ctx := context.Background()
	account := createAccount(t, store, "USD")
	ledger := store.Transactions()

	for _, state := range []models.TransactionState{models.StatePending, models.StateCompleted, models.StateFailed} {
		txn := newTransaction(account.ID, state)
		require.NoError(t, ledger.Append(ctx, txn), state)
		assert.NotEmpty(t, txn.ID)
	}

	err := ledger.Append(ctx, newTransaction(account.ID, models.StateReversed))
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	noReason := newTransaction(account.ID, models.StateFailed)
	noReason.ErrorReason = ""
	assert.Error(t, ledger.Append(ctx, noReason))

	pending := newTransaction(account.ID, models.StatePending)
	require.NoError(t, ledger.Append(ctx, pending))

	got, err := ledger.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, got.State)
	assert.Empty(t, got.ErrorReason)
	assert.Equal(t, "rent", got.Memo)

	completed, err := ledger.Transition(ctx, pending.ID, models.StateCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, completed.State)

	_, err = ledger.Transition(ctx, pending.ID, models.StateReversed, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = ledger.Transition(ctx, "missing", models.StateCompleted, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = ledger.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)

	failing := newTransaction(account.ID, models.StatePending)
	require.NoError(t, ledger.Append(ctx, failing))
	failed, err := ledger.Transition(ctx, failing.ID, models.StateFailed, models.ReasonInsufficientFunds)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonInsufficientFunds, failed.ErrorReason)
}

func testUnitOfWorkRollsBack(t *testing.T, store repository.Store) {
	ctx := context.Background()
	account := createAccount(t, store, "USD")
	fund(t, store, account.ID, 50)

	pending := newTransaction(account.ID, models.StatePending)
	require.NoError(t, store.Transactions().Append(ctx, pending))

	boom := errors.New("boom")
	var appended string
	err := store.WithAccountLock(ctx, account.ID, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Accounts().Adjust(ctx, account.ID, -10, "USD"); err != nil {
			return err
		}
		if _, err := tx.Transactions().Transition(ctx, pending.ID, models.StateCompleted, ""); err != nil {
			return err
		}
		extra := newTransaction(account.ID, models.StateCompleted)
		if err := tx.Transactions().Append(ctx, extra); err != nil {
			return err
		}
		appended = extra.ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Balance.Amount)

	txn, err := store.Transactions().GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, txn.State)

	_, err = store.Transactions().GetByID(ctx, appended)
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)

	err = store.WithAccountLock(ctx, "missing", func(ctx context.Context, tx repository.Tx) error {
		return nil
	})
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func testUnitOfWorkCommits(t *testing.T, store repository.Store) {
	ctx := context.Background()
	account := createAccount(t, store, "USD")
	fund(t, store, account.ID, 50)

	pending := newTransaction(account.ID, models.StatePending)
	require.NoError(t, store.Transactions().Append(ctx, pending))

	err := store.WithAccountLock(ctx, account.ID, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Accounts().Adjust(ctx, account.ID, pending.Delta(), "USD"); err != nil {
			return err
		}
		_, err := tx.Transactions().Transition(ctx, pending.ID, models.StateCompleted, "")
		return err
	})
	require.NoError(t, err)

	got, err := store.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Balance.Amount)

	txn, err := store.Transactions().GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, txn.State)
}

func testConcurrentDebits(t *testing.T, store repository.Store) {
	ctx := context.Background()
	account := createAccount(t, store, "USD")
	fund(t, store, account.ID, 10)

	const workers = 25
	var (
		wg        sync.WaitGroup
		succeeded int64
		denied    int64
	)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := store.WithAccountLock(ctx, account.ID, func(ctx context.Context, tx repository.Tx) error {
				current, err := tx.Accounts().GetByID(ctx, account.ID)
				if err != nil {
					return err
				}
				if current.Balance.Amount < 1 {
					return models.ErrInsufficientFunds
				}
				_, err = tx.Accounts().Adjust(ctx, account.ID, -1, "USD")
				return err
			})
			switch {
			case err == nil:
				atomic.AddInt64(&succeeded, 1)
			case errors.Is(err, models.ErrInsufficientFunds):
				atomic.AddInt64(&denied, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), succeeded)
	assert.Equal(t, int64(workers-10), denied)

	got, err := store.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance.Amount)
}

func testListByAccount(t *testing.T, store repository.Store) {
	ctx := context.Background()
	account := createAccount(t, store, "USD")
	other := createAccount(t, store, "USD")

	var ids []string
	for i := 0; i < 3; i++ {
		txn := newTransaction(account.ID, models.StatePending)
		require.NoError(t, store.Transactions().Append(ctx, txn))
		ids = append(ids, txn.ID)
	}
	require.NoError(t, store.Transactions().Append(ctx, newTransaction(other.ID, models.StatePending)))

	list, err := store.Transactions().ListByAccount(ctx, account.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for _, txn := range list {
		assert.Equal(t, account.ID, txn.AccountID)
	}
	assert.Contains(t, ids, list[0].ID)

	limited, err := store.Transactions().ListByAccount(ctx, account.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	empty, err := store.Transactions().ListByAccount(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

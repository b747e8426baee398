package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ledger-service/models"
)

// MemoryStore keeps the ledger in process memory. Writers of one account are
// serialized by a per-account mutex; units of work buffer their writes and
// apply them in one step on commit.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]models.Account
	transactions map[string]models.Transaction
	byAccount    map[string][]string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]models.Account),
		transactions: make(map[string]models.Transaction),
		byAccount:    make(map[string][]string),
		locks:        make(map[string]*sync.Mutex),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) getAccountLock(accountID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if _, exists := s.locks[accountID]; !exists {
		s.locks[accountID] = &sync.Mutex{}
	}
	return s.locks[accountID]
}

func (s *MemoryStore) Accounts() AccountRepository {
	return &memoryAccounts{store: s}
}

func (s *MemoryStore) Transactions() TransactionRepository {
	return &memoryTransactions{store: s}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) WithAccountLock(ctx context.Context, accountID string, fn func(ctx context.Context, tx Tx) error) error {
	if _, err := s.getAccount(accountID); err != nil {
		return err
	}

	mu := s.getAccountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	unit := newMemoryTx(s)
	if err := fn(ctx, unit); err != nil {
		return err
	}

	return unit.commit()
}

func (s *MemoryStore) getAccount(id string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: %s", models.ErrAccountNotFound, id)
	}
	return account, nil
}

func (s *MemoryStore) getTransaction(id string) (models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.transactions[id]
	if !ok {
		return models.Transaction{}, fmt.Errorf("%w: %s", models.ErrTransactionNotFound, id)
	}
	return txn, nil
}

func (s *MemoryStore) listByAccount(accountID string, pending []models.Transaction, limit int) []models.Transaction {
	s.mu.RLock()
	ids := s.byAccount[accountID]
	result := make([]models.Transaction, 0, len(ids)+len(pending))
	for _, id := range ids {
		result = append(result, s.transactions[id])
	}
	s.mu.RUnlock()

	result = append(result, pending...)
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit = normalizeLimit(limit); len(result) > limit {
		result = result[:limit]
	}
	return result
}

func applyDelta(account models.Account, delta int64, currency string, now time.Time) (models.Account, error) {
	if account.Balance.Currency != currency {
		return account, fmt.Errorf("%w: account %s holds %s, got %s",
			models.ErrCurrencyMismatch, account.ID, account.Balance.Currency, currency)
	}

	change := models.NewMoney(delta, currency)
	var (
		next models.Money
		err  error
	)
	if delta < 0 {
		change.Amount = -delta
		next, err = account.Balance.Subtract(change)
	} else {
		next, err = account.Balance.Add(change)
	}
	if err != nil {
		return account, fmt.Errorf("%w: account %s", err, account.ID)
	}

	account.Balance = next
	account.UpdatedAt = now
	return account, nil
}

func applyTransition(txn models.Transaction, next models.TransactionState, reason string, now time.Time) (models.Transaction, error) {
	if err := checkReason(next, reason); err != nil {
		return txn, err
	}
	if !txn.State.CanTransitionTo(next) {
		return txn, fmt.Errorf("%w: transaction %s is %s and cannot move to %s",
			models.ErrInvalidTransition, txn.ID, txn.State, next)
	}

	txn.State = next
	txn.ErrorReason = reason
	txn.UpdatedAt = now
	return txn, nil
}

// memoryAccounts applies each call directly.
type memoryAccounts struct {
	store *MemoryStore
}

func (r *memoryAccounts) Create(ctx context.Context, account *models.Account) error {
	newAccount(account, r.store.now())

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.accounts[account.ID] = *account
	return nil
}

func (r *memoryAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	account, err := r.store.getAccount(id)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *memoryAccounts) Adjust(ctx context.Context, id string, delta int64, currency string) (*models.Account, error) {
	mu := r.store.getAccountLock(id)
	mu.Lock()
	defer mu.Unlock()

	account, err := r.store.getAccount(id)
	if err != nil {
		return nil, err
	}

	account, err = applyDelta(account, delta, currency, r.store.now())
	if err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	r.store.accounts[id] = account
	r.store.mu.Unlock()
	return &account, nil
}

type memoryTransactions struct {
	store *MemoryStore
}

func (r *memoryTransactions) Append(ctx context.Context, transaction *models.Transaction) error {
	if err := prepareAppend(transaction, r.store.now()); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.accounts[transaction.AccountID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrAccountNotFound, transaction.AccountID)
	}
	r.store.transactions[transaction.ID] = *transaction
	r.store.byAccount[transaction.AccountID] = append(r.store.byAccount[transaction.AccountID], transaction.ID)
	return nil
}

func (r *memoryTransactions) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	txn, err := r.store.getTransaction(id)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *memoryTransactions) Transition(ctx context.Context, id string, next models.TransactionState, reason string) (*models.Transaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	txn, ok := r.store.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transaction %s", models.ErrInvalidTransition, id)
	}

	txn, err := applyTransition(txn, next, reason, r.store.now())
	if err != nil {
		return nil, err
	}
	r.store.transactions[id] = txn
	return &txn, nil
}

func (r *memoryTransactions) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	return r.store.listByAccount(accountID, nil, limit), nil
}

// memoryTx buffers writes until commit. The version each write was based on
// is remembered so commit can refuse to overwrite a concurrent change.
type memoryTx struct {
	store *MemoryStore

	accounts     map[string]models.Account
	accountBase  map[string]int64
	transactions map[string]models.Transaction
	stateBase    map[string]models.TransactionState
	appended     []string
}

func newMemoryTx(store *MemoryStore) *memoryTx {
	return &memoryTx{
		store:        store,
		accounts:     make(map[string]models.Account),
		accountBase:  make(map[string]int64),
		transactions: make(map[string]models.Transaction),
		stateBase:    make(map[string]models.TransactionState),
	}
}

func (t *memoryTx) Accounts() AccountRepository {
	return (*memoryTxAccounts)(t)
}

func (t *memoryTx) Transactions() TransactionRepository {
	return (*memoryTxTransactions)(t)
}

func (t *memoryTx) account(id string) (models.Account, error) {
	if account, ok := t.accounts[id]; ok {
		return account, nil
	}
	return t.store.getAccount(id)
}

func (t *memoryTx) transaction(id string) (models.Transaction, error) {
	if txn, ok := t.transactions[id]; ok {
		return txn, nil
	}
	return t.store.getTransaction(id)
}

func (t *memoryTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, base := range t.accountBase {
		if current, ok := s.accounts[id]; ok && current.Balance.Amount != base {
			return fmt.Errorf("account %s changed outside of its lock", id)
		}
	}
	for id, base := range t.stateBase {
		if current, ok := s.transactions[id]; ok && current.State != base {
			return fmt.Errorf("%w: transaction %s changed concurrently", models.ErrInvalidTransition, id)
		}
	}

	for id, account := range t.accounts {
		s.accounts[id] = account
	}
	for id, txn := range t.transactions {
		s.transactions[id] = txn
	}
	for _, id := range t.appended {
		accountID := t.transactions[id].AccountID
		s.byAccount[accountID] = append(s.byAccount[accountID], id)
	}
	return nil
}

type memoryTxAccounts memoryTx

func (r *memoryTxAccounts) Create(ctx context.Context, account *models.Account) error {
	newAccount(account, r.store.now())
	r.accounts[account.ID] = *account
	return nil
}

func (r *memoryTxAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	account, err := (*memoryTx)(r).account(id)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *memoryTxAccounts) Adjust(ctx context.Context, id string, delta int64, currency string) (*models.Account, error) {
	account, err := (*memoryTx)(r).account(id)
	if err != nil {
		return nil, err
	}

	updated, err := applyDelta(account, delta, currency, r.store.now())
	if err != nil {
		return nil, err
	}

	if _, seen := r.accountBase[id]; !seen {
		if _, created := r.accounts[id]; !created {
			r.accountBase[id] = account.Balance.Amount
		}
	}
	r.accounts[id] = updated
	return &updated, nil
}

type memoryTxTransactions memoryTx

func (r *memoryTxTransactions) Append(ctx context.Context, transaction *models.Transaction) error {
	if _, err := (*memoryTx)(r).account(transaction.AccountID); err != nil {
		return err
	}
	if err := prepareAppend(transaction, r.store.now()); err != nil {
		return err
	}

	r.transactions[transaction.ID] = *transaction
	r.appended = append(r.appended, transaction.ID)
	return nil
}

func (r *memoryTxTransactions) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	txn, err := (*memoryTx)(r).transaction(id)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *memoryTxTransactions) Transition(ctx context.Context, id string, next models.TransactionState, reason string) (*models.Transaction, error) {
	txn, err := (*memoryTx)(r).transaction(id)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown transaction %s", models.ErrInvalidTransition, id)
	}

	updated, err := applyTransition(txn, next, reason, r.store.now())
	if err != nil {
		return nil, err
	}

	if _, seen := r.stateBase[id]; !seen {
		if _, buffered := r.transactions[id]; !buffered {
			r.stateBase[id] = txn.State
		}
	}
	r.transactions[id] = updated
	return &updated, nil
}

func (r *memoryTxTransactions) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	var pending []models.Transaction
	for _, id := range r.appended {
		if txn := r.transactions[id]; txn.AccountID == accountID {
			pending = append(pending, txn)
		}
	}
	return r.store.listByAccount(accountID, pending, limit), nil
}

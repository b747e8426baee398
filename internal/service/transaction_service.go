package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ledger-service/internal/events"
	"ledger-service/internal/idempotency"
	"ledger-service/internal/logger"
	"ledger-service/internal/repository"
	"ledger-service/models"
)

// CreateResult is the transaction a creation request resolved to. Replayed is
// set when the result was recorded by an earlier request with the same key.
type CreateResult struct {
	Transaction *models.Transaction
	Replayed    bool
}

type TransactionService interface {
	CreatePending(ctx context.Context, key string, req *models.CreateTransactionRequest) (*CreateResult, error)
	CreateImmediate(ctx context.Context, key string, req *models.CreateTransactionRequest) (*CreateResult, error)
	Execute(ctx context.Context, id string) (*models.Transaction, error)
	Reverse(ctx context.Context, id string) (*models.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	ListAccountTransactions(ctx context.Context, accountID string, limit int) ([]models.Transaction, error)
}

type transactionService struct {
	store     repository.Store
	registry  idempotency.Registry
	publisher events.Publisher
	logger    *logger.Logger
}

func NewTransactionService(store repository.Store, registry idempotency.Registry, publisher events.Publisher, log *logger.Logger) TransactionService {
	return &transactionService{
		store:     store,
		registry:  registry,
		publisher: publisher,
		logger:    log,
	}
}

func (s *transactionService) CreatePending(ctx context.Context, key string, req *models.CreateTransactionRequest) (*CreateResult, error) {
	return s.create(ctx, models.EntryDeferred, key, req)
}

func (s *transactionService) CreateImmediate(ctx context.Context, key string, req *models.CreateTransactionRequest) (*CreateResult, error) {
	return s.create(ctx, models.EntryImmediate, key, req)
}

func (s *transactionService) create(ctx context.Context, mode models.EntryMode, key string, req *models.CreateTransactionRequest) (*CreateResult, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", models.ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	entry := s.logger.WithFields(map[string]interface{}{
		"idempotency_key": key,
		"account_id":      req.AccountID,
		"mode":            mode,
		"direction":       req.Direction,
		"amount":          req.Money.Amount,
		"currency":        req.Money.Currency,
	})

	reservation, err := s.registry.CheckAndReserve(ctx, key, idempotency.Fingerprint(mode, req))
	if err != nil {
		entry.Warn("Failed to reserve idempotency key: %v", err)
		return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}

	switch reservation.Status {
	case idempotency.Conflict:
		entry.Warn("Idempotency key reused with a different request")
		return nil, fmt.Errorf("%w: %s", models.ErrIdempotencyConflict, key)
	case idempotency.Replay:
		entry.Debug("Replaying stored outcome")
		txn, err := reservation.Outcome.Result()
		if err != nil {
			return nil, err
		}
		return &CreateResult{Transaction: txn, Replayed: true}, nil
	}

	txn, err := s.settleReserved(ctx, key, reservation, entry, mode, req)

	// the outcome is recorded even if the caller has gone away
	detached := context.WithoutCancel(ctx)
	if err != nil {
		if models.IsClientError(err) {
			if cerr := s.registry.Commit(detached, key, reservation.Token, idempotency.ErrorOutcome(err)); cerr != nil {
				entry.Error("Failed to record rejected request: %v", cerr)
			}
		} else {
			entry.Error("Failed to create transaction: %v", err)
			if rerr := s.registry.Release(detached, key, reservation.Token); rerr != nil {
				entry.Error("Failed to release idempotency key: %v", rerr)
			}
		}
		return nil, err
	}

	if cerr := s.registry.Commit(detached, key, reservation.Token, idempotency.SuccessOutcome(txn)); cerr != nil {
		entry.Error("Failed to record transaction %s under idempotency key: %v", txn.ID, cerr)
	}

	entry.Info("Transaction %s created in state %s", txn.ID, txn.State)
	s.publish(detached, txn)

	return &CreateResult{Transaction: txn}, nil
}

// settleReserved runs settle while renewing the key's lease, so a duplicate
// cannot take the key over from a slow request. A panic releases the key.
func (s *transactionService) settleReserved(ctx context.Context, key string, reservation idempotency.Reservation, entry *logger.Entry, mode models.EntryMode, req *models.CreateTransactionRequest) (*models.Transaction, error) {
	stop := s.keepAlive(ctx, key, reservation, entry)
	defer stop()

	defer func() {
		if p := recover(); p != nil {
			stop()
			if err := s.registry.Release(context.WithoutCancel(ctx), key, reservation.Token); err != nil {
				entry.Error("Failed to release idempotency key after panic: %v", err)
			}
			panic(p)
		}
	}()

	return s.settle(ctx, mode, req)
}

// keepAlive renews the reservation every third of its lease until stop is called.
func (s *transactionService) keepAlive(ctx context.Context, key string, reservation idempotency.Reservation, entry *logger.Entry) (stop func()) {
	if reservation.Lease <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)

		ticker := time.NewTicker(reservation.Lease / 3)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := s.registry.Renew(context.WithoutCancel(ctx), key, reservation.Token); err != nil {
					entry.Warn("Failed to renew idempotency key: %v", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

// settle appends the new transaction under the account lock. A DEBIT the
// balance cannot cover is recorded as FAILED rather than rejected.
func (s *transactionService) settle(ctx context.Context, mode models.EntryMode, req *models.CreateTransactionRequest) (*models.Transaction, error) {
	txn := &models.Transaction{
		AccountID: req.AccountID,
		Money:     req.Money,
		Direction: req.Direction,
		Memo:      req.Memo,
	}

	err := s.store.WithAccountLock(ctx, req.AccountID, func(ctx context.Context, tx repository.Tx) error {
		account, err := tx.Accounts().GetByID(ctx, req.AccountID)
		if err != nil {
			return err
		}

		if !account.Balance.SameCurrency(req.Money) {
			return fmt.Errorf("%w: account %s holds %s, transaction is in %s",
				models.ErrCurrencyMismatch, account.ID, account.Balance.Currency, req.Money.Currency)
		}

		if req.Direction == models.DirectionDebit && account.Balance.Amount < req.Money.Amount {
			txn.State = models.StateFailed
			txn.ErrorReason = models.ReasonInsufficientFunds
			return tx.Transactions().Append(ctx, txn)
		}

		if mode == models.EntryDeferred {
			txn.State = models.StatePending
			return tx.Transactions().Append(ctx, txn)
		}

		txn.State = models.StateCompleted
		if _, err := tx.Accounts().Adjust(ctx, account.ID, txn.Delta(), txn.Money.Currency); err != nil {
			return err
		}
		return tx.Transactions().Append(ctx, txn)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return txn, nil
}

// Execute settles a PENDING transaction against the balance it sees now.
func (s *transactionService) Execute(ctx context.Context, id string) (*models.Transaction, error) {
	current, err := s.store.Transactions().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transaction: %w", err)
	}

	var settled *models.Transaction
	err = s.store.WithAccountLock(ctx, current.AccountID, func(ctx context.Context, tx repository.Tx) error {
		txn, err := tx.Transactions().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !txn.State.CanTransitionTo(models.StateCompleted) {
			return fmt.Errorf("%w: transaction %s is %s", models.ErrInvalidTransition, id, txn.State)
		}

		_, err = tx.Accounts().Adjust(ctx, txn.AccountID, txn.Delta(), txn.Money.Currency)
		switch {
		case errors.Is(err, models.ErrInsufficientFunds):
			settled, err = tx.Transactions().Transition(ctx, id, models.StateFailed, models.ReasonInsufficientFunds)
			return err
		case err != nil:
			return err
		}

		settled, err = tx.Transactions().Transition(ctx, id, models.StateCompleted, "")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute transaction: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"transaction_id": id,
		"account_id":     settled.AccountID,
	}).Info("Transaction executed, state: %s", settled.State)
	s.publish(context.WithoutCancel(ctx), settled)

	return settled, nil
}

// Reverse cancels a PENDING transaction. Its amount never reached the balance.
func (s *transactionService) Reverse(ctx context.Context, id string) (*models.Transaction, error) {
	current, err := s.store.Transactions().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reverse transaction: %w", err)
	}

	var reversed *models.Transaction
	err = s.store.WithAccountLock(ctx, current.AccountID, func(ctx context.Context, tx repository.Tx) error {
		var terr error
		reversed, terr = tx.Transactions().Transition(ctx, id, models.StateReversed, "")
		return terr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reverse transaction: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"transaction_id": id,
		"account_id":     reversed.AccountID,
	}).Info("Transaction reversed")
	s.publish(context.WithoutCancel(ctx), reversed)

	return reversed, nil
}

func (s *transactionService) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	txn, err := s.store.Transactions().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

func (s *transactionService) ListAccountTransactions(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	if _, err := s.store.Accounts().GetByID(ctx, accountID); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	transactions, err := s.store.Transactions().ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return transactions, nil
}

func (s *transactionService) publish(ctx context.Context, txn *models.Transaction) {
	event := events.NewTransactionEvent(*txn)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"transaction_id": txn.ID,
			"event_type":     event.Type,
		}).Warn("Failed to publish event: %v", err)
	}
}

package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"ledger-service/models"
)

// ErrReservationLost is returned when the caller's token no longer owns the key.
var ErrReservationLost = errors.New("idempotency reservation is no longer held")

type Status int

const (
	// Fresh means the key was reserved for the caller, who must Commit or Release it.
	Fresh Status = iota
	// Replay means the key already holds a committed outcome for the same request.
	Replay
	// Conflict means the key is bound to a different request.
	Conflict
)

func (s Status) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Replay:
		return "replay"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Reservation is the result of CheckAndReserve. A Fresh reservation carries
// the owner Token that Commit, Release and Renew must present, and the Lease
// after which an unrenewed reservation is dropped.
type Reservation struct {
	Status  Status
	Outcome *Outcome
	Token   string
	Lease   time.Duration
}

// Outcome is what a key resolves to once its request has been processed:
// either the resulting transaction or the client error it was rejected with.
type Outcome struct {
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Error       *OutcomeError       `json:"error,omitempty"`
}

type OutcomeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func SuccessOutcome(txn *models.Transaction) Outcome {
	return Outcome{Transaction: txn}
}

func ErrorOutcome(err error) Outcome {
	return Outcome{Error: &OutcomeError{
		Code:    models.ErrorCode(err),
		Message: err.Error(),
	}}
}

// Result turns the stored outcome back into what the original call returned.
func (o Outcome) Result() (*models.Transaction, error) {
	if o.Error != nil {
		return nil, &models.ReplayedError{Code: o.Error.Code, Message: o.Error.Message}
	}
	if o.Transaction == nil {
		return nil, fmt.Errorf("idempotency outcome is empty")
	}
	txn := *o.Transaction
	return &txn, nil
}

type Registry interface {
	// CheckAndReserve resolves key for a request with the given fingerprint.
	// A key reserved by a request still in flight makes the caller wait for
	// its outcome; if none arrives in time models.ErrIdempotencyInFlight is returned.
	CheckAndReserve(ctx context.Context, key, fingerprint string) (Reservation, error)
	// Commit records the outcome. It fails with ErrReservationLost unless token
	// still owns the reservation.
	Commit(ctx context.Context, key, token string, outcome Outcome) error
	// Release drops an uncommitted reservation so the same key can be retried.
	// Releasing a key the token does not own is a no-op.
	Release(ctx context.Context, key, token string) error
	// Renew extends the lease of a reservation still owned by token.
	Renew(ctx context.Context, key, token string) error
}

// Fingerprint binds a key to the parts of a request that determine its effect.
// The entry mode is part of it so a key used for a deferred transaction cannot
// replay as an immediate one.
func Fingerprint(mode models.EntryMode, req *models.CreateTransactionRequest) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s|%s",
		mode,
		req.AccountID,
		req.Money.Amount,
		req.Money.Currency,
		req.Direction,
	)))
	return hex.EncodeToString(sum[:])
}

package models

import "errors"

var (
	ErrValidation          = errors.New("invalid request")
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAmountOverflow      = errors.New("amount exceeds the largest representable balance")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
	ErrIdempotencyInFlight = errors.New("request with this idempotency key is still in flight")
)

// ReasonInsufficientFunds is the error_reason stored on transactions denied for lack of balance.
const ReasonInsufficientFunds = "insufficient funds"

const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
	CodeTransactionNotFound  = "TRANSACTION_NOT_FOUND"
	CodeCurrencyMismatch     = "CURRENCY_MISMATCH"
	CodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	CodeAmountOverflow       = "AMOUNT_OVERFLOW"
	CodeInvalidTransition    = "INVALID_STATE_TRANSITION"
	CodeIdempotencyConflict  = "IDEMPOTENCY_KEY_CONFLICT"
	CodeIdempotencyInFlight  = "IDEMPOTENCY_KEY_IN_FLIGHT"
	CodeMissingIdempotency   = "MISSING_IDEMPOTENCY_KEY"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeInternal             = "INTERNAL_ERROR"
)

var codeToError = map[string]error{
	CodeInvalidRequest:      ErrValidation,
	CodeAccountNotFound:     ErrAccountNotFound,
	CodeTransactionNotFound: ErrTransactionNotFound,
	CodeCurrencyMismatch:    ErrCurrencyMismatch,
	CodeInsufficientFunds:   ErrInsufficientFunds,
	CodeAmountOverflow:      ErrAmountOverflow,
	CodeInvalidTransition:   ErrInvalidTransition,
	CodeIdempotencyConflict: ErrIdempotencyConflict,
	CodeIdempotencyInFlight: ErrIdempotencyInFlight,
}

// ErrorCode returns the stable code of a domain error, or CodeInternal.
func ErrorCode(err error) string {
	for code, sentinel := range codeToError {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// IsClientError reports whether err is caused by the request rather than the server.
func IsClientError(err error) bool {
	return err != nil && ErrorCode(err) != CodeInternal
}

// ReplayedError is a failure recorded under an idempotency key and returned again on replay.
type ReplayedError struct {
	Code    string
	Message string
}

func (e *ReplayedError) Error() string {
	return e.Message
}

func (e *ReplayedError) Unwrap() error {
	return codeToError[e.Code]
}

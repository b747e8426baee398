package models

import (
	"fmt"
	"strings"
	"time"
)

type Account struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Balance     Money     `json:"balance"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type Transaction struct {
	ID          string               `json:"id" db:"id"`
	AccountID   string               `json:"account_id" db:"account_id"`
	Money       Money                `json:"money"`
	Direction   TransactionDirection `json:"direction" db:"direction"`
	Memo        string               `json:"memo" db:"memo"`
	State       TransactionState     `json:"state" db:"state"`
	ErrorReason string               `json:"error_reason,omitempty" db:"error_reason"`
	CreatedAt   time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at" db:"updated_at"`
}

// Delta is the signed balance change the transaction applies when it completes.
func (t *Transaction) Delta() int64 {
	return t.Direction.Sign() * t.Money.Amount
}

type CreateAccountRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Currency    string `json:"currency" validate:"required,len=3"`
}

func (r *CreateAccountRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !ValidCurrency(r.Currency) {
		return fmt.Errorf("%w: currency must be a three-letter upper-case code", ErrValidation)
	}
	return nil
}

type CreateTransactionRequest struct {
	AccountID string               `json:"account_id" validate:"required"`
	Money     Money                `json:"money" validate:"required"`
	Direction TransactionDirection `json:"direction" validate:"required"`
	Memo      string               `json:"memo"`
}

func (r *CreateTransactionRequest) Validate() error {
	if strings.TrimSpace(r.AccountID) == "" {
		return fmt.Errorf("%w: account_id is required", ErrValidation)
	}
	if r.Money.Amount <= 0 {
		return fmt.Errorf("%w: money.amount must be greater than zero", ErrValidation)
	}
	if !ValidCurrency(r.Money.Currency) {
		return fmt.Errorf("%w: money.currency must be a three-letter upper-case code", ErrValidation)
	}
	if !r.Direction.Valid() {
		return fmt.Errorf("%w: direction must be CREDIT or DEBIT", ErrValidation)
	}
	return nil
}

type TransactionListResponse struct {
	Transactions []Transaction `json:"transactions"`
}

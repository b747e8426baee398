package models

import (
	"fmt"
	"math"
	"regexp"

	"github.com/shopspring/decimal"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// currencyExponents lists currencies whose minor unit is not 1/100.
var currencyExponents = map[string]int32{
	"BHD": 3,
	"CLP": 0,
	"IQD": 3,
	"ISK": 0,
	"JOD": 3,
	"JPY": 0,
	"KRW": 0,
	"KWD": 3,
	"LYD": 3,
	"OMR": 3,
	"TND": 3,
	"UGX": 0,
	"VND": 0,
}

// Money is an amount in minor units of a currency.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// ValidCurrency reports whether code looks like an ISO-4217 currency code.
func ValidCurrency(code string) bool {
	return currencyPattern.MatchString(code)
}

// CurrencyExponent returns the number of minor-unit digits for the currency.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[currency]; ok {
		return exp
	}
	return 2
}

func (m Money) SameCurrency(other Money) bool {
	return m.Currency == other.Currency
}

// Add returns m + other. Both values must share a currency and the sum must
// fit in an int64.
func (m Money) Add(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, fmt.Errorf("%w: cannot add %s to %s", ErrCurrencyMismatch, other.Currency, m.Currency)
	}
	if other.Amount > 0 && m.Amount > math.MaxInt64-other.Amount {
		return Money{}, ErrAmountOverflow
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Subtract returns m - other and refuses to go below zero.
func (m Money) Subtract(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, fmt.Errorf("%w: cannot subtract %s from %s", ErrCurrencyMismatch, other.Currency, m.Currency)
	}
	if m.Amount < other.Amount {
		return Money{}, ErrInsufficientFunds
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// Decimal renders the amount in major units, e.g. 1050 USD -> 10.50.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -CurrencyExponent(m.Currency))
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(CurrencyExponent(m.Currency)), m.Currency)
}

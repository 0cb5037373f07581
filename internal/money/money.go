package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidFormat is returned when a decimal string cannot be parsed into minor units.
	ErrInvalidFormat = errors.New("money: invalid amount format")
	// ErrCurrencyMismatch is returned when arithmetic mixes two currencies.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
)

// Money is a monetary value in integer minor units (cents for USD) plus a
// currency code. Amounts are never carried as binary floats; decimal.Decimal is
// used only at the parse/format boundary.
type Money struct {
	Amount   int64
	Currency string
}

// New builds a Money value from minor units.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: normaliseCurrency(currency)}
}

// Zero returns the zero value for the given currency.
func Zero(currency string) Money {
	return New(0, currency)
}

// FromDecimalString parses a decimal amount such as "100.00" into minor units.
// More than two fraction digits is rejected rather than silently rounded.
func FromDecimalString(s, currency string) (Money, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Money{}, fmt.Errorf("%w: empty string", ErrInvalidFormat)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	minor := d.Shift(2)
	if !minor.IsInteger() {
		return Money{}, fmt.Errorf("%w: %q has more than two fraction digits", ErrInvalidFormat, s)
	}
	return New(minor.IntPart(), currency), nil
}

// MulRate multiplies the amount by a basis-point rate (10000 bps = 100%) and
// rounds half-up to the nearest minor unit. Negative amounts round away from
// zero so that -x.5 becomes -(x+1), mirroring half-up on the magnitude.
func (m Money) MulRate(bps int64) Money {
	product := m.Amount * bps
	q := product / 10000
	r := product % 10000
	if r >= 5000 {
		q++
	} else if r <= -5000 {
		q--
	}
	return Money{Amount: q, Currency: m.Currency}
}

// MulInt multiplies the amount by an integer quantity.
func (m Money) MulInt(n int64) Money {
	return Money{Amount: m.Amount * n, Currency: m.Currency}
}

// Add returns m + other, failing when currencies differ.
func (m Money) Add(other Money) (Money, error) {
	if !m.sameCurrency(other) {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Sub returns m - other, failing when currencies differ.
func (m Money) Sub(other Money) (Money, error) {
	if !m.sameCurrency(other) {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Decimal exposes the amount as a decimal value for display purposes only.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -2)
}

// String renders the amount with two fraction digits, e.g. "351.75 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(2), m.Currency)
}

func (m Money) sameCurrency(other Money) bool {
	return m.Currency == other.Currency
}

func normaliseCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

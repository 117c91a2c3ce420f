package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrCurrencyMismatch is returned when two values with different currency codes are combined.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	// ErrDivisionByZero is returned when a value is divided by zero.
	ErrDivisionByZero = errors.New("money: division by zero")
)

// Money is an immutable monetary amount paired with its ISO currency code.
// Amounts are rounded to two decimal places on construction and after every
// arithmetic operation.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New constructs a Money value from a decimal amount.
func New(amount decimal.Decimal, currency string) Money {
	return Money{amount: amount.Round(2), currency: normalize(currency)}
}

// NewFromFloat constructs a Money value from a float amount.
func NewFromFloat(amount float64, currency string) Money {
	return New(decimal.NewFromFloat(amount), currency)
}

// Zero returns the zero value for the given currency.
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: normalize(currency)}
}

// FromMinorUnits builds a Money value from an integer count of the smallest
// currency unit (e.g. cents).
func FromMinorUnits(units int64, currency string) Money {
	return Money{amount: decimal.New(units, -2), currency: normalize(currency)}
}

// MinorUnits returns the amount expressed in the smallest currency unit.
func (m Money) MinorUnits() int64 {
	return m.amount.Round(2).Shift(2).IntPart()
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the ISO currency code.
func (m Money) Currency() string { return m.currency }

// Add returns m + other. Both values must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount).Round(2), currency: m.currency}, nil
}

// Sub returns m - other. Both values must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount).Round(2), currency: m.currency}, nil
}

// Mul returns m scaled by the given factor.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor).Round(2), currency: m.currency}
}

// MulFloat returns m scaled by the given float factor.
func (m Money) MulFloat(factor float64) Money {
	return m.Mul(decimal.NewFromFloat(factor))
}

// Div returns m divided by the given divisor. Zero divisors are rejected.
func (m Money) Div(divisor decimal.Decimal) (Money, error) {
	if divisor.IsZero() {
		return Money{}, ErrDivisionByZero
	}
	return Money{amount: m.amount.Div(divisor).Round(2), currency: m.currency}, nil
}

// Cmp compares m against other: -1 when smaller, 0 when equal, 1 when larger.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// GreaterThan reports whether m exceeds other.
func (m Money) GreaterThan(other Money) (bool, error) {
	c, err := m.Cmp(other)
	return c > 0, err
}

// LessThan reports whether m is below other.
func (m Money) LessThan(other Money) (bool, error) {
	c, err := m.Cmp(other)
	return c < 0, err
}

// Equal reports whether m and other carry the same amount and currency.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// String renders the value in a locale-free "12.34 USD" form.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(2), m.currency)
}

// Max returns the larger of two same-currency values.
func Max(a, b Money) (Money, error) {
	greater, err := a.GreaterThan(b)
	if err != nil {
		return Money{}, err
	}
	if greater {
		return a, nil
	}
	return b, nil
}

// Min returns the smaller of two same-currency values.
func Min(a, b Money) (Money, error) {
	less, err := a.LessThan(b)
	if err != nil {
		return Money{}, err
	}
	if less {
		return a, nil
	}
	return b, nil
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the value as {"amount":"12.34","currency":"USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.StringFixed(2), Currency: m.currency})
}

// UnmarshalJSON decodes the canonical JSON form.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(raw.Amount)
	if err != nil {
		return fmt.Errorf("money: parse amount: %w", err)
	}
	*m = New(amount, raw.Currency)
	return nil
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}

func normalize(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

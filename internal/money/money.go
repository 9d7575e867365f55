// Package money implements an immutable, currency-tagged amount rounded to
// two fractional digits.
package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fjod/go_store/internal/apperr"
	"github.com/shopspring/decimal"
)

const (
	DefaultCurrency = "BRL"
	scale           = 2
)

var (
	ErrInvalidAmount    = &apperr.Error{Kind: apperr.KindInvalidArgument, Code: apperr.CodeInvalidAmount, Message: "amount must not be negative"}
	ErrCurrencyMismatch = &apperr.Error{Kind: apperr.KindInvalidArgument, Code: apperr.CodeCurrencyMismatch, Message: "currency mismatch"}
)

type Money struct {
	amount   decimal.Decimal
	currency string
}

// Of builds an amount in the default currency.
func Of(amount decimal.Decimal) (Money, error) {
	return New(amount, DefaultCurrency)
}

func New(amount decimal.Decimal, currency string) (Money, error) {
	if amount.IsNegative() {
		return Money{}, apperr.InvalidArgument(apperr.CodeInvalidAmount, "amount must not be negative: %s", amount.String())
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	currency = strings.ToUpper(currency)
	if !isCurrencyCode(currency) {
		return Money{}, apperr.InvalidArgument(apperr.CodeInvalidArgument, "currency must be a three-letter code: %q", currency)
	}
	return Money{amount: round(amount), currency: currency}, nil
}

func isCurrencyCode(c string) bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}

// Parse reads a decimal string such as "19.90".
func Parse(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, apperr.InvalidArgument(apperr.CodeInvalidAmount, "invalid amount %q", s)
	}
	return New(d, currency)
}

// MustParse is Parse for literals known to be valid.
func MustParse(s, currency string) Money {
	m, err := Parse(s, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func Zero(currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{amount: decimal.Zero, currency: strings.ToUpper(currency)}
}

func (m Money) Amount() decimal.Decimal {
	return m.amount
}

func (m Money) Currency() string {
	if m.currency == "" {
		return DefaultCurrency
	}
	return m.currency
}

func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: round(m.amount.Add(other.amount)), currency: m.Currency()}, nil
}

func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	result := m.amount.Sub(other.amount)
	if result.IsNegative() {
		return Money{}, apperr.InvalidArgument(apperr.CodeInvalidAmount, "subtracting %s from %s would be negative", other, m)
	}
	return Money{amount: round(result), currency: m.Currency()}, nil
}

func (m Money) Multiply(n int) (Money, error) {
	if n < 0 {
		return Money{}, apperr.InvalidArgument(apperr.CodeInvalidAmount, "multiplier must not be negative: %d", n)
	}
	return Money{amount: round(m.amount.Mul(decimal.NewFromInt(int64(n)))), currency: m.Currency()}, nil
}

// Compare returns -1, 0 or 1.
func (m Money) Compare(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

func (m Money) Equal(other Money) bool {
	return m.Currency() == other.Currency() && m.amount.Equal(other.amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency(), m.amount.StringFixed(scale))
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency() != other.Currency() {
		return apperr.InvalidArgument(apperr.CodeCurrencyMismatch, "currency mismatch: %s vs %s", m.Currency(), other.Currency())
	}
	return nil
}

func round(d decimal.Decimal) decimal.Decimal {
	// decimal.Round rounds half away from zero, which is half-up for the
	// non-negative amounts kept here.
	return d.Round(scale)
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.StringFixed(scale), Currency: m.Currency()})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal money: %w", err)
	}
	parsed, err := Parse(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

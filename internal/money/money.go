package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxScale is the number of decimal places an amount may carry.
const MaxScale = 4

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrTooManyDecimals  = errors.New("amount has too many decimal places")
	ErrNegativeAmount   = errors.New("amount must not be negative")
	ErrInvalidCurrency  = errors.New("invalid currency")
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrNegativeResult   = errors.New("operation would produce a negative amount")
	ErrDivisionByZero   = errors.New("division by zero")
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// Money is an immutable non-negative amount in a single currency.
type Money struct {
	amount   decimal.Decimal
	currency string
}

func New(amount decimal.Decimal, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !currencyRegex.MatchString(currency) {
		return Money{}, ErrInvalidCurrency
	}
	if amount.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	if amount.Exponent() < -MaxScale && !amount.Round(MaxScale).Equal(amount) {
		return Money{}, ErrTooManyDecimals
	}
	return Money{amount: amount, currency: currency}, nil
}

func Zero(currency string) (Money, error) {
	return New(decimal.Zero, currency)
}

// Parse reads a non-negative decimal string such as "12.50".
func Parse(raw, currency string) (Money, error) {
	amount, err := ParseAmount(raw)
	if err != nil {
		return Money{}, err
	}
	return New(amount, currency)
}

// MustParse is Parse for constants and tests. It panics on bad input.
func MustParse(raw, currency string) Money {
	m, err := Parse(raw, currency)
	if err != nil {
		panic(fmt.Sprintf("money: MustParse(%q, %q): %v", raw, currency, err))
	}
	return m
}

// ParseAmount reads a signed decimal string with at most MaxScale decimals.
func ParseAmount(input string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	unsigned := strings.TrimLeft(trimmed, "+-")
	parts := strings.SplitN(unsigned, ".", 2)
	if parts[0] == "" && (len(parts) == 1 || parts[1] == "") {
		return decimal.Zero, ErrInvalidAmount
	}
	if !isDigits(parts[0]) {
		return decimal.Zero, ErrInvalidAmount
	}
	if len(parts) == 2 {
		if !isDigits(parts[1]) {
			return decimal.Zero, ErrInvalidAmount
		}
		if len(parts[1]) > MaxScale {
			return decimal.Zero, ErrTooManyDecimals
		}
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return value, nil
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsPositive() bool        { return m.amount.IsPositive() }

func (m Money) SameCurrency(other Money) bool {
	return m.currency == other.currency
}

func (m Money) Add(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, ErrCurrencyMismatch
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

func (m Money) Subtract(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, ErrCurrencyMismatch
	}
	result := m.amount.Sub(other.amount)
	if result.IsNegative() {
		return Money{}, ErrNegativeResult
	}
	return Money{amount: result, currency: m.currency}, nil
}

// SubtractFloor subtracts and clamps the result at zero.
func (m Money) SubtractFloor(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, ErrCurrencyMismatch
	}
	if other.amount.GreaterThan(m.amount) {
		return Money{amount: decimal.Zero, currency: m.currency}, nil
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

func (m Money) Multiply(factor decimal.Decimal) (Money, error) {
	if factor.IsNegative() {
		return Money{}, ErrNegativeResult
	}
	return Money{amount: m.amount.Mul(factor), currency: m.currency}, nil
}

func (m Money) Divide(divisor decimal.Decimal) (Money, error) {
	if divisor.IsZero() {
		return Money{}, ErrDivisionByZero
	}
	if divisor.IsNegative() {
		return Money{}, ErrNegativeResult
	}
	return Money{amount: m.amount.DivRound(divisor, 16), currency: m.currency}, nil
}

// Round uses banker's rounding to the given number of places.
func (m Money) Round(places int32) Money {
	return Money{amount: m.amount.RoundBank(places), currency: m.currency}
}

// Cmp compares amounts. Currencies must match; callers check SameCurrency first.
func (m Money) Cmp(other Money) int {
	if !m.SameCurrency(other) {
		panic(fmt.Sprintf("money: comparing %s with %s", m.currency, other.currency))
	}
	return m.amount.Cmp(other.amount)
}

func (m Money) Equal(other Money) bool {
	return m.SameCurrency(other) && m.amount.Equal(other.amount)
}

func (m Money) GreaterThan(other Money) bool        { return m.Cmp(other) > 0 }
func (m Money) GreaterThanOrEqual(other Money) bool { return m.Cmp(other) >= 0 }
func (m Money) LessThan(other Money) bool           { return m.Cmp(other) < 0 }

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if b.LessThan(a) {
		return b
	}
	return a
}

// Format renders the amount with at least two decimals.
func (m Money) Format() string {
	if m.amount.Round(2).Equal(m.amount) {
		return m.amount.StringFixed(2)
	}
	return m.amount.String()
}

func (m Money) String() string {
	return m.Format() + " " + m.currency
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Format(), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

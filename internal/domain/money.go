package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount of CNY stored as integer fen (10^-2) to avoid floating point errors.
type Money int64

// MaxMoney bounds any single amount (10 trillion yuan). Sums of many such
// amounts still fit in int64.
const MaxMoney Money = 1_000_000_000_000_000

var (
	fenPerYuan = decimal.NewFromInt(100)
	maxFen     = decimal.NewFromInt(int64(MaxMoney))
)

// ParseMoney parses a yuan amount such as "1000.00". More than two decimal places is rejected.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// FromDecimal converts a yuan decimal to fen. Sub-fen precision is rejected, never rounded.
func FromDecimal(d decimal.Decimal) (Money, error) {
	fen := d.Mul(fenPerYuan)
	if !fen.Equal(fen.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, d.String())
	}
	if fen.Abs().GreaterThan(maxFen) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d.String())
	}
	return Money(fen.IntPart()), nil
}

// ToDecimal converts fen to a yuan decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// MulFloor multiplies by a percentage and rounds down to the fen.
func (m Money) MulFloor(pct decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(m)).Mul(pct).Floor().IntPart())
}

// Positive reports whether m is strictly greater than zero.
func (m Money) Positive() bool {
	return m > 0
}

// String renders the amount in yuan with exactly two decimals.
func (m Money) String() string {
	return m.ToDecimal().StringFixed(2)
}

// MarshalJSON encodes the amount as a two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON string ("12.34") or number (12.34).
func (m *Money) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

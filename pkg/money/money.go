// Package money provides a fixed-scale currency amount.
//
// Every Money carries exactly two fractional digits. Values are rounded
// half away from zero when constructed and after every arithmetic step,
// so Of(Of(x).Decimal()) always equals Of(x).
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept
const Scale = 2

// ErrInvalidAmount is returned when a textual amount cannot be parsed
var ErrInvalidAmount = errors.New("money: invalid amount")

// Money is an immutable amount at Scale fractional digits.
// The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

// Of rounds d to Scale digits
func Of(d decimal.Decimal) Money {
	return Money{d: round(d)}
}

// FromInt returns a whole amount
func FromInt(units int64) Money {
	return Money{d: decimal.NewFromInt(units)}
}

// Zero returns 0.00
func Zero() Money {
	return Money{}
}

// Parse reads a decimal string such as "1000", "12.5" or "0.125".
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Of(d), nil
}

// MustParse is Parse for constants and tests. It panics on bad input.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// round applies half-away-from-zero at Scale, which matches HALF_UP for
// both signs.
func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Plus returns m + o
func (m Money) Plus(o Money) Money {
	return Money{d: round(m.d.Add(o.d))}
}

// Minus returns m - o
func (m Money) Minus(o Money) Money {
	return Money{d: round(m.d.Sub(o.d))}
}

// IsPositive reports m > 0
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// IsNegative reports m < 0
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// IsZero reports m == 0
func (m Money) IsZero() bool { return m.d.IsZero() }

// Cmp returns -1, 0 or +1
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// LessThan reports m < o
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

// LessOrEqual reports m <= o
func (m Money) LessOrEqual(o Money) bool { return m.d.LessThanOrEqual(o.d) }

// GreaterThan reports m > o
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }

// Equal compares by value, so 10 and 10.00 are equal
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

// Decimal exposes the underlying value
func (m Money) Decimal() decimal.Decimal { return m.d }

// String formats with exactly Scale digits, e.g. "10000.00"
func (m Money) String() string {
	return m.d.StringFixed(Scale)
}

// MarshalJSON writes the amount as a quoted string to keep precision
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.34" and 12.34
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" {
		return fmt.Errorf("%w: null", ErrInvalidAmount)
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value implements driver.Valuer
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner for NUMERIC columns
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	*m = Of(d)
	return nil
}

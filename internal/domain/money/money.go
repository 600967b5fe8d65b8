// Package money provides the exact decimal amount type used by account
// balances and transaction deltas. Amounts serialize as decimal strings so
// no precision is lost on the wire or in the journal.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrNotPositive    = errors.New("amount must be positive")
)

// Amount is an exact, arbitrary-precision decimal. The zero value is 0.
type Amount struct {
	dec decimal.Decimal
}

func Zero() Amount {
	return Amount{}
}

// Parse reads a decimal string and requires it to be >= 0.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return Amount{}, ErrNegativeAmount
	}
	return Amount{dec: d}, nil
}

// ParsePositive reads a decimal string and requires it to be > 0.
// Transaction deltas must be positive; the direction comes from the
// operation kind, not the sign.
func ParsePositive(s string) (Amount, error) {
	a, err := Parse(s)
	if err != nil {
		return Amount{}, err
	}
	if !a.dec.IsPositive() {
		return Amount{}, ErrNotPositive
	}
	return a, nil
}

// MustParse is for tests and constants.
func MustParse(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return Amount{dec: d}
}

func (a Amount) Add(b Amount) Amount {
	return Amount{dec: a.dec.Add(b.dec)}
}

func (a Amount) Sub(b Amount) Amount {
	return Amount{dec: a.dec.Sub(b.dec)}
}

func (a Amount) Neg() Amount {
	return Amount{dec: a.dec.Neg()}
}

func (a Amount) IsNegative() bool {
	return a.dec.IsNegative()
}

func (a Amount) IsZero() bool {
	return a.dec.IsZero()
}

func (a Amount) Equal(b Amount) bool {
	return a.dec.Equal(b.dec)
}

// GreaterOrEqual reports a >= b.
func (a Amount) GreaterOrEqual(b Amount) bool {
	return a.dec.GreaterThanOrEqual(b.dec)
}

func (a Amount) String() string {
	return a.dec.String()
}

// MarshalJSON emits the amount as a decimal string with trailing zeros
// trimmed, e.g. 10.50 becomes "10.5".
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.dec.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	a.dec = d
	return nil
}

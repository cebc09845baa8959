package config

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Amount is a base-token amount written as a decimal integer, e.g. "10000000".
type Amount struct {
	v *uint256.Int
}

// NewAmount wraps v.
func NewAmount(v uint64) Amount {
	return Amount{v: uint256.NewInt(v)}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		a.v = nil
		return nil
	}
	v, err := uint256.FromDecimal(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid amount %q: %w", value.Line, value.Value, err)
	}
	a.v = v
	return nil
}

// Int returns the amount, or zero when unset. The result is a copy.
func (a Amount) Int() *uint256.Int {
	if a.v == nil {
		return new(uint256.Int)
	}
	return a.v.Clone()
}

// IsZero reports whether the amount is unset or zero.
func (a Amount) IsZero() bool {
	return a.v == nil || a.v.IsZero()
}

func (a Amount) String() string {
	return a.Int().Dec()
}

// Probability is an implied probability in [0, 1], e.g. "0.525".
type Probability struct {
	decimal.Decimal
	set bool
}

// NewProbability parses s, panicking on malformed input. Intended for tests
// and constants.
func NewProbability(s string) Probability {
	return Probability{Decimal: decimal.RequireFromString(s), set: true}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Probability) UnmarshalYAML(value *yaml.Node) error {
	d, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid probability %q: %w", value.Line, value.Value, err)
	}
	p.Decimal = d
	p.set = true
	return nil
}

// IsSet reports whether the value came from the config file.
func (p Probability) IsSet() bool {
	return p.set
}

// Package odds implements the fixed-point price and stake arithmetic used when
// copying orders.
//
// Prices are implied probabilities scaled by 10^20 (so 10^20 is 100%). The
// exchange only accepts prices on a ladder whose rungs are a multiple of
// step × 10^15; the default step of 125 gives rungs every 0.125%.
//
// Every function is pure and safe for concurrent use. Inputs are never
// modified; results are freshly allocated.
package odds

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DefaultLadderStep is the exchange's default ladder step in units of 10^15.
const DefaultLadderStep = 125

// MaxStakePercentage bounds ScaleStake's percentage argument.
const MaxStakePercentage = 1000

const (
	precisionExp = 20
	basisPoints  = 10000
)

var (
	// Precision is 10^20, the fixed-point scale of a price.
	Precision = uint256.MustFromDecimal("100000000000000000000")

	stepUnit = uint256.MustFromDecimal("1000000000000000")
)

// Errors
var (
	ErrOutOfRange        = errors.New("price outside [0, 10^20]")
	ErrNegative          = errors.New("would be negative")
	ErrInvalidStep       = errors.New("ladder step must be positive")
	ErrInvalidPercentage = errors.New("percentage out of range")
	ErrOverflow          = errors.New("arithmetic overflow")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// ValidationError describes an input or result that failed validation.
type ValidationError struct {
	Op    string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(op string, v fmt.Stringer, err error) error {
	return &ValidationError{Op: op, Value: v.String(), Err: err}
}

// ValidatePrice checks that price lies in [0, Precision].
func ValidatePrice(price *uint256.Int) error {
	if price == nil {
		return &ValidationError{Op: "validate", Value: "<nil>", Err: ErrInvalidAmount}
	}
	if price.Gt(Precision) {
		return invalid("validate", price, ErrOutOfRange)
	}
	return nil
}

// AdjustByPercentage scales price by (1 + pct/100) in basis-point integer
// arithmetic: price × (10000 + round(pct×100)) / 10000. When forceLadder is
// set the result is floored to the ladder.
func AdjustByPercentage(price *uint256.Int, pct float64, forceLadder bool, step uint64) (*uint256.Int, error) {
	if err := ValidatePrice(price); err != nil {
		return nil, err
	}
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return nil, &ValidationError{Op: "adjust by percentage", Value: fmt.Sprint(pct), Err: ErrInvalidPercentage}
	}

	factor := basisPoints + int64(math.Round(pct*100))
	if factor < 0 {
		return nil, &ValidationError{Op: "adjust by percentage", Value: fmt.Sprint(pct), Err: ErrNegative}
	}

	result, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(uint64(factor)))
	if overflow {
		return nil, invalid("adjust by percentage", price, ErrOverflow)
	}
	result.Div(result, uint256.NewInt(basisPoints))

	if result.Gt(Precision) {
		return nil, invalid("adjust by percentage", result, ErrOutOfRange)
	}

	if forceLadder {
		return QuantizeToLadder(result, step)
	}
	return result, nil
}

// AdjustBySteps moves price by steps ladder rungs (negative moves down).
func AdjustBySteps(price *uint256.Int, steps int64, step uint64) (*uint256.Int, error) {
	if err := ValidatePrice(price); err != nil {
		return nil, err
	}
	unit, err := rungSize(step)
	if err != nil {
		return nil, err
	}

	n := uint64(steps)
	if steps < 0 {
		n = uint64(-steps)
	}
	delta, overflow := new(uint256.Int).MulOverflow(unit, uint256.NewInt(n))
	if overflow {
		return nil, invalid("adjust by steps", price, ErrOverflow)
	}

	result := new(uint256.Int)
	if steps < 0 {
		if delta.Gt(price) {
			return nil, invalid("adjust by steps", price, ErrNegative)
		}
		result.Sub(price, delta)
	} else {
		result.Add(price, delta)
	}

	if result.Gt(Precision) {
		return nil, invalid("adjust by steps", result, ErrOutOfRange)
	}
	return result, nil
}

// QuantizeToLadder floors price to the nearest rung at or below it.
func QuantizeToLadder(price *uint256.Int, step uint64) (*uint256.Int, error) {
	if err := ValidatePrice(price); err != nil {
		return nil, err
	}
	unit, err := rungSize(step)
	if err != nil {
		return nil, err
	}

	rem := new(uint256.Int).Mod(price, unit)
	return new(uint256.Int).Sub(price, rem), nil
}

// OnLadder reports whether price sits exactly on a rung.
func OnLadder(price *uint256.Int, step uint64) bool {
	unit, err := rungSize(step)
	if err != nil || price == nil {
		return false
	}
	return new(uint256.Int).Mod(price, unit).IsZero()
}

// ScaleStake returns stake × round(pct×100) / 10000 for pct in [0, 1000].
func ScaleStake(stake *uint256.Int, pct float64) (*uint256.Int, error) {
	if stake == nil {
		return nil, &ValidationError{Op: "scale stake", Value: "<nil>", Err: ErrInvalidAmount}
	}
	if math.IsNaN(pct) || pct < 0 || pct > MaxStakePercentage {
		return nil, &ValidationError{Op: "scale stake", Value: fmt.Sprint(pct), Err: ErrInvalidPercentage}
	}

	factor := uint64(math.Round(pct * 100))
	result, overflow := new(uint256.Int).MulOverflow(stake, uint256.NewInt(factor))
	if overflow {
		return nil, invalid("scale stake", stake, ErrOverflow)
	}
	return result.Div(result, uint256.NewInt(basisPoints)), nil
}

// ClampStake bounds stake to [min, max]. When stake is outside the range ok
// is false and clamped is the violated bound; otherwise clamped is a copy of
// stake. A nil or zero max means unbounded. Whether a clamp is acceptable is
// the caller's decision.
func ClampStake(stake, min, max *uint256.Int) (ok bool, clamped *uint256.Int) {
	if min != nil && stake.Lt(min) {
		return false, min.Clone()
	}
	if max != nil && !max.IsZero() && stake.Gt(max) {
		return false, max.Clone()
	}
	return true, stake.Clone()
}

// ImpliedProbability returns price / 10^20 as an exact decimal.
func ImpliedProbability(price *uint256.Int) decimal.Decimal {
	if price == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(price.ToBig(), -precisionExp)
}

// PriceFromProbability converts a probability in [0, 1] to fixed point,
// truncating digits beyond 20 decimal places.
func PriceFromProbability(p decimal.Decimal) (*uint256.Int, error) {
	if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(1)) {
		return nil, &ValidationError{Op: "price from probability", Value: p.String(), Err: ErrOutOfRange}
	}
	scaled := p.Shift(precisionExp).Truncate(0)
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, &ValidationError{Op: "price from probability", Value: p.String(), Err: ErrOverflow}
	}
	return v, nil
}

// ParseAmount parses a base-10 unsigned integer string.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, &ValidationError{Op: "parse amount", Value: fmt.Sprintf("%q", s), Err: ErrInvalidAmount}
	}
	return v, nil
}

func rungSize(step uint64) (*uint256.Int, error) {
	if step == 0 {
		return nil, &ValidationError{Op: "ladder", Value: "0", Err: ErrInvalidStep}
	}
	unit, overflow := new(uint256.Int).MulOverflow(stepUnit, uint256.NewInt(step))
	if overflow || unit.Gt(Precision) {
		return nil, &ValidationError{Op: "ladder", Value: fmt.Sprint(step), Err: ErrInvalidStep}
	}
	return unit, nil
}

package odds

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func mustAmount(t testing.TB, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	if err != nil {
		t.Fatalf("FromDecimal(%q): %v", s, err)
	}
	return v
}

func TestAdjustByPercentage(t *testing.T) {
	tests := []struct {
		name        string
		price       string
		pct         float64
		forceLadder bool
		want        string
		wantErr     error
	}{
		{"plus ten percent", "50000000000000000000", 10, false, "55000000000000000000", nil},
		{"minus ten percent", "50000000000000000000", -10, false, "45000000000000000000", nil},
		{"zero percent", "50000000000000000000", 0, false, "50000000000000000000", nil},
		{"fractional percent rounds to basis points", "50000000000000000000", 0.125, false, "50065000000000000000", nil},
		{"ladder forced", "50000000000000000000", 0.1, true, "50000000000000000000", nil},
		{"result above one", "95000000000000000000", 10, false, "", ErrOutOfRange},
		{"input above one", "100000000000000000001", 0, false, "", ErrOutOfRange},
		{"factor below zero", "50000000000000000000", -150, false, "", ErrNegative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AdjustByPercentage(mustAmount(t, tt.price), tt.pct, tt.forceLadder, DefaultLadderStep)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("AdjustByPercentage() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AdjustByPercentage() error = %v", err)
			}
			if got.Dec() != tt.want {
				t.Errorf("AdjustByPercentage() = %s, want %s", got.Dec(), tt.want)
			}
		})
	}
}

func TestAdjustBySteps(t *testing.T) {
	tests := []struct {
		name    string
		price   string
		steps   int64
		want    string
		wantErr error
	}{
		{"up one rung", "50000000000000000000", 1, "50125000000000000000", nil},
		{"down two rungs", "50000000000000000000", -2, "49750000000000000000", nil},
		{"zero steps", "50000000000000000000", 0, "50000000000000000000", nil},
		{"down to zero", "125000000000000000", -1, "0", nil},
		{"below zero", "125000000000000000", -2, "", ErrNegative},
		{"above one", "100000000000000000000", 1, "", ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AdjustBySteps(mustAmount(t, tt.price), tt.steps, DefaultLadderStep)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("AdjustBySteps() error = %v, want %v", err, tt.wantErr)
				}
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("error %T is not *ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AdjustBySteps() error = %v", err)
			}
			if got.Dec() != tt.want {
				t.Errorf("AdjustBySteps() = %s, want %s", got.Dec(), tt.want)
			}
		})
	}
}

func TestQuantizeToLadder(t *testing.T) {
	tests := []struct {
		price string
		want  string
	}{
		{"50000000000000000000", "50000000000000000000"},
		{"50124999999999999999", "50000000000000000000"},
		{"50125000000000000000", "50125000000000000000"},
		{"0", "0"},
		{"100000000000000000000", "100000000000000000000"},
	}

	for _, tt := range tests {
		got, err := QuantizeToLadder(mustAmount(t, tt.price), DefaultLadderStep)
		if err != nil {
			t.Fatalf("QuantizeToLadder(%s) error = %v", tt.price, err)
		}
		if got.Dec() != tt.want {
			t.Errorf("QuantizeToLadder(%s) = %s, want %s", tt.price, got.Dec(), tt.want)
		}
	}

	if _, err := QuantizeToLadder(uint256.NewInt(1), 0); !errors.Is(err, ErrInvalidStep) {
		t.Errorf("QuantizeToLadder(step=0) error = %v, want %v", err, ErrInvalidStep)
	}
}

func TestScaleStake(t *testing.T) {
	stake := uint256.NewInt(1_000_000)

	tests := []struct {
		pct  float64
		want uint64
	}{
		{50, 500_000},
		{100, 1_000_000},
		{0, 0},
		{12.5, 125_000},
		{1000, 10_000_000},
	}
	for _, tt := range tests {
		got, err := ScaleStake(stake, tt.pct)
		if err != nil {
			t.Fatalf("ScaleStake(%v) error = %v", tt.pct, err)
		}
		if got.Uint64() != tt.want {
			t.Errorf("ScaleStake(%v) = %d, want %d", tt.pct, got.Uint64(), tt.want)
		}
	}

	for _, pct := range []float64{-1, 1000.01} {
		if _, err := ScaleStake(stake, pct); !errors.Is(err, ErrInvalidPercentage) {
			t.Errorf("ScaleStake(%v) error = %v, want %v", pct, err, ErrInvalidPercentage)
		}
	}

	if stake.Uint64() != 1_000_000 {
		t.Errorf("input mutated: %d", stake.Uint64())
	}
}

func TestClampStake(t *testing.T) {
	min := uint256.NewInt(100)
	max := uint256.NewInt(1000)

	tests := []struct {
		name  string
		stake uint64
		max   *uint256.Int
		ok    bool
		want  uint64
	}{
		{"below min", 99, max, false, 100},
		{"at min", 100, max, true, 100},
		{"inside", 500, max, true, 500},
		{"at max", 1000, max, true, 1000},
		{"above max", 5000, max, false, 1000},
		{"no max", 5000, nil, true, 5000},
		{"zero max", 5000, uint256.NewInt(0), true, 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, got := ClampStake(uint256.NewInt(tt.stake), min, tt.max)
			if ok != tt.ok {
				t.Errorf("ok = %v, want %v", ok, tt.ok)
			}
			if got.Uint64() != tt.want {
				t.Errorf("clamped = %d, want %d", got.Uint64(), tt.want)
			}
		})
	}
}

func TestImpliedProbability(t *testing.T) {
	got := ImpliedProbability(mustAmount(t, "52500000000000000000"))
	if !got.Equal(decimal.RequireFromString("0.525")) {
		t.Errorf("ImpliedProbability() = %s, want 0.525", got)
	}

	price, err := PriceFromProbability(decimal.RequireFromString("0.525"))
	if err != nil {
		t.Fatalf("PriceFromProbability() error = %v", err)
	}
	if price.Dec() != "52500000000000000000" {
		t.Errorf("PriceFromProbability() = %s, want 52500000000000000000", price.Dec())
	}

	if _, err := PriceFromProbability(decimal.RequireFromString("1.01")); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("PriceFromProbability(1.01) error = %v, want %v", err, ErrOutOfRange)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000000")
	if err != nil || v.Uint64() != 1000000 {
		t.Errorf("ParseAmount() = %v, %v", v, err)
	}
	if _, err := ParseAmount("12x"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("ParseAmount(12x) error = %v, want %v", err, ErrInvalidAmount)
	}
}

var defaultRung = uint256.MustFromDecimal("125000000000000000")

// genPrice draws a price in [0, 10^20].
func genPrice(t *rapid.T, label string) *uint256.Int {
	hi := rapid.Uint64Range(0, 99).Draw(t, label+"_hi")
	lo := rapid.Uint64Range(0, 999_999_999_999_999_999).Draw(t, label+"_lo")
	v := new(uint256.Int).Mul(uint256.NewInt(hi), uint256.NewInt(1_000_000_000_000_000_000))
	return v.Add(v, uint256.NewInt(lo))
}

func TestProperty_QuantizeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		price := genPrice(t, "price")
		step := rapid.Uint64Range(1, 1000).Draw(t, "step")

		once, err := QuantizeToLadder(price, step)
		if err != nil {
			t.Fatalf("QuantizeToLadder: %v", err)
		}
		twice, err := QuantizeToLadder(once, step)
		if err != nil {
			t.Fatalf("QuantizeToLadder: %v", err)
		}
		if !once.Eq(twice) {
			t.Fatalf("quantize not idempotent: %s -> %s -> %s", price, once, twice)
		}
		if once.Gt(price) {
			t.Fatalf("quantize rounded up: %s -> %s", price, once)
		}
		if !OnLadder(once, step) {
			t.Fatalf("%s not on ladder step %d", once, step)
		}
	})
}

func TestProperty_StepsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rung := rapid.Uint64Range(0, 800).Draw(t, "rung")
		k := rapid.Int64Range(0, 800-int64(rung)).Draw(t, "k")

		price := new(uint256.Int).Mul(uint256.NewInt(rung), defaultRung)

		up, err := AdjustBySteps(price, k, DefaultLadderStep)
		if err != nil {
			t.Fatalf("AdjustBySteps(+%d): %v", k, err)
		}
		back, err := AdjustBySteps(up, -k, DefaultLadderStep)
		if err != nil {
			t.Fatalf("AdjustBySteps(-%d): %v", k, err)
		}
		if !back.Eq(price) {
			t.Fatalf("round trip %s -> %s -> %s", price, up, back)
		}
	})
}

package model

import (
	"time"

	"github.com/holiman/uint256"
)

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

// OrderStatus is the exchange-reported lifecycle state of an order.
type OrderStatus string

const (
	StatusActive   OrderStatus = "ACTIVE"
	StatusInactive OrderStatus = "INACTIVE"
	StatusFilled   OrderStatus = "FILLED"
)

// Order is a maker order as seen on the feed or built locally.
//
// Amount fields are never mutated in place after construction; use Clone
// before handing an order to another goroutine that may modify it.
type Order struct {
	Hash       string // Order hash (identity)
	Maker      string // Maker address
	MarketHash string // Market this order belongs to
	BaseToken  string // Stake token address
	Executor   string // Exchange executor address

	TotalBetSize      *uint256.Int // Stake in base-token minor units
	PercentageOdds    *uint256.Int // Maker implied probability, 10^20 = 100%
	FillAmount        *uint256.Int // Matched so far
	PendingFillAmount *uint256.Int // Matched but not yet settled on chain

	Expiry                   int64        // Deprecated on-chain expiry (unix seconds)
	APIExpiry                int64        // Exchange-side expiry (unix seconds)
	Salt                     *uint256.Int // 256-bit random nonce
	IsMakerBettingOutcomeOne bool
	Signature                string

	Status     OrderStatus
	UpdateTime int64 // Feed update time (ms since epoch)
}

// Remaining returns TotalBetSize - FillAmount, floored at zero.
func (o Order) Remaining() *uint256.Int {
	total := orZero(o.TotalBetSize)
	fill := orZero(o.FillAmount)
	if fill.Gt(total) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(total, fill)
}

// Clone returns a deep copy of the order.
func (o Order) Clone() Order {
	c := o
	c.TotalBetSize = cloneAmount(o.TotalBetSize)
	c.PercentageOdds = cloneAmount(o.PercentageOdds)
	c.FillAmount = cloneAmount(o.FillAmount)
	c.PendingFillAmount = cloneAmount(o.PendingFillAmount)
	c.Salt = cloneAmount(o.Salt)
	return c
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// -----------------------------------------------------------------------------
// Markets
// -----------------------------------------------------------------------------

// Market holds the attributes the filter stage needs. Entries are cached
// for the process lifetime; attributes are assumed immutable.
type Market struct {
	Hash         string
	EventID      string // Exchange event identifier, used for bulk cancels
	SportID      int
	LeagueID     int
	Type         int // Exchange market type (1 = 1X2, 2 = under/over, 3 = spread, ...)
	Status       string
	GameTime     time.Time
	TeamOneName  string
	TeamTwoName  string
	OutcomeOne   string
	OutcomeTwo   string
	Legs         []string // Leg market hashes; non-empty for parlays
	ParlayMarket bool
}

// IsParlay reports whether the market is a combination of other markets.
func (m Market) IsParlay() bool {
	return m.ParlayMarket || len(m.Legs) > 0
}

// IsLive reports whether the game has started at the given instant.
func (m Market) IsLive(now time.Time) bool {
	return !m.GameTime.IsZero() && !m.GameTime.After(now)
}

// -----------------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------------

// Mapping relates a copied source order to the order we placed for it.
type Mapping struct {
	SourceHash string
	Derived    Order
	CreatedAt  time.Time
}

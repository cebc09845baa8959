package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/rickgao/sx-copybot/internal/model"
	"github.com/rickgao/sx-copybot/internal/odds"
)

// EventKind classifies an ingested order update.
type EventKind int

const (
	EventCandidate EventKind = iota // New source order that passed every filter
	EventFiltered                   // New source order rejected by a filter
	EventCancelled                  // Order went INACTIVE
	EventFilled                     // Order went FILLED
	EventOwnUpdate                  // ACTIVE update for an order this wallet placed
)

func (k EventKind) String() string {
	switch k {
	case EventCandidate:
		return "candidate"
	case EventFiltered:
		return "filtered"
	case EventCancelled:
		return "cancelled"
	case EventFilled:
		return "filled"
	case EventOwnUpdate:
		return "own_update"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one classified order update.
type Event struct {
	Kind    EventKind
	Account string // Account whose channel delivered the update
	Own     bool   // Account is this wallet
	Order   model.Order
	Market  model.Market // Set for EventCandidate and for filter rejections after lookup
	Reason  string       // Set for EventFiltered

	ReceivedAt time.Time
}

// Stats provides statistics about the stage.
type Stats struct {
	Batches      int64
	Updates      int64
	Duplicates   int64
	DecodeErrors int64
	Skipped      int64
	Candidates   int64
	Filtered     int64
	Dropped      int64 // Events discarded because the stage was closed
}

// Config holds ingest stage configuration.
type Config struct {
	BaseToken     string // Token whose channels are watched
	OwnAccount    string // This wallet's address
	Filters       Filters
	EventBuffer   int           // Capacity of the Events channel
	LookupTimeout time.Duration // Deadline for market lookups per batch
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		EventBuffer:   1024,
		LookupTimeout: 10 * time.Second,
	}
}

// orderWire is one element of an active-order batch. Amounts arrive as
// decimal strings.
type orderWire struct {
	OrderHash                string      `json:"orderHash"`
	MarketHash               string      `json:"marketHash"`
	Status                   string      `json:"status"`
	FillAmount               string      `json:"fillAmount"`
	PendingFillAmount        string      `json:"pendingFillAmount"`
	TotalBetSize             string      `json:"totalBetSize"`
	PercentageOdds           string      `json:"percentageOdds"`
	Expiry                   json.Number `json:"expiry"`
	APIExpiry                json.Number `json:"apiExpiry"`
	BaseToken                string      `json:"baseToken"`
	Executor                 string      `json:"executor"`
	Salt                     string      `json:"salt"`
	IsMakerBettingOutcomeOne bool        `json:"isMakerBettingOutcomeOne"`
	Signature                string      `json:"signature"`
	UpdateTime               json.Number `json:"updateTime"`
	Maker                    string      `json:"maker"`
}

func (w orderWire) toModel() (model.Order, error) {
	o := model.Order{
		Hash:                     w.OrderHash,
		Maker:                    w.Maker,
		MarketHash:               w.MarketHash,
		BaseToken:                w.BaseToken,
		Executor:                 w.Executor,
		IsMakerBettingOutcomeOne: w.IsMakerBettingOutcomeOne,
		Signature:                w.Signature,
		Status:                   model.OrderStatus(w.Status),
	}
	if o.Hash == "" {
		return model.Order{}, fmt.Errorf("order without hash")
	}

	var err error
	if o.TotalBetSize, err = amount(w.TotalBetSize); err != nil {
		return model.Order{}, fmt.Errorf("totalBetSize: %w", err)
	}
	if o.PercentageOdds, err = amount(w.PercentageOdds); err != nil {
		return model.Order{}, fmt.Errorf("percentageOdds: %w", err)
	}
	if o.FillAmount, err = amount(w.FillAmount); err != nil {
		return model.Order{}, fmt.Errorf("fillAmount: %w", err)
	}
	if o.PendingFillAmount, err = amount(w.PendingFillAmount); err != nil {
		return model.Order{}, fmt.Errorf("pendingFillAmount: %w", err)
	}
	if o.Salt, err = amount(w.Salt); err != nil {
		return model.Order{}, fmt.Errorf("salt: %w", err)
	}
	if o.Expiry, err = integer(w.Expiry); err != nil {
		return model.Order{}, fmt.Errorf("expiry: %w", err)
	}
	if o.APIExpiry, err = integer(w.APIExpiry); err != nil {
		return model.Order{}, fmt.Errorf("apiExpiry: %w", err)
	}
	if o.UpdateTime, err = integer(w.UpdateTime); err != nil {
		return model.Order{}, fmt.Errorf("updateTime: %w", err)
	}
	return o, nil
}

// amount parses a decimal amount; an absent field is zero.
func amount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return odds.ParseAmount(s)
}

func integer(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	return n.Int64()
}

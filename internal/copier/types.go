package copier

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/rickgao/sx-copybot/internal/config"
	"github.com/rickgao/sx-copybot/internal/model"
)

// Errors
var (
	ErrStakeBelowMinimum = errors.New("stake below minimum")
	ErrNothingInserted   = errors.New("no orders inserted")
	ErrUnknownMethod     = errors.New("unknown method")
)

// Status is the outcome of a copy.
type Status int

const (
	StatusSubmitted Status = iota // Exchange accepted the derived order
	StatusDisabled                // Copying is switched off; nothing was sent
	StatusRejected                // Exchange refused the order
	StatusFailed                  // A local step or the transport failed
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusDisabled:
		return "disabled"
	case StatusRejected:
		return "rejected"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Step names a stage of the copy pipeline.
type Step string

const (
	StepDelay  Step = "delay"
	StepPrice  Step = "price"
	StepStake  Step = "stake"
	StepBuild  Step = "build"
	StepSign   Step = "sign"
	StepSubmit Step = "submit"
)

// Modifications records how the derived order differs from its source.
type Modifications struct {
	PriceBefore  *uint256.Int
	PriceAfter   *uint256.Int
	StakeBefore  *uint256.Int
	StakeAfter   *uint256.Int
	StakeClamped bool // Stake was lowered to the configured maximum
	MakerBefore  string
	MakerAfter   string
	Steps        []Step // Steps completed, in order
}

// Result describes one copy attempt.
type Result struct {
	OperationID uuid.UUID
	SourceHash  string
	Source      string // Account the source order came from
	Status      Status
	Step        Step   // Step that stopped a failed or rejected copy
	Reason      string // Exchange status or rejection message
	Err         error

	Order         model.Order // Derived order; Hash is set once submitted
	Modifications Modifications

	StartedAt time.Time
	Duration  time.Duration
}

// OK reports whether the derived order was accepted.
func (r Result) OK() bool {
	return r.Status == StatusSubmitted
}

// StakeConfig bounds and scales the copied stake.
type StakeConfig struct {
	Method     string
	Percentage float64
	Min        *uint256.Int
	Max        *uint256.Int // Zero = unbounded
}

// Config holds copier configuration.
type Config struct {
	Enabled       bool
	Delay         time.Duration // Wait before each copy
	OrderTTL      time.Duration // Derived order lifetime
	SubmitTimeout time.Duration // Deadline for the submit call

	BaseToken  string // Overrides the source's base token when set
	Executor   string
	LadderStep uint64

	Price config.PriceConfig
	Stake StakeConfig
}

// NewConfig converts the copy section of the config. The exchange-derived
// fields (Executor, LadderStep) are left for the caller.
func NewConfig(cfg config.CopyConfig) Config {
	return Config{
		Enabled:       cfg.Enabled,
		Delay:         cfg.Delay,
		OrderTTL:      cfg.OrderTTL,
		SubmitTimeout: 30 * time.Second,
		Price:         cfg.Price,
		Stake: StakeConfig{
			Method:     cfg.Stake.Method,
			Percentage: cfg.Stake.Percentage,
			Min:        cfg.Stake.Min.Int(),
			Max:        cfg.Stake.Max.Int(),
		},
	}
}

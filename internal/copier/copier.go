// Package copier turns a candidate source order into a signed order for this
// wallet and submits it.
//
// A copy runs a fixed sequence of steps: delay, price, stake, build, sign,
// submit. The first failing step ends the copy and is named in the Result.
// The copier never consults or updates the ledger; claiming the source and
// recording the mapping are the caller's job.
package copier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/rickgao/sx-copybot/internal/api"
	"github.com/rickgao/sx-copybot/internal/auth"
	"github.com/rickgao/sx-copybot/internal/config"
	"github.com/rickgao/sx-copybot/internal/model"
	"github.com/rickgao/sx-copybot/internal/odds"
)

// Signer signs derived orders. *auth.Signer implements it.
type Signer interface {
	Address() string
	SignOrder(order model.Order) (string, error)
}

// Exchange accepts signed orders. *api.Client implements it.
type Exchange interface {
	PostOrders(ctx context.Context, orders []api.APIOrder) (*api.PostOrdersResult, error)
}

// Stats provides statistics about the copier.
type Stats struct {
	Attempts  int64
	Submitted int64
	Rejected  int64
	Failed    int64
	Disabled  int64
}

// Copier builds, signs and submits derived orders.
type Copier struct {
	cfg      Config
	signer   Signer
	exchange Exchange
	logger   *slog.Logger
	now      func() time.Time

	attempts  atomic.Int64
	submitted atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
	disabled  atomic.Int64
}

// New creates a copier.
func New(cfg Config, signer Signer, exchange Exchange, logger *slog.Logger) *Copier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LadderStep == 0 {
		cfg.LadderStep = odds.DefaultLadderStep
	}
	return &Copier{
		cfg:      cfg,
		signer:   signer,
		exchange: exchange,
		logger:   logger.With("component", "copier"),
		now:      time.Now,
	}
}

// Copy derives an order from candidate and submits it. source is the
// account the candidate came from. Copy never returns an error; the outcome
// is in the Result.
func (c *Copier) Copy(ctx context.Context, candidate model.Order, source string) Result {
	res := Result{
		OperationID: uuid.New(),
		SourceHash:  candidate.Hash,
		Source:      source,
		StartedAt:   c.now(),
	}
	c.attempts.Add(1)

	c.run(ctx, candidate, &res)
	res.Duration = c.now().Sub(res.StartedAt)

	switch res.Status {
	case StatusSubmitted:
		c.submitted.Add(1)
		c.logger.Info("order copied",
			"operation_id", res.OperationID,
			"source_hash", res.SourceHash,
			"order_hash", res.Order.Hash,
			"price", res.Order.PercentageOdds,
			"stake", res.Order.TotalBetSize,
			"duration", res.Duration,
		)
	case StatusDisabled:
		c.disabled.Add(1)
		c.logger.Debug("copy disabled", "source_hash", res.SourceHash)
	case StatusRejected:
		c.rejected.Add(1)
		c.logger.Warn("copy rejected",
			"operation_id", res.OperationID,
			"source_hash", res.SourceHash,
			"reason", res.Reason,
			"error", res.Err,
		)
	default:
		c.failed.Add(1)
		c.logger.Warn("copy failed",
			"operation_id", res.OperationID,
			"source_hash", res.SourceHash,
			"step", res.Step,
			"error", res.Err,
		)
	}
	return res
}

// Stats returns current statistics.
func (c *Copier) Stats() Stats {
	return Stats{
		Attempts:  c.attempts.Load(),
		Submitted: c.submitted.Load(),
		Rejected:  c.rejected.Load(),
		Failed:    c.failed.Load(),
		Disabled:  c.disabled.Load(),
	}
}

func (c *Copier) run(ctx context.Context, candidate model.Order, res *Result) {
	if !c.cfg.Enabled {
		res.Status = StatusDisabled
		return
	}
	mods := &res.Modifications

	fail := func(step Step, err error) {
		res.Status = StatusFailed
		res.Step = step
		res.Err = err
	}

	if c.cfg.Delay > 0 {
		t := time.NewTimer(c.cfg.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			fail(StepDelay, ctx.Err())
			return
		}
		mods.Steps = append(mods.Steps, StepDelay)
	}

	price, err := c.price(candidate.PercentageOdds)
	if err != nil {
		fail(StepPrice, err)
		return
	}
	mods.PriceBefore, mods.PriceAfter = cloneAmount(candidate.PercentageOdds), price
	mods.Steps = append(mods.Steps, StepPrice)

	stake, clamped, err := c.stake(candidate.TotalBetSize)
	if err != nil {
		fail(StepStake, err)
		return
	}
	mods.StakeBefore, mods.StakeAfter, mods.StakeClamped = cloneAmount(candidate.TotalBetSize), stake, clamped
	mods.Steps = append(mods.Steps, StepStake)

	order, err := c.build(candidate, price, stake)
	if err != nil {
		fail(StepBuild, err)
		return
	}
	mods.MakerBefore, mods.MakerAfter = candidate.Maker, order.Maker
	mods.Steps = append(mods.Steps, StepBuild)
	res.Order = order

	sig, err := c.signer.SignOrder(order)
	if err != nil {
		fail(StepSign, fmt.Errorf("sign order: %w", err))
		return
	}
	res.Order.Signature = sig
	mods.Steps = append(mods.Steps, StepSign)

	if err := ctx.Err(); err != nil {
		fail(StepSubmit, err)
		return
	}
	c.submit(ctx, res)
}

// price applies the configured price method.
func (c *Copier) price(src *uint256.Int) (*uint256.Int, error) {
	if err := odds.ValidatePrice(src); err != nil {
		return nil, err
	}

	p := c.cfg.Price
	var (
		out *uint256.Int
		err error
	)
	switch p.Method {
	case config.PriceMethodPercentage:
		return odds.AdjustByPercentage(src, p.Percentage, p.ForceLadder, c.cfg.LadderStep)
	case config.PriceMethodSteps:
		out, err = odds.AdjustBySteps(src, p.Steps, c.cfg.LadderStep)
	case config.PriceMethodNone, "":
		out = src.Clone()
	default:
		return nil, fmt.Errorf("price method %q: %w", p.Method, ErrUnknownMethod)
	}
	if err != nil {
		return nil, err
	}
	if p.ForceLadder {
		return odds.QuantizeToLadder(out, c.cfg.LadderStep)
	}
	return out, nil
}

// stake applies the configured stake method, then the bounds. A stake
// under the minimum fails the copy; one over the maximum is lowered to it.
func (c *Copier) stake(src *uint256.Int) (*uint256.Int, bool, error) {
	if src == nil {
		return nil, false, &odds.ValidationError{Op: "stake", Value: "<nil>", Err: odds.ErrInvalidAmount}
	}

	s := c.cfg.Stake
	var out *uint256.Int
	switch s.Method {
	case config.StakeMethodPercentage:
		scaled, err := odds.ScaleStake(src, s.Percentage)
		if err != nil {
			return nil, false, err
		}
		out = scaled
	case config.StakeMethodFixed:
		if s.Min == nil || s.Min.IsZero() {
			return nil, false, fmt.Errorf("fixed stake without minimum: %w", ErrStakeBelowMinimum)
		}
		out = s.Min.Clone()
	case config.StakeMethodNone, "":
		out = src.Clone()
	default:
		return nil, false, fmt.Errorf("stake method %q: %w", s.Method, ErrUnknownMethod)
	}

	belowMin := fmt.Errorf("%w: %s < %s", ErrStakeBelowMinimum, out.Dec(), minOrZero(s.Min).Dec())
	if out.IsZero() {
		return nil, false, belowMin
	}
	ok, bounded := odds.ClampStake(out, s.Min, s.Max)
	switch {
	case ok:
		return bounded, false, nil
	case out.Lt(bounded):
		return nil, false, belowMin
	default:
		return bounded, true, nil
	}
}

// build creates the unsigned derived order for this wallet.
func (c *Copier) build(candidate model.Order, price, stake *uint256.Int) (model.Order, error) {
	salt, err := auth.NewSalt()
	if err != nil {
		return model.Order{}, err
	}

	baseToken := candidate.BaseToken
	if c.cfg.BaseToken != "" {
		baseToken = c.cfg.BaseToken
	}
	executor := candidate.Executor
	if c.cfg.Executor != "" {
		executor = c.cfg.Executor
	}
	expiry := c.now().Add(c.cfg.OrderTTL).Unix()

	return model.Order{
		Maker:                    c.signer.Address(),
		MarketHash:               candidate.MarketHash,
		BaseToken:                baseToken,
		Executor:                 executor,
		TotalBetSize:             stake,
		PercentageOdds:           price,
		FillAmount:               new(uint256.Int),
		PendingFillAmount:        new(uint256.Int),
		Expiry:                   expiry,
		APIExpiry:                expiry,
		Salt:                     salt,
		IsMakerBettingOutcomeOne: candidate.IsMakerBettingOutcomeOne,
		Status:                   model.StatusActive,
	}, nil
}

func (c *Copier) submit(ctx context.Context, res *Result) {
	if c.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		defer cancel()
	}

	out, err := c.exchange.PostOrders(ctx, []api.APIOrder{api.OrderFromModel(res.Order)})
	if err != nil {
		res.Step = StepSubmit
		res.Err = err

		var apiErr *api.APIError
		var statusErr *api.StatusError
		switch {
		case errors.As(err, &apiErr) && !apiErr.IsRetryable():
			res.Status = StatusRejected
			res.Reason = apiErr.Message
		case errors.As(err, &statusErr):
			res.Status = StatusRejected
			res.Reason = statusErr.Status
		default:
			res.Status = StatusFailed
		}
		return
	}

	if out == nil || len(out.Orders) == 0 {
		res.Status = StatusFailed
		res.Step = StepSubmit
		res.Reason = ErrNothingInserted.Error()
		res.Err = ErrNothingInserted
		return
	}

	res.Order.Hash = out.Orders[0]
	res.Status = StatusSubmitted
	res.Modifications.Steps = append(res.Modifications.Steps, StepSubmit)
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}

func minOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

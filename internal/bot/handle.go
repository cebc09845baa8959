package bot

import (
	"context"
	"time"

	"github.com/rickgao/sx-copybot/internal/api"
	"github.com/rickgao/sx-copybot/internal/auth"
	"github.com/rickgao/sx-copybot/internal/copier"
	"github.com/rickgao/sx-copybot/internal/ingest"
	"github.com/rickgao/sx-copybot/internal/model"
	"github.com/rickgao/sx-copybot/internal/poller"
	"github.com/rickgao/sx-copybot/internal/telemetry"
)

// loop consumes stage events until the stage is closed.
func (b *Bot) loop() {
	defer close(b.loopDone)
	for ev := range b.stage.Events() {
		b.handle(ev)
		b.events.Add(1)
	}
}

func (b *Bot) handle(ev ingest.Event) {
	switch {
	case ev.Own:
		b.handleOwn(ev)
	case ev.Kind == ingest.EventCandidate:
		b.handleCandidate(ev)
	case ev.Kind == ingest.EventFiltered:
		e := telemetry.NewEvent(telemetry.KindFiltered)
		e.Account = ev.Account
		e.SourceHash = ev.Order.Hash
		e.MarketHash = ev.Order.MarketHash
		e.Reason = ev.Reason
		b.telemetry.Emit(e)
	case ev.Kind == ingest.EventCancelled:
		b.ledger.MarkClosed(ev.Order.Hash)
		b.cascade(ev.Order.Hash, TriggerSourceCancelled)
	case ev.Kind == ingest.EventFilled:
		b.ledger.MarkClosed(ev.Order.Hash)
		if b.cfg.Copy.CancelsOnSourceFill() {
			b.cascade(ev.Order.Hash, TriggerSourceFilled)
		}
	}
}

// handleOwn keeps the ledger in step with orders this wallet placed.
func (b *Bot) handleOwn(ev ingest.Event) {
	switch ev.Kind {
	case ingest.EventOwnUpdate:
		b.ledger.RecordOwnInstruction(ev.Order)
	case ingest.EventCancelled, ingest.EventFilled:
		src, mapped := b.ledger.Remove(ev.Order.Hash)
		e := telemetry.NewEvent(telemetry.KindOwnUpdate)
		e.Account = ev.Account
		e.OrderHash = ev.Order.Hash
		e.MarketHash = ev.Order.MarketHash
		e.Status = ev.Kind.String()
		if mapped {
			e.SourceHash = src
		}
		b.telemetry.Emit(e)
	}
}

// handleCandidate claims a source order and copies it in the background.
func (b *Bot) handleCandidate(ev ingest.Event) {
	if b.stopping.Load() {
		return
	}
	b.candidates.Add(1)

	src := ev.Order.Hash
	if b.ledger.IsAlreadyCopied(src) || !b.ledger.Claim(src) {
		b.skipped.Add(1)
		b.logger.Debug("source already copied or closed", "source_hash", src)
		return
	}

	e := telemetry.NewEvent(telemetry.KindCandidate)
	e.Account = ev.Account
	e.SourceHash = src
	e.MarketHash = ev.Order.MarketHash
	e.Price = ev.Order.PercentageOdds
	e.Stake = ev.Order.TotalBetSize
	b.telemetry.Emit(e)

	order := ev.Order
	account := ev.Account
	market := ev.Market
	b.work.Go(func() {
		if err := b.sem.Acquire(b.workCtx, 1); err != nil {
			b.ledger.Abandon(src)
			return
		}
		defer b.sem.Release(1)

		res := b.copier.Copy(b.workCtx, order, account)
		b.emitCopy(res)
		b.settle(res, market)
	})
}

// settle records the outcome of a copy in the ledger.
func (b *Bot) settle(res copier.Result, market model.Market) {
	if !res.OK() {
		b.ledger.Abandon(res.SourceHash)
		return
	}

	derived := res.Order
	_, orphaned := b.ledger.RecordMapping(derived, res.SourceHash)
	if !orphaned {
		b.ledger.RecordOwnInstruction(derived)
		b.trackLive(res.SourceHash, market)
		return
	}

	// The source closed while the copy was in flight, so nothing will
	// cascade to the derived order. Cancel it now.
	b.orphans.Add(1)
	e := telemetry.NewEvent(telemetry.KindOrphan)
	e.OperationID = res.OperationID
	e.Account = res.Source
	e.SourceHash = res.SourceHash
	e.OrderHash = derived.Hash
	e.MarketHash = derived.MarketHash
	b.telemetry.Emit(e)

	b.cancelDerived(b.workCtx, model.Mapping{SourceHash: res.SourceHash, Derived: derived}, TriggerOrphan, false)
}

// cascade cancels the derived order of a closed source. The mapping is
// taken from the ledger first, so redelivered closes are no-ops.
func (b *Bot) cascade(sourceHash, trigger string) {
	m, ok := b.ledger.TakeDerived(sourceHash)
	if !ok {
		return
	}
	b.cascades.Add(1)
	b.work.Go(func() {
		b.cancelDerived(b.workCtx, m, trigger, true)
	})
}

// cancelDerived cancels one derived order. With restore set, a failed
// cancel puts the mapping back so a later close can retry it.
func (b *Bot) cancelDerived(ctx context.Context, m model.Mapping, trigger string, restore bool) {
	start := time.Now()
	err := b.cancelOrders(ctx, []string{m.Derived.Hash})

	e := telemetry.NewEvent(telemetry.KindCancel)
	e.SourceHash = m.SourceHash
	e.OrderHash = m.Derived.Hash
	e.MarketHash = m.Derived.MarketHash
	e.Reason = trigger
	e.Duration = time.Since(start)

	if err != nil {
		b.cancelsFailed.Add(1)
		e.Status = "failed"
		b.telemetry.Emit(e)
		b.logger.Error("cancel derived order failed",
			"trigger", trigger,
			"source_hash", m.SourceHash,
			"order_hash", m.Derived.Hash,
			"error", err,
		)
		if restore {
			b.ledger.Restore(m)
		}
		return
	}

	e.Status = "ok"
	b.telemetry.Emit(e)
	b.ledger.Remove(m.Derived.Hash)
}

func (b *Bot) cancelOrders(ctx context.Context, hashes []string) error {
	salt, err := auth.NewSalt()
	if err != nil {
		return err
	}
	p := auth.CancelPayload{
		Kind:        auth.CancelOrders,
		OrderHashes: hashes,
		Salt:        salt,
		Timestamp:   b.now().Unix(),
	}
	sig, err := b.signer.SignCancel(p)
	if err != nil {
		return err
	}

	ctx, cancel := b.withRequestTimeout(ctx)
	defer cancel()

	_, err = b.exchange.CancelOrders(ctx, api.CancelOrdersRequest{
		OrderHashes: hashes,
		Signature:   sig,
		Salt:        p.SaltHex(),
		Maker:       b.signer.Address(),
		Timestamp:   p.Timestamp,
	})
	return err
}

// cancelAll cancels every open order of this wallet.
func (b *Bot) cancelAll(ctx context.Context) error {
	salt, err := auth.NewSalt()
	if err != nil {
		return err
	}
	p := auth.CancelPayload{Kind: auth.CancelAll, Salt: salt, Timestamp: b.now().Unix()}
	sig, err := b.signer.SignCancel(p)
	if err != nil {
		return err
	}

	ctx, cancel := b.withRequestTimeout(ctx)
	defer cancel()

	res, err := b.exchange.CancelAllOrders(ctx, api.CancelAllOrdersRequest{
		Signature: sig,
		Salt:      p.SaltHex(),
		Maker:     b.signer.Address(),
		Timestamp: p.Timestamp,
	})

	e := telemetry.NewEvent(telemetry.KindCancel)
	e.Reason = TriggerShutdown
	if err != nil {
		e.Status = "failed"
		b.telemetry.Emit(e)
		b.logger.Error("cancel all orders failed", "error", err)
		return err
	}
	e.Status = "ok"
	e.Count = res.CancelledCount
	b.telemetry.Emit(e)
	b.logger.Info("cancelled all open orders", "count", res.CancelledCount)
	return nil
}

func (b *Bot) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.callTimeout)
}

func (b *Bot) emitCopy(res copier.Result) {
	e := telemetry.NewEvent(telemetry.KindCopy)
	e.OperationID = res.OperationID
	e.Account = res.Source
	e.SourceHash = res.SourceHash
	e.OrderHash = res.Order.Hash
	e.MarketHash = res.Order.MarketHash
	e.Status = res.Status.String()
	e.Reason = res.Reason
	if res.Err != nil && e.Reason == "" {
		e.Reason = res.Err.Error()
	}
	e.Price = res.Modifications.PriceAfter
	e.Stake = res.Modifications.StakeAfter
	e.Duration = res.Duration
	b.telemetry.Emit(e)
}

func (b *Bot) reportExposure(x poller.Exposure) {
	e := telemetry.NewEvent(telemetry.KindExposure)
	e.Time = x.At
	e.Count = x.Orders
	e.Stake = x.Total
	b.telemetry.Emit(e)
	b.reportConnection()

	if b.cfg.Filters.ExcludeLive && !b.stopping.Load() {
		b.sweepLive(b.workCtx, x.At)
	}
}

// reportConnection publishes the feed session state.
func (b *Bot) reportConnection() {
	state := b.feed.State()
	e := telemetry.NewEvent(telemetry.KindConnection)
	e.Status = state.String()
	e.Count = int(state)
	b.telemetry.Emit(e)
}

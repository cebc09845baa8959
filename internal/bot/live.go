package bot

import (
	"context"
	"time"

	"github.com/rickgao/sx-copybot/internal/api"
	"github.com/rickgao/sx-copybot/internal/auth"
	"github.com/rickgao/sx-copybot/internal/model"
	"github.com/rickgao/sx-copybot/internal/telemetry"
)

// With live markets excluded, derived orders must not outlive the start of
// their game. Each exposure tick sweeps the tracked markets and cancels, per
// event, every derived order whose game has started.

// trackLive remembers the market of a freshly mapped derived order.
func (b *Bot) trackLive(sourceHash string, m model.Market) {
	if !b.cfg.Filters.ExcludeLive || m.EventID == "" || m.GameTime.IsZero() {
		return
	}
	b.liveMu.Lock()
	b.liveMarkets[sourceHash] = m
	b.liveMu.Unlock()
}

// sweepLive cancels the derived orders of every event that is live at now.
// Mappings are taken from the ledger first; a failed event cancel restores
// them and keeps them tracked for the next sweep.
func (b *Bot) sweepLive(ctx context.Context, now time.Time) {
	byEvent := make(map[string]map[string]model.Market) // event id -> source hash -> market

	b.liveMu.Lock()
	for src, m := range b.liveMarkets {
		if !m.IsLive(now) {
			continue
		}
		if byEvent[m.EventID] == nil {
			byEvent[m.EventID] = make(map[string]model.Market)
		}
		byEvent[m.EventID][src] = m
		delete(b.liveMarkets, src)
	}
	b.liveMu.Unlock()

	for eventID, sources := range byEvent {
		var taken []model.Mapping
		for src := range sources {
			if m, ok := b.ledger.TakeDerived(src); ok {
				taken = append(taken, m)
			}
		}
		if len(taken) == 0 {
			continue
		}

		start := time.Now()
		err := b.cancelEvent(ctx, eventID)
		for _, m := range taken {
			e := telemetry.NewEvent(telemetry.KindCancel)
			e.SourceHash = m.SourceHash
			e.OrderHash = m.Derived.Hash
			e.MarketHash = m.Derived.MarketHash
			e.Reason = TriggerGameStarted
			e.Duration = time.Since(start)
			e.Status = "ok"
			if err != nil {
				e.Status = "failed"
			}
			b.telemetry.Emit(e)
		}

		if err != nil {
			b.cancelsFailed.Add(1)
			b.logger.Error("cancel event orders failed",
				"event_id", eventID,
				"orders", len(taken),
				"error", err,
			)
			for _, m := range taken {
				b.ledger.Restore(m)
				b.trackLive(m.SourceHash, sources[m.SourceHash])
			}
			continue
		}

		for _, m := range taken {
			b.ledger.Remove(m.Derived.Hash)
		}
		b.logger.Info("game started, cancelled derived orders", "event_id", eventID, "orders", len(taken))
	}
}

func (b *Bot) cancelEvent(ctx context.Context, eventID string) error {
	salt, err := auth.NewSalt()
	if err != nil {
		return err
	}
	p := auth.CancelPayload{Kind: auth.CancelEvent, EventID: eventID, Salt: salt, Timestamp: b.now().Unix()}
	sig, err := b.signer.SignCancel(p)
	if err != nil {
		return err
	}

	ctx, cancel := b.withRequestTimeout(ctx)
	defer cancel()

	_, err = b.exchange.CancelEventOrders(ctx, api.CancelEventOrdersRequest{
		SportXEventID: eventID,
		Signature:     sig,
		Salt:          p.SaltHex(),
		Maker:         b.signer.Address(),
		Timestamp:     p.Timestamp,
	})
	return err
}

package ingest

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/sx-copybot/internal/connection"
	"github.com/rickgao/sx-copybot/internal/model"
)

var (
	// ErrAlreadyWatching is returned when an account is watched twice.
	ErrAlreadyWatching = errors.New("account already watched")

	// ErrClosed is returned by Watch after Close.
	ErrClosed = errors.New("ingest stage closed")
)

// Subscriber registers channel handlers. *connection.Manager implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler connection.Handler) error
}

// MarketSource resolves market attributes. *market.Cache implements it.
type MarketSource interface {
	Resolve(ctx context.Context, hashes []string) (map[string]model.Market, error)
}

// Stage decodes, classifies and filters active-order updates.
type Stage struct {
	cfg        Config
	subscriber Subscriber
	markets    MarketSource
	logger     *slog.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	events  chan Event
	watched map[string]bool

	batches      atomic.Int64
	updates      atomic.Int64
	duplicates   atomic.Int64
	decodeErrors atomic.Int64
	skipped      atomic.Int64
	candidates   atomic.Int64
	filtered     atomic.Int64
	dropped      atomic.Int64
}

// NewStage creates an ingest stage. Nothing is watched until Watch is
// called.
func NewStage(cfg Config, subscriber Subscriber, markets MarketSource, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Stage{
		cfg:        cfg,
		subscriber: subscriber,
		markets:    markets,
		logger:     logger.With("component", "ingest"),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan Event, cfg.EventBuffer),
		watched:    make(map[string]bool),
	}
}

// Events returns the event stream. It is closed by Close.
func (s *Stage) Events() <-chan Event {
	return s.events
}

// Watch subscribes to account's active-order channel.
func (s *Stage) Watch(ctx context.Context, account string) error {
	key := strings.ToLower(account)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.watched[key] {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyWatching, account)
	}
	s.watched[key] = true
	s.mu.Unlock()

	own := s.isOwn(account)
	channel := connection.ActiveOrdersChannel(s.cfg.BaseToken, account)
	handler := connection.HandlerFunc(func(msg connection.Message) {
		s.handleBatch(account, own, msg)
	})

	if err := s.subscriber.Subscribe(ctx, channel, handler); err != nil {
		s.mu.Lock()
		delete(s.watched, key)
		s.mu.Unlock()
		return fmt.Errorf("watch %s: %w", account, err)
	}

	s.logger.Info("watching account", "account", account, "own", own, "channel", channel)
	return nil
}

// Close stops event delivery and closes the Events channel. Batches that
// arrive afterwards are discarded. Close is idempotent.
func (s *Stage) Close() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// Stats returns current statistics.
func (s *Stage) Stats() Stats {
	return Stats{
		Batches:      s.batches.Load(),
		Updates:      s.updates.Load(),
		Duplicates:   s.duplicates.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Skipped:      s.skipped.Load(),
		Candidates:   s.candidates.Load(),
		Filtered:     s.filtered.Load(),
		Dropped:      s.dropped.Load(),
	}
}

func (s *Stage) isOwn(account string) bool {
	return s.cfg.OwnAccount != "" && strings.EqualFold(account, s.cfg.OwnAccount)
}

// handleBatch processes one data message. Calls for a single account are
// sequential, so events for that account leave in update-time order.
func (s *Stage) handleBatch(account string, own bool, msg connection.Message) {
	s.batches.Add(1)

	var batch []orderWire
	if err := json.Unmarshal(msg.Data, &batch); err != nil {
		s.decodeErrors.Add(1)
		s.logger.Warn("failed to decode order batch", "account", account, "error", err)
		return
	}
	s.updates.Add(int64(len(batch)))

	seen := make(map[orderWire]struct{}, len(batch))
	orders := make([]model.Order, 0, len(batch))
	for _, w := range batch {
		if _, dup := seen[w]; dup {
			s.duplicates.Add(1)
			continue
		}
		seen[w] = struct{}{}

		o, err := w.toModel()
		if err != nil {
			s.decodeErrors.Add(1)
			s.logger.Warn("failed to decode order update",
				"account", account,
				"order_hash", w.OrderHash,
				"error", err,
			)
			continue
		}
		orders = append(orders, o)
	}

	slices.SortStableFunc(orders, func(a, b model.Order) int {
		return cmp.Compare(a.UpdateTime, b.UpdateTime)
	})

	var markets map[string]model.Market
	if !own {
		var hashes []string
		for _, o := range orders {
			if isFresh(o) {
				hashes = append(hashes, o.MarketHash)
			}
		}
		if len(hashes) > 0 {
			markets = s.lookup(hashes)
		}
	}

	for _, o := range orders {
		s.classify(account, own, o, markets, msg.ReceivedAt)
	}
}

// lookup resolves markets for a batch. Markets that could not be resolved
// are absent from the result and their orders are rejected.
func (s *Stage) lookup(hashes []string) map[string]model.Market {
	ctx := s.ctx
	if s.cfg.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LookupTimeout)
		defer cancel()
	}

	markets, err := s.markets.Resolve(ctx, hashes)
	if err != nil {
		s.logger.Warn("market lookup incomplete",
			"requested", len(hashes),
			"resolved", len(markets),
			"error", err,
		)
	}
	return markets
}

func (s *Stage) classify(account string, own bool, o model.Order, markets map[string]model.Market, receivedAt time.Time) {
	ev := Event{
		Account:    account,
		Own:        own,
		Order:      o,
		ReceivedAt: receivedAt,
	}

	switch o.Status {
	case model.StatusInactive:
		ev.Kind = EventCancelled
	case model.StatusFilled:
		ev.Kind = EventFilled
	case model.StatusActive:
		// A pending fill is still settling; the settled update follows.
		if !o.PendingFillAmount.IsZero() {
			s.skipped.Add(1)
			return
		}
		if own {
			ev.Kind = EventOwnUpdate
			break
		}
		if !isFresh(o) {
			s.skipped.Add(1)
			return
		}
		m, ok := markets[o.MarketHash]
		if !ok {
			ev.Kind = EventFiltered
			ev.Reason = ReasonMarketNotFound
			break
		}
		ev.Market = m
		if reason := s.cfg.Filters.Check(o, m, s.now()); reason != "" {
			ev.Kind = EventFiltered
			ev.Reason = reason
		} else {
			ev.Kind = EventCandidate
		}
	default:
		s.skipped.Add(1)
		s.logger.Debug("skipping order with unknown status", "order_hash", o.Hash, "status", o.Status)
		return
	}

	s.emit(ev)
}

func (s *Stage) emit(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return
	}

	select {
	case s.events <- ev:
	case <-s.ctx.Done():
		s.dropped.Add(1)
		return
	}

	switch ev.Kind {
	case EventCandidate:
		s.candidates.Add(1)
	case EventFiltered:
		s.filtered.Add(1)
	}
}

// isFresh reports whether an ACTIVE update is an untouched new order.
func isFresh(o model.Order) bool {
	return o.Status == model.StatusActive &&
		o.FillAmount.IsZero() &&
		o.PendingFillAmount.IsZero()
}

// Package bot wires the copy pipeline together and owns its lifecycle.
//
// Events flow one way: the connection manager delivers feed batches to the
// ingest stage, the stage publishes classified events on a channel, and the
// bot's event loop acts on them. Candidates are copied concurrently (bounded
// by copy.concurrency); cancellations and fills of copied sources cascade
// to a cancel of the derived order, exactly once per mapping.
//
// Shutdown is idempotent and ordered: stop ingestion, drain in-flight work
// for the grace period, optionally cancel every open order, disconnect the
// feed, then flush telemetry.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/rickgao/sx-copybot/internal/api"
	"github.com/rickgao/sx-copybot/internal/auth"
	"github.com/rickgao/sx-copybot/internal/config"
	"github.com/rickgao/sx-copybot/internal/connection"
	"github.com/rickgao/sx-copybot/internal/copier"
	"github.com/rickgao/sx-copybot/internal/ingest"
	"github.com/rickgao/sx-copybot/internal/ledger"
	"github.com/rickgao/sx-copybot/internal/metrics"
	"github.com/rickgao/sx-copybot/internal/model"
	"github.com/rickgao/sx-copybot/internal/poller"
	"github.com/rickgao/sx-copybot/internal/telemetry"
)

// Feed is the real-time order feed. *connection.Manager implements it.
type Feed interface {
	ingest.Subscriber
	Connect(ctx context.Context) error
	Disconnect() error
	State() connection.SessionState
	Fatal() <-chan error
}

// Exchange submits and cancels orders. *api.Client implements it.
type Exchange interface {
	copier.Exchange
	CancelOrders(ctx context.Context, req api.CancelOrdersRequest) (*api.CancelResult, error)
	CancelEventOrders(ctx context.Context, req api.CancelEventOrdersRequest) (*api.CancelResult, error)
	CancelAllOrders(ctx context.Context, req api.CancelAllOrdersRequest) (*api.CancelResult, error)
}

// Signer signs orders and cancellations. *auth.Signer implements it.
type Signer interface {
	copier.Signer
	SignCancel(p auth.CancelPayload) (string, error)
}

// Deps are the collaborators a Bot is built from.
type Deps struct {
	Feed     Feed
	Exchange Exchange
	Signer   Signer
	Markets  ingest.MarketSource
	Metrics  *metrics.Metrics // Optional

	Sinks   []telemetry.Sink                  // Extra telemetry sinks
	Closers []func(ctx context.Context) error // Run last during shutdown
}

var (
	// ErrMissingDependency is returned by New when a required dependency
	// is nil.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrShuttingDown is returned by Start after Shutdown began.
	ErrShuttingDown = errors.New("bot is shutting down")
)

// Cancel triggers, recorded on cancel telemetry and metrics.
const (
	TriggerSourceCancelled = "source_cancelled"
	TriggerSourceFilled    = "source_filled"
	TriggerOrphan          = "orphan"
	TriggerGameStarted     = "game_started"
	TriggerShutdown        = "shutdown"
)

// Stats provides statistics about the bot.
type Stats struct {
	Events        int64 // Stage events handled
	Candidates    int64
	Skipped       int64 // Candidates already copied or in flight
	Cascades      int64 // Cancels triggered by a source closing
	CancelsFailed int64
	Orphans       int64
}

// Bot is the application context of a running copy bot.
type Bot struct {
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time

	feed      Feed
	exchange  Exchange
	signer    Signer
	metrics   *metrics.Metrics
	stage     *ingest.Stage
	copier    *copier.Copier
	ledger    *ledger.Ledger
	telemetry *telemetry.Dispatcher
	exposure  *poller.Poller
	closers   []func(ctx context.Context) error

	sem         *semaphore.Weighted
	work        conc.WaitGroup // copies and cancels
	workCtx     context.Context
	cancelWork  context.CancelFunc
	runCtx      context.Context
	cancelRun   context.CancelFunc
	callTimeout time.Duration

	mu       sync.Mutex
	started  bool
	stopping atomic.Bool
	loopDone chan struct{}

	liveMu      sync.Mutex
	liveMarkets map[string]model.Market // source hash -> market of its derived order

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}

	events        atomic.Int64
	candidates    atomic.Int64
	skipped       atomic.Int64
	cascades      atomic.Int64
	cancelsFailed atomic.Int64
	orphans       atomic.Int64
}

// New builds a bot from cfg and deps. Nothing runs until Start.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case deps.Feed == nil:
		return nil, fmt.Errorf("%w: feed", ErrMissingDependency)
	case deps.Exchange == nil:
		return nil, fmt.Errorf("%w: exchange", ErrMissingDependency)
	case deps.Signer == nil:
		return nil, fmt.Errorf("%w: signer", ErrMissingDependency)
	case deps.Markets == nil:
		return nil, fmt.Errorf("%w: markets", ErrMissingDependency)
	}

	b := &Bot{
		cfg:         cfg,
		logger:      logger.With("component", "bot"),
		now:         time.Now,
		feed:        deps.Feed,
		exchange:    deps.Exchange,
		signer:      deps.Signer,
		metrics:     deps.Metrics,
		ledger:      ledger.New(logger),
		closers:     deps.Closers,
		sem:         semaphore.NewWeighted(int64(max(cfg.Copy.Concurrency, 1))),
		callTimeout: requestTimeout(cfg.API),
		loopDone:    make(chan struct{}),
		done:        make(chan struct{}),
		liveMarkets: make(map[string]model.Market),
	}
	b.workCtx, b.cancelWork = context.WithCancel(context.Background())
	b.runCtx, b.cancelRun = context.WithCancel(context.Background())

	sinks := telemetry.Fanout{telemetry.NewLogSink(logger)}
	var onDrop func()
	if deps.Metrics != nil {
		sinks = append(sinks, telemetry.NewMetricsSink(deps.Metrics))
		onDrop = deps.Metrics.EventsDropped.Inc
	}
	sinks = append(sinks, deps.Sinks...)
	b.telemetry = telemetry.NewDispatcher(cfg.Telemetry.QueueSize, sinks, onDrop, logger)

	stageCfg := ingest.DefaultConfig()
	stageCfg.BaseToken = cfg.Wallet.BaseToken
	stageCfg.OwnAccount = deps.Signer.Address()
	stageCfg.Filters = ingest.NewFilters(cfg.Filters)
	stageCfg.LookupTimeout = requestTimeout(cfg.API)
	b.stage = ingest.NewStage(stageCfg, deps.Feed, deps.Markets, logger)

	copyCfg := copier.NewConfig(cfg.Copy)
	copyCfg.BaseToken = cfg.Wallet.BaseToken
	copyCfg.Executor = cfg.Wallet.Executor
	copyCfg.LadderStep = cfg.Wallet.LadderStep
	copyCfg.SubmitTimeout = requestTimeout(cfg.API)
	b.copier = copier.New(copyCfg, deps.Signer, deps.Exchange, logger)

	b.exposure = poller.New(
		poller.Config{Interval: cfg.Telemetry.ExposureInterval},
		b.ledger,
		poller.ExposureHandlerFunc(b.reportExposure),
		logger,
	)

	return b, nil
}

// requestTimeout bounds one API call including its retries.
func requestTimeout(cfg config.APIConfig) time.Duration {
	if cfg.Timeout <= 0 {
		return 0
	}
	attempts := time.Duration(max(cfg.MaxRetries, 0) + 1)
	return attempts*cfg.Timeout + attempts*cfg.RetryBackoff
}

// Start connects the feed, watches the wallet and every source account,
// and begins processing events.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.stopping.Load() {
		b.mu.Unlock()
		return ErrShuttingDown
	}
	b.started = true
	b.mu.Unlock()

	go b.loop()

	b.logger.Info("starting copy bot",
		"wallet", b.signer.Address(),
		"accounts", len(b.cfg.Accounts),
		"copy_enabled", b.cfg.Copy.Enabled,
		"concurrency", b.cfg.Copy.Concurrency,
	)

	if err := b.feed.Connect(ctx); err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	b.reportConnection()

	if err := b.stage.Watch(ctx, b.signer.Address()); err != nil {
		return fmt.Errorf("watch wallet: %w", err)
	}
	for _, account := range b.sourceAccounts() {
		if err := b.stage.Watch(ctx, account); err != nil {
			return fmt.Errorf("watch source: %w", err)
		}
	}

	if err := b.exposure.Start(b.runCtx); err != nil {
		return fmt.Errorf("start exposure reporter: %w", err)
	}
	go b.watchFatal()

	b.logger.Info("copy bot running")
	return nil
}

// Done is closed once Shutdown has finished.
func (b *Bot) Done() <-chan struct{} {
	return b.done
}

// Stopping is closed when the bot begins shutting down on its own, for
// example after a fatal feed error.
func (b *Bot) Stopping() <-chan struct{} {
	return b.runCtx.Done()
}

// Shutdown stops the bot. It is idempotent; concurrent and repeated calls
// wait for the first to finish and return its result.
func (b *Bot) Shutdown(ctx context.Context, reason string) error {
	b.shutdownOnce.Do(func() {
		b.shutdownErr = b.shutdown(ctx, reason)
		close(b.done)
	})
	<-b.done
	return b.shutdownErr
}

func (b *Bot) shutdown(ctx context.Context, reason string) error {
	b.mu.Lock()
	b.stopping.Store(true)
	started := b.started
	b.mu.Unlock()

	b.logger.Info("shutting down", "reason", reason)
	ev := telemetry.NewEvent(telemetry.KindShutdown)
	ev.Reason = reason
	b.telemetry.Emit(ev)

	var errs []error

	// 1. Stop ingestion. Events already queued are still handled, but no
	// new copies start.
	b.stage.Close()
	if started {
		select {
		case <-b.loopDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("stop ingestion: %w", ctx.Err()))
		}
	}

	// 2. Drain in-flight copies and cancels, then abandon the rest.
	b.drain(ctx)

	// 3. Optionally pull every open order.
	if b.cfg.Shutdown.CancelAll && started {
		if err := b.cancelAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	// 4. Disconnect the feed.
	b.cancelRun()
	if err := b.exposure.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop exposure reporter: %w", err))
	}
	if err := b.feed.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("disconnect feed: %w", err))
	}

	// 5. Flush telemetry, then release external resources.
	if err := b.telemetry.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush telemetry: %w", err))
	}
	for _, closeFn := range b.closers {
		if err := closeFn(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	stats := b.ledger.Stats()
	b.logger.Info("copy bot stopped",
		"reason", reason,
		"mappings", stats.Mappings,
		"open_orders", stats.Own,
	)
	return errors.Join(errs...)
}

// drain waits up to the grace period for in-flight work, then cancels it
// and waits for it to return.
func (b *Bot) drain(ctx context.Context) {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		if r := b.work.WaitAndRecover(); r != nil {
			b.logger.Error("worker panicked", "panic", r.Value, "stack", string(r.Stack))
		}
	}()

	grace := time.NewTimer(b.cfg.Shutdown.Grace)
	defer grace.Stop()

	select {
	case <-drained:
		b.cancelWork()
		return
	case <-grace.C:
		b.logger.Warn("grace period expired, abandoning in-flight work")
	case <-ctx.Done():
		b.logger.Warn("shutdown deadline reached while draining")
	}

	b.cancelWork()
	select {
	case <-drained:
	case <-ctx.Done():
	}
}

// watchFatal shuts the bot down when the feed gives up reconnecting.
func (b *Bot) watchFatal() {
	select {
	case err := <-b.feed.Fatal():
		b.reportConnection()
		b.logger.Error("feed failed, shutting down", "error", err)
		b.cancelRun()

		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Shutdown.Timeout)
		defer cancel()
		b.Shutdown(ctx, "feed failed: "+err.Error())
	case <-b.runCtx.Done():
	}
}

// sourceAccounts returns the configured accounts, without duplicates or
// the wallet itself.
func (b *Bot) sourceAccounts() []string {
	own := b.signer.Address()
	seen := make(map[string]bool, len(b.cfg.Accounts))
	var out []string
	for _, a := range b.cfg.Accounts {
		key := strings.ToLower(a)
		if seen[key] || strings.EqualFold(a, own) {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// Stats returns current statistics.
func (b *Bot) Stats() Stats {
	return Stats{
		Events:        b.events.Load(),
		Candidates:    b.candidates.Load(),
		Skipped:       b.skipped.Load(),
		Cascades:      b.cascades.Load(),
		CancelsFailed: b.cancelsFailed.Load(),
		Orphans:       b.orphans.Load(),
	}
}

// Metrics returns the bot's collectors, or nil when built without them.
func (b *Bot) Metrics() *metrics.Metrics {
	return b.metrics
}

package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// ExposureSource reports open-order exposure. *ledger.Ledger implements it.
type ExposureSource interface {
	ExposureStats() (count int, total *uint256.Int)
}

// Exposure is one sampled snapshot.
type Exposure struct {
	Orders int
	Total  *uint256.Int // Unfilled stake in base-token units
	At     time.Time
}

// ExposureHandler receives sampled snapshots.
type ExposureHandler interface {
	HandleExposure(e Exposure)
}

// ExposureHandlerFunc is a function adapter for ExposureHandler.
type ExposureHandlerFunc func(Exposure)

func (f ExposureHandlerFunc) HandleExposure(e Exposure) {
	f(e)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Sample interval (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
	}
}

// Poller periodically samples exposure.
type Poller struct {
	cfg     Config
	source  ExposureSource
	handler ExposureHandler
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source ExposureSource, handler ExposureHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger.With("component", "exposure"),
		now:     time.Now,
	}
}

// Start begins the sampling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("exposure reporter started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("exposure reporter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sample takes one snapshot and hands it to the handler.
func (p *Poller) Sample() Exposure {
	count, total := p.source.ExposureStats()
	e := Exposure{Orders: count, Total: total, At: p.now()}

	if p.handler != nil {
		p.handler.HandleExposure(e)
	}
	p.logger.Debug("exposure sampled", "orders", count, "total", total)
	return e
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.Sample()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.Sample()
		}
	}
}

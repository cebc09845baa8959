package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
)

// BatchSender sends a batch of queries. *pgxpool.Pool implements it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// AuditConfig holds audit writer configuration.
type AuditConfig struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits before being written
	Timeout       time.Duration // Deadline for one batch insert
}

// DefaultAuditConfig returns sensible defaults.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		Timeout:       10 * time.Second,
	}
}

// AuditStats provides statistics about the audit writer.
type AuditStats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Pending   int
}

// auditRow is one copy_events row.
type auditRow struct {
	EventID     uuid.UUID
	OccurredAt  time.Time
	Kind        string
	OperationID *uuid.UUID
	Account     string
	SourceHash  string
	OrderHash   string
	MarketHash  string
	Status      string
	Reason      string
	Price       *string
	Stake       *string
	Count       int
	DurationUs  int64
}

const insertAuditRow = `
	INSERT INTO copy_events (
		event_id, occurred_at, kind, operation_id, account, source_hash, order_hash,
		market_hash, status, reason, price, stake, count, duration_us
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (event_id) DO NOTHING
`

// AuditWriter batches events into the copy_events table. A failed batch
// is logged and discarded; the audit trail never holds up the bot.
type AuditWriter struct {
	cfg    AuditConfig
	db     BatchSender
	logger *slog.Logger

	batchMu sync.Mutex
	batch   []auditRow
	stats   AuditStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAuditWriter creates an audit writer. Call Start to enable periodic
// flushing.
func NewAuditWriter(cfg AuditConfig, db BatchSender, logger *slog.Logger) *AuditWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultAuditConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &AuditWriter{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "audit"),
		batch:  make([]auditRow, 0, cfg.BatchSize),
	}
}

// Start begins the periodic flush loop.
func (w *AuditWriter) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("audit writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
}

// Stop ends the flush loop and writes anything still pending.
func (w *AuditWriter) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return w.Flush(ctx)
}

// Write queues ev, flushing when the batch is full.
func (w *AuditWriter) Write(ev Event) {
	row := transform(ev)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(context.Background())
	}
}

// Flush writes the pending batch.
func (w *AuditWriter) Flush(ctx context.Context) error {
	return w.flush(ctx)
}

// Stats returns current statistics.
func (w *AuditWriter) Stats() AuditStats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	s := w.stats
	s.Pending = len(w.batch)
	return s
}

func (w *AuditWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *AuditWriter) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}
	batch := w.batch
	w.batch = make([]auditRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	// The insert outlives a cancelled loop context so the final flush can
	// still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.Timeout)
	defer cancel()

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("audit batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed audit events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

func (w *AuditWriter) batchInsert(ctx context.Context, rows []auditRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertAuditRow,
			r.EventID, r.OccurredAt, r.Kind, r.OperationID, r.Account, r.SourceHash, r.OrderHash,
			r.MarketHash, r.Status, r.Reason, r.Price, r.Stake, r.Count, r.DurationUs,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

func transform(ev Event) auditRow {
	row := auditRow{
		EventID:    ev.ID,
		OccurredAt: ev.Time.UTC(),
		Kind:       string(ev.Kind),
		Account:    ev.Account,
		SourceHash: ev.SourceHash,
		OrderHash:  ev.OrderHash,
		MarketHash: ev.MarketHash,
		Status:     ev.Status,
		Reason:     ev.Reason,
		Price:      decString(ev.Price),
		Stake:      decString(ev.Stake),
		Count:      ev.Count,
		DurationUs: ev.Duration.Microseconds(),
	}
	if ev.OperationID != uuid.Nil {
		id := ev.OperationID
		row.OperationID = &id
	}
	return row
}

func decString(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	s := v.Dec()
	return &s
}

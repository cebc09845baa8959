package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rickgao/sx-copybot/internal/metrics"
)

// Fanout delivers every event to each of its sinks in order.
type Fanout []Sink

func (f Fanout) Write(ev Event) {
	for _, s := range f {
		s.Write(ev)
	}
}

// Flush flushes every sink that buffers.
func (f Fanout) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range f {
		if fl, ok := s.(Flusher); ok {
			if err := fl.Flush(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events as structured log records.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "telemetry")}
}

func (s *LogSink) Write(ev Event) {
	attrs := []any{"event_id", ev.ID, "kind", ev.Kind}
	if ev.OperationID != uuid.Nil {
		attrs = append(attrs, "operation_id", ev.OperationID)
	}
	if ev.Account != "" {
		attrs = append(attrs, "account", ev.Account)
	}
	if ev.SourceHash != "" {
		attrs = append(attrs, "source_hash", ev.SourceHash)
	}
	if ev.OrderHash != "" {
		attrs = append(attrs, "order_hash", ev.OrderHash)
	}
	if ev.Status != "" {
		attrs = append(attrs, "status", ev.Status)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	if ev.Price != nil {
		attrs = append(attrs, "price", ev.Price.Dec())
	}
	if ev.Stake != nil {
		attrs = append(attrs, "stake", ev.Stake.Dec())
	}
	if ev.Kind == KindExposure {
		attrs = append(attrs, "count", ev.Count)
	}
	if ev.Duration > 0 {
		attrs = append(attrs, "duration", ev.Duration)
	}

	level := slog.LevelInfo
	switch {
	case ev.Kind == KindFiltered:
		level = slog.LevelDebug
	case ev.Kind == KindOrphan:
		level = slog.LevelWarn
	case ev.Status == "failed" || ev.Status == "rejected":
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "telemetry event", attrs...)
}

// MetricsSink updates Prometheus collectors from events.
type MetricsSink struct {
	m *metrics.Metrics
}

// NewMetricsSink creates a metrics sink.
func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{m: m}
}

func (s *MetricsSink) Write(ev Event) {
	switch ev.Kind {
	case KindCandidate:
		s.m.Candidates.Inc()
	case KindFiltered:
		s.m.Filtered.Inc()
	case KindCopy:
		s.m.Copies.WithLabelValues(ev.Status).Inc()
		if ev.Duration > 0 {
			s.m.CopyLatency.Observe(ev.Duration.Seconds())
		}
	case KindCancel:
		s.m.Cancels.WithLabelValues(ev.Reason, ev.Status).Inc()
	case KindOrphan:
		s.m.Orphans.Inc()
	case KindExposure:
		s.m.ExposureOrders.Set(float64(ev.Count))
		if ev.Stake != nil {
			s.m.ExposureStake.Set(decimal.NewFromBigInt(ev.Stake.ToBig(), 0).InexactFloat64())
		}
	case KindConnection:
		// Count carries the numeric session state.
		s.m.ConnectionState.Set(float64(ev.Count))
	}
}

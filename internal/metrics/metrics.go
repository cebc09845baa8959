package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "copybot"

// Metrics holds every collector the bot exports. Each instance owns its
// registry so tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionState prometheus.Gauge
	Candidates      prometheus.Counter
	Filtered        prometheus.Counter
	Copies          *prometheus.CounterVec // status
	CopyLatency     prometheus.Histogram
	Cancels         *prometheus.CounterVec // trigger, result
	Orphans         prometheus.Counter
	ExposureOrders  prometheus.Gauge
	ExposureStake   prometheus.Gauge
	EventsDropped   prometheus.Counter
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: reg,
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Feed session state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).",
		}),
		Candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Source orders that passed every filter.",
		}),
		Filtered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filtered_total",
			Help:      "Source orders rejected by a filter.",
		}),
		Copies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "copies_total",
			Help:      "Copy attempts by outcome.",
		}, []string{"status"}),
		CopyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "copy_duration_seconds",
			Help:      "Time from copy start to exchange response.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		Cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancels_total",
			Help:      "Derived order cancels by trigger and result.",
		}, []string{"trigger", "result"}),
		Orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_total",
			Help:      "Copies whose source was cancelled while they were in flight.",
		}),
		ExposureOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exposure_orders",
			Help:      "Open orders placed by this wallet.",
		}),
		ExposureStake: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exposure_stake",
			Help:      "Unfilled stake across open orders, in base-token units.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_dropped_total",
			Help:      "Telemetry events discarded because the queue was full.",
		}),
	}

	reg.MustRegister(
		m.ConnectionState,
		m.Candidates,
		m.Filtered,
		m.Copies,
		m.CopyLatency,
		m.Cancels,
		m.Orphans,
		m.ExposureOrders,
		m.ExposureStake,
		m.EventsDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

package bot

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/sx-copybot/internal/connection"
)

// Health is the body served on /health.
type Health struct {
	Status     string         `json:"status"` // healthy, degraded, unhealthy
	Components map[string]any `json:"components"`
}

// Health reports the state of the feed, the ledger and the telemetry queue.
func (b *Bot) Health() Health {
	h := Health{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	state := b.feed.State()
	h.Components["feed"] = state.String()
	switch state {
	case connection.StateConnected:
	case connection.StateFailed:
		h.Status = "unhealthy"
	default:
		h.Status = "degraded"
	}

	ls := b.ledger.Stats()
	h.Components["ledger"] = map[string]int{
		"mappings":  ls.Mappings,
		"in_flight": ls.InFlight,
		"copied":    ls.Copied,
		"own":       ls.Own,
	}

	ts := b.telemetry.Stats()
	h.Components["telemetry"] = map[string]int64{
		"emitted": ts.Emitted,
		"dropped": ts.Dropped,
	}

	h.Components["copy"] = map[string]any{
		"enabled":  b.cfg.Copy.Enabled,
		"accounts": len(b.sourceAccounts()),
	}

	if b.stopping.Load() {
		h.Status = "unhealthy"
		h.Components["shutdown"] = "in progress"
	}
	return h
}

// HealthHandler serves Health as JSON, with 503 when unhealthy.
func (b *Bot) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := b.Health()

		w.Header().Set("Content-Type", "application/json")
		if h.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.Candidates.Inc()
	if got := testutil.ToFloat64(a.Candidates); got != 1 {
		t.Errorf("a.Candidates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.Candidates); got != 0 {
		t.Errorf("b.Candidates = %v, want 0", got)
	}
}

func TestMetrics_Labels(t *testing.T) {
	m := New()
	m.Copies.WithLabelValues("submitted").Inc()
	m.Copies.WithLabelValues("submitted").Inc()
	m.Copies.WithLabelValues("rejected").Inc()
	m.Cancels.WithLabelValues("source_cancelled", "ok").Inc()

	if got := testutil.ToFloat64(m.Copies.WithLabelValues("submitted")); got != 2 {
		t.Errorf("copies{submitted} = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.Copies); got != 2 {
		t.Errorf("copies series = %d, want 2", got)
	}
	if got := testutil.ToFloat64(m.Cancels.WithLabelValues("source_cancelled", "ok")); got != 1 {
		t.Errorf("cancels = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ExposureOrders.Set(3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{"copybot_exposure_orders 3", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

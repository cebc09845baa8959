package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/rickgao/sx-copybot/internal/model"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com", "test-key")

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.apiKey != "test-key" {
			t.Errorf("apiKey = %q, want %q", c.apiKey, "test-key")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if !strings.HasPrefix(c.userAgent, "sx-copybot/") {
			t.Errorf("userAgent = %q, want sx-copybot/ prefix", c.userAgent)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://api.example.com", "key",
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
			WithUserAgent("custom/1"),
		)
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.maxRetries != 10 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 10)
		}
		if c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, 500*time.Millisecond)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
		if c.userAgent != "custom/1" {
			t.Errorf("userAgent = %q, want %q", c.userAgent, "custom/1")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("https://api.example.com", "", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
	})

	t.Run("nil logger keeps default", func(t *testing.T) {
		c := NewClient("https://api.example.com", "", WithLogger(nil))
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{
			StatusCode: 404,
			Message:    "Not Found",
			Body:       []byte(`{"error": "market not found"}`),
		}
		expected := "exchange api error 404: Not Found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{504, true},
			{429, true},
			{400, false},
			{401, false},
			{403, false},
			{404, false},
			{200, false},
			{499, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("X-Api-Key") != "test-key" {
				t.Errorf("X-Api-Key header = %q, want %q", r.Header.Get("X-Api-Key"), "test-key")
			}
			if r.Header.Get("User-Agent") != "copybot-test" {
				t.Errorf("User-Agent header = %q, want %q", r.Header.Get("User-Agent"), "copybot-test")
			}
			w.Write([]byte(`{"status":"success"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "test-key", WithUserAgent("copybot-test"))
		body, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status":"success"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status":"success"}`)
		}
	})

	t.Run("request without API key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Api-Key") != "" {
				t.Errorf("X-Api-Key header should be empty, got %q", r.Header.Get("X-Api-Key"))
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("JSON body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
			}
			data, _ := io.ReadAll(r.Body)
			if string(data) != `{"a":1}` {
				t.Errorf("body = %s, want {\"a\":1}", data)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		body := map[string]int{"a": 1}
		if _, err := c.doRequest(context.Background(), http.MethodPost, "/test", nil, body); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if !strings.Contains(string(apiErr.Body), "not found") {
			t.Errorf("Body should contain 'not found', got %q", string(apiErr.Body))
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q, want %q", string(body), `{"ok": true}`)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("retries on transport failure", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				conn, _, err := w.(http.Hijacker).Hijack()
				if err == nil {
					conn.Close()
				}
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodPost, "/test", nil, map[string]int{"a": 1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if atomic.LoadInt32(&attempts) < 2 {
			t.Errorf("attempts = %d, want at least 2", attempts)
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error should contain 'max retries exceeded', got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(5, 50*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.doWithRetry(ctx, http.MethodGet, "/test", nil, nil)
		if err == nil || !strings.Contains(err.Error(), "context") {
			t.Errorf("error should be context-related, got %v", err)
		}
	})
}

func TestDecodeEnvelope(t *testing.T) {
	t.Run("failure status", func(t *testing.T) {
		err := decodeEnvelope([]byte(`{"status":"failure","data":null}`), nil)
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("expected *StatusError, got %v", err)
		}
		if statusErr.Status != "failure" {
			t.Errorf("Status = %q, want %q", statusErr.Status, "failure")
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		var out []APIMarket
		err := decodeEnvelope([]byte(`not json`), &out)
		if err == nil || !strings.Contains(err.Error(), "unmarshal response") {
			t.Errorf("error = %v, want unmarshal response error", err)
		}
	})
}

func TestGetMarkets(t *testing.T) {
	t.Run("successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/markets/find" {
				t.Errorf("path = %q, want %q", r.URL.Path, "/markets/find")
			}
			if got := r.URL.Query().Get("marketHashes"); got != "0xa,0xb" {
				t.Errorf("marketHashes = %q, want %q", got, "0xa,0xb")
			}
			w.Write([]byte(`{"status":"success","data":[
				{"marketHash":"0xa","sportId":5,"leagueId":1236,"type":226,"gameTime":1700000000,"sportXeventId":"L1"},
				{"marketHash":"0xb","sportId":1,"leagueId":29,"type":1,"legs":[{"marketHash":"0xc"}]}
			]}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		markets, err := c.GetMarkets(context.Background(), []string{"0xa", "0xb"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(markets) != 2 {
			t.Fatalf("len(markets) = %d, want 2", len(markets))
		}

		m := markets[0].ToModel()
		if m.Hash != "0xa" || m.SportID != 5 || m.LeagueID != 1236 || m.Type != 226 || m.EventID != "L1" {
			t.Errorf("ToModel() = %+v", m)
		}
		if !m.GameTime.Equal(time.Unix(1700000000, 0)) {
			t.Errorf("GameTime = %v, want %v", m.GameTime, time.Unix(1700000000, 0))
		}
		if m.IsParlay() {
			t.Error("market 0xa should not be a parlay")
		}

		p := markets[1].ToModel()
		if !p.IsParlay() || len(p.Legs) != 1 || p.Legs[0] != "0xc" {
			t.Errorf("parlay legs = %v", p.Legs)
		}
		if !p.GameTime.IsZero() {
			t.Errorf("GameTime = %v, want zero", p.GameTime)
		}
	})

	t.Run("empty input skips request", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", "key")
		markets, err := c.GetMarkets(context.Background(), nil)
		if err != nil || markets != nil {
			t.Errorf("GetMarkets(nil) = %v, %v; want nil, nil", markets, err)
		}
	})

	t.Run("too many hashes", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", "key")
		hashes := make([]string, MaxMarketsPerRequest+1)
		if _, err := c.GetMarkets(context.Background(), hashes); err == nil {
			t.Error("expected error for oversized batch")
		}
	})
}

func TestGetMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metadata" {
			t.Errorf("path = %q, want /metadata", r.URL.Path)
		}
		w.Write([]byte(`{"status":"success","data":{"executorAddress":"0x52adf738AAD93c31f798a30b2C74D658e1E9a562","oddsLadderStepSize":25,"domainVersion":"6.0"}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "key")
	md, err := c.GetMetadata(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md.ExecutorAddress != "0x52adf738AAD93c31f798a30b2C74D658e1E9a562" {
		t.Errorf("ExecutorAddress = %q", md.ExecutorAddress)
	}
	if md.OddsLadderStepSize != 25 {
		t.Errorf("OddsLadderStepSize = %d, want 25", md.OddsLadderStepSize)
	}
	if md.DomainVersion != "6.0" {
		t.Errorf("DomainVersion = %q, want %q", md.DomainVersion, "6.0")
	}
}

func TestPostOrders(t *testing.T) {
	order := model.Order{
		MarketHash:     "0xmarket",
		Maker:          "0xmaker",
		TotalBetSize:   uint256.NewInt(1000000),
		PercentageOdds: uint256.MustFromDecimal("50000000000000000000"),
		BaseToken:      "0xtoken",
		APIExpiry:      1700000000,
		Executor:       "0xexec",
		Salt:           uint256.NewInt(42),
		Signature:      "0xsig",
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders/new" {
			t.Errorf("request = %s %s, want POST /orders/new", r.Method, r.URL.Path)
		}
		var req PostOrdersRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(req.Orders) != 1 {
			t.Fatalf("len(orders) = %d, want 1", len(req.Orders))
		}
		got := req.Orders[0]
		if got.TotalBetSize != "1000000" || got.PercentageOdds != "50000000000000000000" || got.Salt != "42" {
			t.Errorf("wire order = %+v", got)
		}
		w.Write([]byte(`{"status":"success","data":{"orders":["0xhash"]}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "key")
	res, err := c.PostOrders(context.Background(), []APIOrder{OrderFromModel(order)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Orders) != 1 || res.Orders[0] != "0xhash" {
		t.Errorf("Orders = %v, want [0xhash]", res.Orders)
	}
}

func TestCancelEndpoints(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"status":"success","data":{"cancelledCount":2}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "key")
	ctx := context.Background()

	res, err := c.CancelOrders(ctx, CancelOrdersRequest{OrderHashes: []string{"0x1", "0x2"}})
	if err != nil {
		t.Fatalf("CancelOrders: %v", err)
	}
	if res.CancelledCount != 2 {
		t.Errorf("CancelledCount = %d, want 2", res.CancelledCount)
	}
	if _, err := c.CancelEventOrders(ctx, CancelEventOrdersRequest{SportXEventID: "L1"}); err != nil {
		t.Fatalf("CancelEventOrders: %v", err)
	}
	if _, err := c.CancelAllOrders(ctx, CancelAllOrdersRequest{}); err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}

	want := []string{"/orders/cancel/v2", "/orders/cancel/event", "/orders/cancel/all"}
	if strings.Join(paths, " ") != strings.Join(want, " ") {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestOrderFromModelNilAmounts(t *testing.T) {
	got := OrderFromModel(model.Order{})
	if got.TotalBetSize != "0" || got.PercentageOdds != "0" || got.Salt != "0" {
		t.Errorf("OrderFromModel(zero) = %+v, want zero amounts", got)
	}
}

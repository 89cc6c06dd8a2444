package barfeed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/algomatic/pinec/pkg/store"
)

func testConfig() *Config {
	return &Config{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	}
}

func cannedBars() *barsResponse {
	return &barsResponse{
		Symbol:    "AAPL",
		Timeframe: "1Hour",
		Count:     3,
		Bars: []barPayload{
			{Timestamp: "2024-01-02T10:00:00Z", Open: 100, High: 105, Low: 99, Close: 103, Volume: 1000},
			{Timestamp: "garbage", Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
			{Timestamp: "2024-01-02T11:00:00Z", Open: 103, High: 107, Low: 102, Close: 106, Volume: 1200},
		},
	}
}

// newTestServer serves canned responses for /api/bars and counts requests.
func newTestServer(resp *barsResponse, hits *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/api/bars" || resp == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(apiError{Detail: "no data"})
			return
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestLoadBars(t *testing.T) {
	var hits int32
	ts := newTestServer(cannedBars(), &hits)
	defer ts.Close()

	client := NewClient(ts.URL, testConfig())
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars, err := client.LoadBars(context.Background(), store.BarQuery{Symbol: "AAPL", Timeframe: "1Hour", Start: &start})
	if err != nil {
		t.Fatalf("LoadBars returned error: %v", err)
	}
	if bars.Len() != 2 {
		t.Fatalf("expected 2 bars (garbage row skipped), got %d", bars.Len())
	}
	if bars.Open[0] != 100 || bars.Close[1] != 106 {
		t.Errorf("open[0]=%g close[1]=%g", bars.Open[0], bars.Close[1])
	}
	if err := bars.Validate(); err != nil {
		t.Errorf("table invalid: %v", err)
	}
}

func TestLoadBarsCache(t *testing.T) {
	var hits int32
	ts := newTestServer(cannedBars(), &hits)
	defer ts.Close()

	cfg := testConfig()
	cfg.EnableCache = true
	client := NewClient(ts.URL, cfg)
	q := store.BarQuery{Symbol: "AAPL", Timeframe: "1Hour"}

	for i := 0; i < 3; i++ {
		if _, err := client.LoadBars(context.Background(), q); err != nil {
			t.Fatal(err)
		}
	}
	if hits != 1 {
		t.Errorf("server hit %d times, want 1", hits)
	}
	client.ClearCache()
	if _, err := client.LoadBars(context.Background(), q); err != nil {
		t.Fatal(err)
	}
	if hits != 2 {
		t.Errorf("server hit %d times after ClearCache, want 2", hits)
	}
}

func TestLoadBarsNotFound(t *testing.T) {
	var hits int32
	ts := newTestServer(nil, &hits)
	defer ts.Close()

	_, err := NewClient(ts.URL, testConfig()).LoadBars(context.Background(), store.BarQuery{Symbol: "ZZZ", Timeframe: "1Day"})
	if err == nil || !strings.Contains(err.Error(), "not found: no data") {
		t.Fatalf("err = %v, want not found", err)
	}
	if hits != 1 {
		t.Errorf("404 retried: %d hits", hits)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(cannedBars())
	}))
	defer ts.Close()

	bars, err := NewClient(ts.URL, testConfig()).LoadBars(context.Background(), store.BarQuery{Symbol: "AAPL", Timeframe: "1Hour"})
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if bars.Len() != 2 || hits != 3 {
		t.Errorf("bars=%d hits=%d, want 2 and 3", bars.Len(), hits)
	}
}

func TestRetriesExhausted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, testConfig()).LoadBars(context.Background(), store.BarQuery{Symbol: "AAPL", Timeframe: "1Hour"})
	if err == nil || !strings.Contains(err.Error(), "retries exhausted") {
		t.Fatalf("err = %v", err)
	}
}

func TestRejectsUnorderedBars(t *testing.T) {
	resp := cannedBars()
	resp.Bars[0], resp.Bars[2] = resp.Bars[2], resp.Bars[0]
	var hits int32
	ts := newTestServer(resp, &hits)
	defer ts.Close()

	_, err := NewClient(ts.URL, testConfig()).LoadBars(context.Background(), store.BarQuery{Symbol: "AAPL", Timeframe: "1Hour"})
	if err == nil || !strings.Contains(err.Error(), "is not after") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidatesQuery(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", testConfig())
	if _, err := c.LoadBars(context.Background(), store.BarQuery{Timeframe: "1Day"}); err == nil {
		t.Error("expected error without symbol")
	}
	if _, err := c.LoadBars(context.Background(), store.BarQuery{Symbol: "AAPL", Timeframe: "2Hour"}); err == nil {
		t.Error("expected error for bad timeframe")
	}
}

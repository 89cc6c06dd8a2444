// Package barfeed loads bar tables from the market-data backend's REST API.
//
// It is the alternative to reading PostgreSQL directly: the server and CLI
// use it when a backend URL is configured and no database is.
//
// Usage:
//
//	client := barfeed.NewClient("http://localhost:8000", nil)
//	bars, err := client.LoadBars(ctx, store.BarQuery{Symbol: "AAPL", Timeframe: "1Hour"})
package barfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/algomatic/pinec/pkg/store"
	"github.com/algomatic/pinec/pkg/types"
)

// DefaultTimeout is the per-request timeout applied to API calls.
const DefaultTimeout = 30 * time.Second

// MaxRetries is the number of retry attempts for transient errors.
const MaxRetries = 3

// Config holds optional configuration for the client.
type Config struct {
	// Timeout per HTTP request. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxRetries for transient errors. Zero means the package default.
	MaxRetries int

	// Backoff before the first retry; it doubles per attempt. Zero means
	// 500ms.
	Backoff time.Duration

	// Logger for debug/info output. Nil uses slog.Default().
	Logger *slog.Logger

	// EnableCache keeps fetched tables in memory.
	EnableCache bool
}

// Client is an HTTP client for the backend bar API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger

	cacheMu sync.RWMutex
	cache   map[string]*types.BarTable
	cacheOn bool
}

// NewClient creates a new client. baseURL includes the scheme and host,
// e.g. "http://localhost:8000". A nil config uses the defaults.
func NewClient(baseURL string, cfg *Config) *Client {
	timeout := DefaultTimeout
	retries := MaxRetries
	backoff := 500 * time.Millisecond
	logger := slog.Default()
	enableCache := false

	if cfg != nil {
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		if cfg.MaxRetries > 0 {
			retries = cfg.MaxRetries
		}
		if cfg.Backoff > 0 {
			backoff = cfg.Backoff
		}
		if cfg.Logger != nil {
			logger = cfg.Logger
		}
		enableCache = cfg.EnableCache
	}

	logger.Info("Bar feed client initialised",
		"base_url", baseURL,
		"timeout", timeout,
		"max_retries", retries,
		"cache", enableCache,
	)

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
		backoff:    backoff,
		logger:     logger,
		cache:      make(map[string]*types.BarTable),
		cacheOn:    enableCache,
	}
}

// ---------------------------------------------------------------------------
// JSON response shapes
// ---------------------------------------------------------------------------

type barsResponse struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Count     int          `json:"count"`
	Bars      []barPayload `json:"bars"`
}

type barPayload struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

type apiError struct {
	Detail string `json:"detail"`
}

// ---------------------------------------------------------------------------
// Public Methods
// ---------------------------------------------------------------------------

// LoadBars fetches the bars matching q. Rows with unreadable timestamps are
// skipped; rows out of time order are an error.
func (c *Client) LoadBars(ctx context.Context, q store.BarQuery) (*types.BarTable, error) {
	if q.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if !store.ValidTimeframes[q.Timeframe] {
		return nil, fmt.Errorf("invalid timeframe %q", q.Timeframe)
	}

	params := url.Values{
		"symbol":    {q.Symbol},
		"timeframe": {q.Timeframe},
	}
	if q.Start != nil {
		params.Set("start_timestamp", q.Start.Format(time.RFC3339))
	}
	if q.End != nil {
		params.Set("end_timestamp", q.End.Format(time.RFC3339))
	}
	cacheKey := params.Encode()

	if c.cacheOn {
		c.cacheMu.RLock()
		table, ok := c.cache[cacheKey]
		c.cacheMu.RUnlock()
		if ok {
			c.logger.Debug("Cache hit for bars", "key", cacheKey)
			return table, nil
		}
	}

	c.logger.Debug("Fetching bars", "symbol", q.Symbol, "timeframe", q.Timeframe)

	body, err := c.doGet(ctx, "/api/bars", params)
	if err != nil {
		return nil, fmt.Errorf("LoadBars: %w", err)
	}

	var resp barsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("LoadBars: decoding response: %w", err)
	}

	bars := make([]types.Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		ts, err := parseTimestamp(b.Timestamp)
		if err != nil {
			c.logger.Warn("Skipping bar with unparseable timestamp", "ts", b.Timestamp, "err", err)
			continue
		}
		if n := len(bars); n > 0 && !ts.After(bars[n-1].Timestamp) {
			return nil, fmt.Errorf("LoadBars: bar at %s is not after %s", b.Timestamp, bars[n-1].Timestamp.Format(time.RFC3339))
		}
		bars = append(bars, types.Bar{
			Timestamp: ts,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	table := types.NewBarTable(bars)

	if c.cacheOn {
		c.cacheMu.Lock()
		c.cache[cacheKey] = table
		c.cacheMu.Unlock()
	}

	c.logger.Info("Fetched bars", "symbol", q.Symbol, "timeframe", q.Timeframe, "count", len(bars))
	return table, nil
}

// ClearCache removes all cached entries.
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	c.cache = make(map[string]*types.BarTable)
	c.cacheMu.Unlock()
	c.logger.Debug("Cache cleared")
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// doGet executes a GET request with retries and exponential backoff.
func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * c.backoff
			c.logger.Debug("Retrying request",
				"attempt", attempt, "backoff", backoff, "url", u,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Warn("HTTP request failed", "url", u, "attempt", attempt, "err", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("reading response body: %w", readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusNotFound:
			kind := "bad request"
			if resp.StatusCode == http.StatusNotFound {
				kind = "not found"
			}
			var apiErr apiError
			if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail != "" {
				return nil, fmt.Errorf("%s: %s", kind, apiErr.Detail)
			}
			return nil, fmt.Errorf("%s (status %d)", kind, resp.StatusCode)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error (status %d)", resp.StatusCode)
			c.logger.Warn("Server error, will retry",
				"status", resp.StatusCode, "attempt", attempt,
			)
			continue
		default:
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
	}

	return nil, fmt.Errorf("all %d retries exhausted: %w", c.maxRetries, lastErr)
}

// parseTimestamp tries multiple timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, f := range formats {
		t, err := time.Parse(f, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp format: %s", s)
}

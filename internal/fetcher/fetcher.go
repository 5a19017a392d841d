// Package fetcher is the outbound HTTP client for upstream market APIs. It
// serializes requests behind a minimum inter-request delay and keeps
// request counters for the stats endpoint.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/prophit/market-tracker/internal/metrics"
)

const (
	DefaultDelay   = 1000 * time.Millisecond
	DefaultTimeout = 10 * time.Second

	userAgent = "market-tracker/1.0"
)

// APIError is returned for non-2xx upstream responses.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// Fetcher issues GET requests and decodes JSON responses. It never retries;
// callers own retry and fallback.
type Fetcher struct {
	http    *http.Client
	limiter *rate.Limiter
	delay   time.Duration
	logger  *slog.Logger

	requests atomic.Int64
	lastReq  atomic.Int64 // unix nanos, 0 = never
}

// New creates a Fetcher enforcing delay between consecutive requests.
func New(delay, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if delay < 0 {
		delay = 0
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Fetcher{
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		delay:   delay,
		logger:  logger,
	}
}

// GetJSON waits for the rate limiter, issues a GET and decodes the body into out.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	f.lastReq.Store(time.Now().UnixNano())
	f.requests.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	host := hostOf(rawURL)
	resp, err := f.http.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(host, "error").Inc()
		f.logger.Warn("upstream request failed", "host", host, "err", err)
		return fmt.Errorf("request %s: %w", host, err)
	}
	defer resp.Body.Close()
	metrics.UpstreamRequests.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, URL: rawURL, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", host, err)
	}
	return nil
}

// RequestCount is the number of requests issued since startup.
func (f *Fetcher) RequestCount() int64 { return f.requests.Load() }

// LastRequestTime is when the most recent request was issued, zero if none.
func (f *Fetcher) LastRequestTime() time.Time {
	ns := f.lastReq.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Delay is the configured minimum delay between requests.
func (f *Fetcher) Delay() time.Duration { return f.delay }

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

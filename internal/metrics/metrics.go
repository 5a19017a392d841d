// Package metrics provides Prometheus instrumentation for the market tracker.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollCycles counts poll cycles by result ("ok" or "error").
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_tracker_poll_cycles_total",
		Help: "Total poll cycles executed",
	}, []string{"result"})

	// PollCycleDuration tracks how long a full fetch/detect cycle takes.
	PollCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "market_tracker_poll_cycle_duration_seconds",
		Help:    "Poll cycle duration in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// FetchSource counts which upstream served each fetch.
	FetchSource = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_tracker_fetch_source_total",
		Help: "Market fetches by serving source (clob, gamma, mock)",
	}, []string{"source"})

	// UpstreamRequests counts outbound requests by host and status.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_tracker_upstream_requests_total",
		Help: "Outbound upstream API requests",
	}, []string{"host", "status"})

	// MarketsTracked is the number of markets seen in the last cycle.
	MarketsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_tracker_markets_tracked",
		Help: "Markets returned by the most recent fetch",
	})

	// MovementsDetected counts movements recorded, partitioned by direction.
	MovementsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_tracker_movements_detected_total",
		Help: "Significant movements recorded",
	}, []string{"direction"})

	// MovementsDeduplicated counts detections dropped as duplicates.
	MovementsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_tracker_movements_deduplicated_total",
		Help: "Movements suppressed because an equivalent one was already stored",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_tracker_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_tracker_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_tracker_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps market IDs out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

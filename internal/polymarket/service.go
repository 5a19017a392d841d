// Package polymarket fetches active markets from the Polymarket CLOB and
// Gamma APIs, normalizes them, and persists each snapshot with its price
// history. When both upstreams fail a fixed mock set is served instead.
package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prophit/market-tracker/internal/fetcher"
	"github.com/prophit/market-tracker/internal/history"
	"github.com/prophit/market-tracker/internal/metrics"
	"github.com/prophit/market-tracker/internal/model"
	"github.com/prophit/market-tracker/internal/normalize"
	"github.com/prophit/market-tracker/internal/store"
)

const (
	DefaultCLOBURL        = "https://clob.polymarket.com"
	DefaultGammaURL       = "https://gamma-api.polymarket.com"
	DefaultLimit          = 50
	DefaultStorageTimeout = 15 * time.Second
)

// Config holds upstream endpoints and credentials.
type Config struct {
	CLOBBaseURL    string
	GammaBaseURL   string
	APIKey         string
	Secret         string
	Passphrase     string
	StorageTimeout time.Duration
}

// FetchStats summarizes outbound activity for the stats endpoint.
type FetchStats struct {
	RequestCount    int64      `json:"requestCount"`
	LastRequestTime *time.Time `json:"lastRequestTime"`
	RateLimitDelay  int64      `json:"rateLimitDelay"` // milliseconds
	APIConfigured   bool       `json:"apiConfigured"`
}

// Service runs the CLOB → Gamma → mock fallback chain.
type Service struct {
	cfg        Config
	fetcher    *fetcher.Fetcher
	normalizer *normalize.Normalizer
	store      store.Store
	history    *history.Recorder
	logger     *slog.Logger
}

// NewService wires the fetch chain. A nil logger uses slog.Default().
func NewService(cfg Config, f *fetcher.Fetcher, n *normalize.Normalizer, st store.Store, rec *history.Recorder, logger *slog.Logger) *Service {
	if cfg.CLOBBaseURL == "" {
		cfg.CLOBBaseURL = DefaultCLOBURL
	}
	if cfg.GammaBaseURL == "" {
		cfg.GammaBaseURL = DefaultGammaURL
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = DefaultStorageTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		fetcher:    f,
		normalizer: n,
		store:      st,
		history:    rec,
		logger:     logger,
	}
}

// APIConfigured reports whether CLOB credentials are present.
func (s *Service) APIConfigured() bool {
	return s.cfg.APIKey != "" && s.cfg.Secret != ""
}

// Stats returns fetcher counters and credential state.
func (s *Service) Stats() FetchStats {
	st := FetchStats{
		RequestCount:   s.fetcher.RequestCount(),
		RateLimitDelay: s.fetcher.Delay().Milliseconds(),
		APIConfigured:  s.APIConfigured(),
	}
	if t := s.fetcher.LastRequestTime(); !t.IsZero() {
		st.LastRequestTime = &t
	}
	return st
}

// FetchActiveMarkets fetches up to limit markets and persists each one along
// with a price history sample per outcome. Per-market storage failures are
// logged and the market is left out of the result. Upstream failures never
// surface as errors; only a canceled context does.
func (s *Service) FetchActiveMarkets(ctx context.Context, limit int) ([]model.Market, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	markets, source, err := s.fetch(ctx, limit)
	if err != nil {
		return nil, err
	}
	metrics.FetchSource.WithLabelValues(string(source)).Inc()

	saved := make([]model.Market, 0, len(markets))
	for i := range markets {
		if err := s.persist(ctx, &markets[i]); err != nil {
			s.logger.Warn("skipping market, storage failed",
				"market_id", markets[i].ID,
				"source", source,
				"err", err,
			)
			continue
		}
		saved = append(saved, markets[i])
	}
	s.logger.Info("fetched markets", "source", source, "fetched", len(markets), "saved", len(saved))
	return saved, nil
}

func (s *Service) fetch(ctx context.Context, limit int) ([]model.Market, normalize.Source, error) {
	if s.APIConfigured() {
		apiMarkets, err := s.fetchCLOB(ctx, limit)
		if err == nil {
			out := make([]model.Market, 0, len(apiMarkets))
			for i := range apiMarkets {
				if m, ok := s.normalizer.Normalize(apiMarkets[i].ToRaw()); ok {
					out = append(out, *m)
				}
			}
			return out, normalize.SourceCLOB, nil
		}
		s.logger.Warn("clob fetch failed, falling back to gamma", "err", err)
	}

	events, err := s.fetchGamma(ctx, limit)
	if err == nil {
		out := make([]model.Market, 0, len(events))
		for i := range events {
			if m, ok := s.normalizer.Normalize(events[i].ToRaw()); ok {
				out = append(out, *m)
			}
		}
		return out, normalize.SourceGamma, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, "", fmt.Errorf("fetch active markets: %w", ctxErr)
	}

	s.logger.Warn("all upstreams failed, serving mock markets", "err", err)
	return MockMarkets(limit, s.normalizer.Rand(), s.history.Now()), normalize.SourceMock, nil
}

func (s *Service) persist(ctx context.Context, m *model.Market) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	if err := s.store.UpsertMarket(ctx, m); err != nil {
		return fmt.Errorf("upsert market: %w", err)
	}
	if err := s.history.Append(ctx, m.ID, m.Outcomes); err != nil {
		return err
	}
	return nil
}

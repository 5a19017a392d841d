// Package pipeline runs one poll cycle: fetch and persist markets, detect
// movements on each, store the new ones, and fan them out to listeners.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prophit/market-tracker/internal/metrics"
	"github.com/prophit/market-tracker/internal/model"
	"github.com/prophit/market-tracker/internal/store"
)

// MarketSource fetches and persists the current active markets.
type MarketSource interface {
	FetchActiveMarkets(ctx context.Context, limit int) ([]model.Market, error)
}

// MovementDetector finds movements for one market.
type MovementDetector interface {
	Detect(ctx context.Context, marketID string) ([]model.Movement, error)
}

// Notifier receives the movements stored by a cycle, once per cycle. The
// slice is empty when nothing new was stored.
type Notifier interface {
	NotifyMovements(ctx context.Context, movements []model.MovementView) error
}

// Broadcaster pushes a single movement to live subscribers. It must not block.
type Broadcaster interface {
	BroadcastMovement(mv model.MovementView)
}

// Result summarizes a cycle.
type Result struct {
	Markets    int
	Detected   int
	Duplicates int
	Movements  []model.MovementView // newly stored
	Duration   time.Duration
}

// Config tunes a Pipeline.
type Config struct {
	FetchLimit     int
	StorageTimeout time.Duration
}

// Pipeline wires the cycle stages together.
type Pipeline struct {
	cfg       Config
	source    MarketSource
	detector  MovementDetector
	store     store.Store
	notifiers []Notifier
	hub       Broadcaster
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNotifier adds a movement notifier. Nil notifiers are ignored.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) {
		if n != nil {
			p.notifiers = append(p.notifiers, n)
		}
	}
}

// WithBroadcaster sets the live movement feed.
func WithBroadcaster(b Broadcaster) Option {
	return func(p *Pipeline) { p.hub = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a Pipeline.
func New(cfg Config, source MarketSource, det MovementDetector, st store.Store, opts ...Option) *Pipeline {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 50
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 15 * time.Second
	}
	p := &Pipeline{
		cfg:      cfg,
		source:   source,
		detector: det,
		store:    st,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// RunCycle executes one fetch → detect → store cycle. Only a fetch failure
// fails the cycle; per-market detection and storage errors are logged.
func (p *Pipeline) RunCycle(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result
	defer func() {
		res.Duration = time.Since(start)
		metrics.PollCycleDuration.Observe(res.Duration.Seconds())
	}()

	markets, err := p.source.FetchActiveMarkets(ctx, p.cfg.FetchLimit)
	if err != nil {
		metrics.PollCycles.WithLabelValues("error").Inc()
		return res, fmt.Errorf("fetch markets: %w", err)
	}
	res.Markets = len(markets)
	metrics.MarketsTracked.Set(float64(len(markets)))

	for i := range markets {
		m := &markets[i]
		movements, err := p.detector.Detect(ctx, m.ID)
		if err != nil {
			p.logger.Warn("movement detection failed", "market_id", m.ID, "err", err)
			continue
		}
		for j := range movements {
			res.Detected++
			inserted, err := p.insert(ctx, &movements[j])
			if err != nil {
				p.logger.Warn("store movement failed", "market_id", m.ID, "outcome", movements[j].Outcome, "err", err)
				continue
			}
			if !inserted {
				res.Duplicates++
				metrics.MovementsDeduplicated.Inc()
				continue
			}
			metrics.MovementsDetected.WithLabelValues(direction(movements[j].ChangePercent)).Inc()
			res.Movements = append(res.Movements, view(m, movements[j]))
		}
	}

	p.fanOut(ctx, res.Movements)
	metrics.PollCycles.WithLabelValues("ok").Inc()
	p.logger.Info("poll cycle complete",
		"markets", res.Markets,
		"detected", res.Detected,
		"stored", len(res.Movements),
		"duplicates", res.Duplicates,
	)
	return res, nil
}

func (p *Pipeline) insert(ctx context.Context, mv *model.Movement) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StorageTimeout)
	defer cancel()
	return p.store.InsertMovement(ctx, mv)
}

// fanOut always reaches the notifiers so a quiet cycle can still be reported.
func (p *Pipeline) fanOut(ctx context.Context, movements []model.MovementView) {
	if p.hub != nil {
		for _, mv := range movements {
			p.hub.BroadcastMovement(mv)
		}
	}
	for _, n := range p.notifiers {
		if err := n.NotifyMovements(ctx, movements); err != nil {
			p.logger.Warn("movement notification failed", "err", err)
		}
	}
}

func direction(change float64) string {
	if change < 0 {
		return "down"
	}
	return "up"
}

func view(m *model.Market, mv model.Movement) model.MovementView {
	return model.MovementView{
		ID:             mv.ID,
		MarketID:       mv.MarketID,
		MarketQuestion: m.Question,
		Category:       m.Category,
		Outcome:        mv.Outcome,
		ChangePercent:  mv.ChangePercent,
		OldPrice:       mv.OldPrice,
		NewPrice:       mv.NewPrice,
		DetectedAt:     mv.DetectedAt,
	}
}

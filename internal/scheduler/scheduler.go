// Package scheduler triggers poll cycles on a fixed interval. Cycles run on a
// single goroutine so they never overlap; ticks that arrive while a cycle is
// still running are coalesced.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prophit/market-tracker/internal/metrics"
	"github.com/prophit/market-tracker/internal/pipeline"
)

// ErrCyclePanicked wraps a panic recovered from a poll cycle.
var ErrCyclePanicked = errors.New("poll cycle panicked")

// Runner executes one poll cycle.
type Runner interface {
	RunCycle(ctx context.Context) (pipeline.Result, error)
}

// Config holds scheduler timing.
type Config struct {
	Interval     time.Duration // time between cycles (default: 2m)
	InitialDelay time.Duration // delay before the first cycle (default: 1s)
}

// DefaultConfig returns a two minute interval with a one second warmup.
func DefaultConfig() Config {
	return Config{
		Interval:     2 * time.Minute,
		InitialDelay: time.Second,
	}
}

// Status is the scheduler state reported by the stats endpoint.
type Status struct {
	Running         bool       `json:"running"`
	IntervalMinutes float64    `json:"intervalMinutes"`
	LastRun         *time.Time `json:"lastRun"`
	RunCount        int64      `json:"runCount"`
	NextRunEstimate *time.Time `json:"nextRunEstimate"`
}

// Scheduler runs a Runner periodically.
type Scheduler struct {
	cfg    Config
	runner Runner
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastRun  time.Time
	runCount int64
	nextRun  time.Time
}

// New creates a Scheduler. Non-positive durations fall back to defaults,
// except InitialDelay which may be zero.
func New(cfg Config, runner Runner, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, runner: runner, logger: logger}
}

// Start begins scheduling. Calling Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	s.nextRun = time.Now().Add(s.cfg.InitialDelay)

	go s.run(runCtx, done)

	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval,
		"initial_delay", s.cfg.InitialDelay,
	)
	return nil
}

// Stop cancels scheduling and waits for an in-flight cycle to finish or for
// ctx to expire. It is safe to call more than once.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:         s.running,
		IntervalMinutes: s.cfg.Interval.Minutes(),
		RunCount:        s.runCount,
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		st.LastRun = &t
	}
	if s.running && !s.nextRun.IsZero() {
		t := s.nextRun
		st.NextRunEstimate = &t
	}
	return st
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()
	}()

	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.cycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	start := time.Now()
	_, err := s.safeRun(ctx)

	s.mu.Lock()
	s.lastRun = start
	s.runCount++
	s.nextRun = time.Now().Add(s.cfg.Interval)
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("poll cycle failed", "err", err, "duration", time.Since(start))
	}
}

// RunOnce executes a single cycle outside the schedule.
func (s *Scheduler) RunOnce(ctx context.Context) (pipeline.Result, error) {
	res, err := s.safeRun(ctx)
	s.mu.Lock()
	s.lastRun = time.Now()
	s.runCount++
	s.mu.Unlock()
	return res, err
}

// safeRun turns a panicking cycle into a failed one.
func (s *Scheduler) safeRun(ctx context.Context) (res pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PollCycles.WithLabelValues("error").Inc()
			s.logger.Error("poll cycle panicked", "panic", r, "stack", string(debug.Stack()))
			res = pipeline.Result{}
			err = fmt.Errorf("%w: %v", ErrCyclePanicked, r)
		}
	}()
	return s.runner.RunCycle(ctx)
}

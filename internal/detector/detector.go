// Package detector finds significant price movements in recent price history.
package detector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prophit/market-tracker/internal/model"
)

// Defaults for Config.
const (
	DefaultThresholdPercent = 10.0
	DefaultWindow           = time.Hour
)

// HistoryReader is the slice of the history recorder the detector needs.
type HistoryReader interface {
	Window(ctx context.Context, marketID string, d time.Duration, outcome string) ([]model.PriceHistoryEntry, error)
	Now() time.Time
}

// Config holds detector settings.
type Config struct {
	ThresholdPercent float64       // absolute percent change that fires
	Window           time.Duration // lookback window
	DedupBucket      time.Duration // movements in the same bucket share a dedup key
}

// DefaultConfig returns a 10% threshold over a one hour window.
func DefaultConfig() Config {
	return Config{
		ThresholdPercent: DefaultThresholdPercent,
		Window:           DefaultWindow,
		DedupBucket:      DefaultWindow,
	}
}

// Detector compares the first and last sample of each outcome in the window.
type Detector struct {
	cfg       Config
	history   HistoryReader
	threshold decimal.Decimal
	newID     func() string
}

// New creates a Detector. Non-positive config values fall back to defaults.
func New(cfg Config, history HistoryReader) *Detector {
	if cfg.ThresholdPercent <= 0 {
		cfg.ThresholdPercent = DefaultThresholdPercent
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.DedupBucket <= 0 {
		cfg.DedupBucket = cfg.Window
	}
	return &Detector{
		cfg:       cfg,
		history:   history,
		threshold: decimal.NewFromFloat(cfg.ThresholdPercent),
		newID:     func() string { return uuid.New().String() },
	}
}

// Threshold is the configured percent threshold.
func (d *Detector) Threshold() float64 { return d.cfg.ThresholdPercent }

var hundred = decimal.NewFromInt(100)

// Detect returns at most one movement per outcome of marketID whose change
// across the window meets the threshold. Outcomes with fewer than two
// samples, or whose earliest price is not positive, are skipped.
func (d *Detector) Detect(ctx context.Context, marketID string) ([]model.Movement, error) {
	entries, err := d.history.Window(ctx, marketID, d.cfg.Window, "")
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", marketID, err)
	}

	byOutcome := make(map[string][]model.PriceHistoryEntry)
	for _, e := range entries {
		byOutcome[e.Outcome] = append(byOutcome[e.Outcome], e)
	}
	outcomes := make([]string, 0, len(byOutcome))
	for o := range byOutcome {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)

	now := d.history.Now()
	var movements []model.Movement
	for _, outcome := range outcomes {
		samples := byOutcome[outcome]
		if len(samples) < 2 {
			continue
		}
		// Entries arrive oldest first; keep that order for equal timestamps.
		sort.SliceStable(samples, func(i, j int) bool {
			return samples[i].Timestamp.Before(samples[j].Timestamp)
		})
		earliest, latest := samples[0], samples[len(samples)-1]

		change, ok := ChangePercent(earliest.Price, latest.Price)
		if !ok || change.Abs().LessThan(d.threshold) {
			continue
		}
		movements = append(movements, model.Movement{
			ID:            d.newID(),
			MarketID:      marketID,
			Outcome:       outcome,
			ChangePercent: change.Round(2).InexactFloat64(),
			OldPrice:      earliest.Price,
			NewPrice:      latest.Price,
			DetectedAt:    now,
			DedupKey:      d.dedupKey(marketID, outcome, now),
		})
	}
	return movements, nil
}

// ChangePercent is (newPrice-oldPrice)/oldPrice*100, unrounded. The
// threshold is applied to this value; only the stored figure is rounded.
// It reports false when oldPrice is not positive.
func ChangePercent(oldPrice, newPrice float64) (decimal.Decimal, bool) {
	old := decimal.NewFromFloat(oldPrice)
	if !old.IsPositive() {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(newPrice).Sub(old).Div(old).Mul(hundred), true
}

func (d *Detector) dedupKey(marketID, outcome string, at time.Time) string {
	bucket := at.UTC().Truncate(d.cfg.DedupBucket)
	return fmt.Sprintf("%s|%s|%d", marketID, outcome, bucket.Unix())
}

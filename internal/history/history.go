// Package history records and queries the per-outcome price time series.
// Retention belongs to the underlying store; this package stamps samples
// and turns hour windows into time ranges.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/prophit/market-tracker/internal/model"
	"github.com/prophit/market-tracker/internal/store"
)

// Recorder appends and reads price samples.
type Recorder struct {
	store store.Store
	now   func() time.Time
}

// NewRecorder creates a Recorder over st. A nil now uses time.Now.
func NewRecorder(st store.Store, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: st, now: now}
}

// Append writes one sample per outcome, all stamped with the current time.
func (r *Recorder) Append(ctx context.Context, marketID string, outcomes []model.OutcomePrice) error {
	if len(outcomes) == 0 {
		return nil
	}
	ts := r.now().UTC()
	entries := make([]model.PriceHistoryEntry, len(outcomes))
	for i, o := range outcomes {
		entries[i] = model.PriceHistoryEntry{
			MarketID:  marketID,
			Outcome:   o.Outcome,
			Price:     o.Price,
			Timestamp: ts,
		}
	}
	if err := r.store.AppendPriceHistory(ctx, entries); err != nil {
		return fmt.Errorf("append history for %s: %w", marketID, err)
	}
	return nil
}

// Query returns samples from the last sinceHours hours, oldest first,
// optionally restricted to one outcome.
func (r *Recorder) Query(ctx context.Context, marketID string, sinceHours int, outcome string) ([]model.PriceHistoryEntry, error) {
	return r.Window(ctx, marketID, time.Duration(sinceHours)*time.Hour, outcome)
}

// Window returns samples within d of now, oldest first.
func (r *Recorder) Window(ctx context.Context, marketID string, d time.Duration, outcome string) ([]model.PriceHistoryEntry, error) {
	now := r.now().UTC()
	entries, err := r.store.PriceHistory(ctx, marketID, now.Add(-d), now, outcome)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", marketID, err)
	}
	return entries, nil
}

// Now is the recorder's current time.
func (r *Recorder) Now() time.Time { return r.now().UTC() }

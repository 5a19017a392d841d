package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prophit/market-tracker/internal/detector"
	"github.com/prophit/market-tracker/internal/history"
	"github.com/prophit/market-tracker/internal/model"
	"github.com/prophit/market-tracker/internal/notify"
	"github.com/prophit/market-tracker/internal/pipeline"
	"github.com/prophit/market-tracker/internal/store"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type stubSource struct {
	markets []model.Market
	err     error
	limit   int
}

func (s *stubSource) FetchActiveMarkets(_ context.Context, limit int) ([]model.Market, error) {
	s.limit = limit
	return s.markets, s.err
}

type recordingNotifier struct {
	batches [][]model.MovementView
	err     error
}

func (n *recordingNotifier) NotifyMovements(_ context.Context, mvs []model.MovementView) error {
	n.batches = append(n.batches, mvs)
	return n.err
}

type recordingHub struct{ got []model.MovementView }

func (h *recordingHub) BroadcastMovement(mv model.MovementView) { h.got = append(h.got, mv) }

type failingDetector struct{}

func (failingDetector) Detect(context.Context, string) ([]model.Movement, error) {
	return nil, errors.New("history unavailable")
}

func setup(t *testing.T) (*store.MemoryStore, *detector.Detector) {
	t.Helper()
	st := store.NewMemoryStore()
	rec := history.NewRecorder(st, func() time.Time { return now })
	require.NoError(t, st.AppendPriceHistory(context.Background(), []model.PriceHistoryEntry{
		{MarketID: "m1", Outcome: "Yes", Price: 0.30, Timestamp: now.Add(-40 * time.Minute)},
		{MarketID: "m1", Outcome: "No", Price: 0.70, Timestamp: now.Add(-40 * time.Minute)},
		{MarketID: "m1", Outcome: "Yes", Price: 0.45, Timestamp: now.Add(-time.Minute)},
		{MarketID: "m1", Outcome: "No", Price: 0.55, Timestamp: now.Add(-time.Minute)},
		{MarketID: "m2", Outcome: "Yes", Price: 0.50, Timestamp: now.Add(-40 * time.Minute)},
		{MarketID: "m2", Outcome: "Yes", Price: 0.51, Timestamp: now.Add(-time.Minute)},
	}))
	return st, detector.New(detector.DefaultConfig(), rec)
}

func markets() []model.Market {
	return []model.Market{
		{ID: "m1", Question: "Will it rain?", Category: "Other", Active: true},
		{ID: "m2", Question: "Will it snow?", Category: "Other", Active: true},
	}
}

func TestRunCycle_StoresAndFansOutMovements(t *testing.T) {
	st, det := setup(t)
	src := &stubSource{markets: markets()}
	notifier := &recordingNotifier{}
	hub := &recordingHub{}
	p := pipeline.New(pipeline.Config{FetchLimit: 25}, src, det, st,
		pipeline.WithNotifier(notifier),
		pipeline.WithNotifier(nil),
		pipeline.WithBroadcaster(hub),
	)

	res, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, src.limit)
	assert.Equal(t, 2, res.Markets)
	assert.Equal(t, 2, res.Detected)
	assert.Zero(t, res.Duplicates)
	require.Len(t, res.Movements, 2)

	// Outcomes come back in sorted order.
	no, yes := res.Movements[0], res.Movements[1]
	assert.Equal(t, "No", no.Outcome)
	assert.InDelta(t, -21.43, no.ChangePercent, 1e-9)
	assert.Equal(t, "Yes", yes.Outcome)
	assert.InDelta(t, 50.0, yes.ChangePercent, 1e-9)
	assert.Equal(t, "Will it rain?", yes.MarketQuestion)

	require.Len(t, notifier.batches, 1)
	assert.Len(t, notifier.batches[0], 2)
	assert.Len(t, hub.got, 2)

	stored, err := st.MovementsSince(context.Background(), now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRunCycle_DeduplicatesWithinBucket(t *testing.T) {
	st, det := setup(t)
	notifier := &recordingNotifier{}
	p := pipeline.New(pipeline.Config{}, &stubSource{markets: markets()}, det, st, pipeline.WithNotifier(notifier))

	_, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	res, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Detected)
	assert.Equal(t, 2, res.Duplicates)
	assert.Empty(t, res.Movements)
	require.Len(t, notifier.batches, 2)
	assert.Empty(t, notifier.batches[1], "nothing new to notify on the second cycle")

	stats, err := st.Stats(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Movements)
}

func TestRunCycle_FetchErrorFailsCycle(t *testing.T) {
	st, det := setup(t)
	p := pipeline.New(pipeline.Config{}, &stubSource{err: errors.New("boom")}, det, st)

	_, err := p.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunCycle_DetectionAndNotifyErrorsAreNotFatal(t *testing.T) {
	st := store.NewMemoryStore()
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	p := pipeline.New(pipeline.Config{}, &stubSource{markets: markets()}, failingDetector{}, st,
		pipeline.WithNotifier(notifier))

	res, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Markets)
	assert.Zero(t, res.Detected)
	require.Len(t, notifier.batches, 1)
	assert.Empty(t, notifier.batches[0])
}

func TestRunCycle_QuietCycleIsReported(t *testing.T) {
	st := store.NewMemoryStore()
	rec := history.NewRecorder(st, func() time.Time { return now })
	det := detector.New(detector.DefaultConfig(), rec)

	var buf bytes.Buffer
	hub := &recordingHub{}
	p := pipeline.New(pipeline.Config{}, &stubSource{markets: markets()}, det, st,
		pipeline.WithNotifier(notify.NewConsoleWriter(&buf)),
		pipeline.WithBroadcaster(hub),
	)

	res, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Movements)
	assert.Empty(t, hub.got)
	assert.Contains(t, buf.String(), "no significant movements")
}

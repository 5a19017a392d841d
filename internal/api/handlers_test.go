package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prophit/market-tracker/internal/api"
	"github.com/prophit/market-tracker/internal/history"
	"github.com/prophit/market-tracker/internal/model"
	"github.com/prophit/market-tracker/internal/polymarket"
	"github.com/prophit/market-tracker/internal/scheduler"
	"github.com/prophit/market-tracker/internal/store"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type stubFetch struct{}

func (stubFetch) Stats() polymarket.FetchStats {
	return polymarket.FetchStats{RequestCount: 7, RateLimitDelay: 1000, APIConfigured: true}
}

type stubScheduler struct{}

func (stubScheduler) Status() scheduler.Status {
	return scheduler.Status{Running: true, IntervalMinutes: 2, RunCount: 3}
}

type response struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
	Error string          `json:"error"`
}

// newTestEnv creates a router over an in-memory store with a fixed clock.
func newTestEnv(t *testing.T, rc api.RouterConfig) (*store.MemoryStore, *api.WSHub, http.Handler) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := api.NewService(api.Deps{
		Store:     ms,
		History:   history.NewRecorder(ms, func() time.Time { return now }),
		Fetch:     stubFetch{},
		Scheduler: stubScheduler{},
		Threshold: 10,
	})
	hub := api.NewWSHub(nil)
	go hub.Run()
	t.Cleanup(hub.Close)
	return ms, hub, api.NewRouter(svc, hub, rc)
}

func seedMarket(t *testing.T, ms *store.MemoryStore, id, question, category string, active bool, updated time.Time) {
	t.Helper()
	require.NoError(t, ms.UpsertMarket(context.Background(), &model.Market{
		ID:        id,
		Question:  question,
		Category:  category,
		Outcomes:  []model.OutcomePrice{{Outcome: "Yes", Price: 0.6}, {Outcome: "No", Price: 0.4}},
		Active:    active,
		CreatedAt: updated,
		UpdatedAt: updated,
	}))
}

func seedMovement(t *testing.T, ms *store.MemoryStore, id, marketID, outcome string, at time.Time) {
	t.Helper()
	ok, err := ms.InsertMovement(context.Background(), &model.Movement{
		ID: id, MarketID: marketID, Outcome: outcome,
		ChangePercent: 25, OldPrice: 0.4, NewPrice: 0.5,
		DetectedAt: at, DedupKey: id,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	return w, resp
}

func TestListMarkets(t *testing.T) {
	ms, _, h := newTestEnv(t, api.RouterConfig{})
	seedMarket(t, ms, "m1", "Will it rain?", "Other", true, now.Add(-2*time.Hour))
	seedMarket(t, ms, "m2", "Will Bitcoin hit 100k?", "Cryptocurrency", true, now.Add(-time.Hour))
	seedMarket(t, ms, "m3", "Closed market", "Other", false, now)

	w, resp := get(t, h, "/api/markets")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var markets []model.Market
	require.NoError(t, json.Unmarshal(resp.Data, &markets))
	require.Len(t, markets, 2)
	assert.Equal(t, "m2", markets[0].ID, "most recently updated first")
	assert.Equal(t, 2, resp.Total)

	_, resp = get(t, h, "/api/markets?category=Other")
	require.NoError(t, json.Unmarshal(resp.Data, &markets))
	require.Len(t, markets, 1)
	assert.Equal(t, "m1", markets[0].ID)

	_, resp = get(t, h, "/api/markets?category=all&limit=1")
	require.NoError(t, json.Unmarshal(resp.Data, &markets))
	assert.Len(t, markets, 1)
	assert.Equal(t, 2, resp.Total)

	for _, bad := range []string{"abc", "0", "-5"} {
		_, resp = get(t, h, "/api/markets?limit="+bad)
		require.NoError(t, json.Unmarshal(resp.Data, &markets))
		assert.Len(t, markets, 2, "limit=%s falls back to the default", bad)
	}
}

func TestGetMarket(t *testing.T) {
	ms, _, h := newTestEnv(t, api.RouterConfig{})
	seedMarket(t, ms, "m1", "Will it rain?", "Other", true, now)

	w, resp := get(t, h, "/api/markets/m1")
	require.Equal(t, http.StatusOK, w.Code)
	var m model.Market
	require.NoError(t, json.Unmarshal(resp.Data, &m))
	assert.Equal(t, "Will it rain?", m.Question)

	w, resp = get(t, h, "/api/markets/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "market not found", resp.Error)
}

func TestMarketHistory(t *testing.T) {
	ms, _, h := newTestEnv(t, api.RouterConfig{})
	seedMarket(t, ms, "m1", "Will it rain?", "Other", true, now)
	require.NoError(t, ms.AppendPriceHistory(context.Background(), []model.PriceHistoryEntry{
		{MarketID: "m1", Outcome: "Yes", Price: 0.5, Timestamp: now.Add(-30 * time.Hour)},
		{MarketID: "m1", Outcome: "Yes", Price: 0.6, Timestamp: now.Add(-3 * time.Hour)},
		{MarketID: "m1", Outcome: "No", Price: 0.4, Timestamp: now.Add(-3 * time.Hour)},
		{MarketID: "m1", Outcome: "Yes", Price: 0.7, Timestamp: now.Add(-time.Hour)},
	}))

	_, resp := get(t, h, "/api/markets/m1/history")
	assert.Equal(t, 3, resp.Total)

	_, resp = get(t, h, "/api/markets/m1/history?hours=2")
	assert.Equal(t, 1, resp.Total)

	_, resp = get(t, h, "/api/markets/m1/history?hours=48&outcome=Yes")
	var entries []model.PriceHistoryEntry
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	require.Len(t, entries, 3)
	assert.InDelta(t, 0.5, entries[0].Price, 1e-9)
	assert.InDelta(t, 0.7, entries[2].Price, 1e-9)

	w, resp := get(t, h, "/api/markets/missing/history")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "market not found", resp.Error)
}

func TestMovements_JoinAndFilter(t *testing.T) {
	ms, _, h := newTestEnv(t, api.RouterConfig{})
	seedMarket(t, ms, "binary", "Will Bitcoin hit 100k?", "Cryptocurrency", true, now)
	seedMarket(t, ms, "match", "Lakers vs Celtics", "Sports", true, now)

	seedMovement(t, ms, "mv1", "binary", "Yes", now.Add(-10*time.Minute))
	seedMovement(t, ms, "mv2", "match", "Yes", now.Add(-20*time.Minute))    // generic outcome on a match: dropped
	seedMovement(t, ms, "mv3", "match", "Lakers", now.Add(-30*time.Minute)) // named outcome: kept
	seedMovement(t, ms, "mv4", "gone", "Celtics", now.Add(-40*time.Minute)) // market missing
	seedMovement(t, ms, "mv5", "binary", "No", now.Add(-30*time.Hour))      // outside 24h

	w, resp := get(t, h, "/api/markets/movements")
	require.Equal(t, http.StatusOK, w.Code)
	var views []model.MovementView
	require.NoError(t, json.Unmarshal(resp.Data, &views))
	require.Len(t, views, 3)
	assert.Equal(t, 3, resp.Total)

	assert.Equal(t, "mv1", views[0].ID)
	assert.Equal(t, "Will Bitcoin hit 100k?", views[0].MarketQuestion)
	assert.Equal(t, "Cryptocurrency", views[0].Category)
	assert.Equal(t, "mv3", views[1].ID)
	assert.Equal(t, "mv4", views[2].ID)
	assert.Equal(t, "Unknown Market", views[2].MarketQuestion)
	assert.Equal(t, "Other", views[2].Category)

	_, resp = get(t, h, "/api/markets/movements?limit=1")
	require.NoError(t, json.Unmarshal(resp.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "mv1", views[0].ID)

	_, resp = get(t, h, "/api/markets/movements?hours=48")
	assert.Equal(t, 4, resp.Total)
}

func TestCategories(t *testing.T) {
	ms, _, h := newTestEnv(t, api.RouterConfig{})

	_, resp := get(t, h, "/api/markets/categories")
	assert.JSONEq(t, `[]`, string(resp.Data))

	seedMarket(t, ms, "m1", "a", "Sports", true, now)
	seedMarket(t, ms, "m2", "b", "Politics", true, now)
	seedMarket(t, ms, "m3", "c", "Economics", false, now)

	_, resp = get(t, h, "/api/markets/categories")
	assert.JSONEq(t, `["Politics","Sports"]`, string(resp.Data))
	assert.Equal(t, 2, resp.Total)
}

func TestStats(t *testing.T) {
	ms, _, h := newTestEnv(t, api.RouterConfig{})
	seedMarket(t, ms, "m1", "Will it rain?", "Other", true, now)
	seedMovement(t, ms, "mv1", "m1", "Yes", now.Add(-time.Hour))
	seedMovement(t, ms, "mv2", "m1", "Yes", now.Add(-48*time.Hour))

	w, resp := get(t, h, "/api/markets/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		API struct {
			RequestCount   int64 `json:"requestCount"`
			RateLimitDelay int64 `json:"rateLimitDelay"`
			APIConfigured  bool  `json:"apiConfigured"`
		} `json:"api"`
		Database struct {
			Connected       bool   `json:"connected"`
			Mode            string `json:"mode"`
			Markets         int64  `json:"markets"`
			Movements       int64  `json:"movements"`
			RecentMovements int64  `json:"recentMovements"`
		} `json:"database"`
		MovementThreshold float64 `json:"movementThreshold"`
		Polling           struct {
			Running  bool  `json:"running"`
			RunCount int64 `json:"runCount"`
		} `json:"polling"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.EqualValues(t, 7, stats.API.RequestCount)
	assert.EqualValues(t, 1000, stats.API.RateLimitDelay)
	assert.True(t, stats.API.APIConfigured)
	assert.True(t, stats.Database.Connected)
	assert.Equal(t, store.ModeMemory, stats.Database.Mode)
	assert.EqualValues(t, 1, stats.Database.Markets)
	assert.EqualValues(t, 2, stats.Database.Movements)
	assert.EqualValues(t, 1, stats.Database.RecentMovements)
	assert.Equal(t, 10.0, stats.MovementThreshold)
	assert.True(t, stats.Polling.Running)
	assert.EqualValues(t, 3, stats.Polling.RunCount)
}

func TestHealth(t *testing.T) {
	_, _, h := newTestEnv(t, api.RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"market-tracker","storage":"memory"}`, w.Body.String())
}

func TestRateLimit(t *testing.T) {
	_, _, h := newTestEnv(t, api.RouterConfig{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		w, _ := get(t, h, "/api/markets")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, resp := get(t, h, "/api/markets")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate limit exceeded", resp.Error)

	// Health is not rate limited.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	_, _, h := newTestEnv(t, api.RouterConfig{CORSOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketReceivesMovements(t *testing.T) {
	_, hub, h := newTestEnv(t, api.RouterConfig{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/markets/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.BroadcastMovement(model.MovementView{
		ID: "mv1", MarketID: "m1", MarketQuestion: "Will it rain?",
		Outcome: "Yes", ChangePercent: 50, OldPrice: 0.3, NewPrice: 0.45, DetectedAt: now,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg api.WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "movement", msg.Type)
	require.NotNil(t, msg.Movement)
	assert.Equal(t, "mv1", msg.Movement.ID)
	assert.Equal(t, 50.0, msg.Movement.ChangePercent)
}

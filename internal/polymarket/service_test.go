package polymarket_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prophit/market-tracker/internal/category"
	"github.com/prophit/market-tracker/internal/fetcher"
	"github.com/prophit/market-tracker/internal/history"
	"github.com/prophit/market-tracker/internal/model"
	"github.com/prophit/market-tracker/internal/normalize"
	"github.com/prophit/market-tracker/internal/polymarket"
	"github.com/prophit/market-tracker/internal/store"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

type env struct {
	svc   *polymarket.Service
	store store.Store
	rec   *history.Recorder
}

func newEnv(t *testing.T, cfg polymarket.Config, st store.Store) env {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	clock := func() time.Time { return now }
	rec := history.NewRecorder(st, clock)
	n := normalize.New(fixedRand(0.5), normalize.WithClock(clock))
	f := fetcher.New(0, 2*time.Second, nil)
	return env{
		svc:   polymarket.NewService(cfg, f, n, st, rec, nil),
		store: st,
		rec:   rec,
	}
}

func jsonServer(t *testing.T, status int, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const gammaEvents = `[
  {"id":"101","title":"Lakers vs Celtics","slug":"lakers-celtics","category":"Sports",
   "volume24hr":"1234.5","endDateIso":"2024-07-01",
   "markets":[{"outcomes":"[\"Yes\",\"No\"]"}]},
  {"id":202,"title":"Will Bitcoin reach $100k?","volume24hr":99,
   "markets":[{"outcomes":"[\"Yes\",\"No\"]"}]},
  {"id":"303","title":"","markets":[]}
]`

func TestFetchActiveMarkets_Gamma(t *testing.T) {
	var gotQuery string
	gamma := jsonServer(t, http.StatusOK, gammaEvents, func(r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		gotQuery = r.URL.RawQuery
	})
	e := newEnv(t, polymarket.Config{GammaBaseURL: gamma.URL}, nil)

	markets, err := e.svc.FetchActiveMarkets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, markets, 2, "record without a title is skipped")

	assert.Contains(t, gotQuery, "order=volume24hr")
	assert.Contains(t, gotQuery, "archived=false")
	assert.Contains(t, gotQuery, "ascending=false")
	assert.Contains(t, gotQuery, "limit=10")

	first := markets[0]
	assert.Equal(t, "101", first.ID)
	assert.Equal(t, category.Sports, first.Category)
	assert.InDelta(t, 1234.5, first.Volume, 1e-9)
	assert.True(t, first.Active)
	require.NotNil(t, first.EndDate)
	require.Len(t, first.Outcomes, 2)
	assert.Equal(t, "Lakers", first.Outcomes[0].Outcome, "generic names yield to the title")
	assert.Equal(t, "Celtics", first.Outcomes[1].Outcome)

	second := markets[1]
	assert.Equal(t, "202", second.ID)
	assert.Equal(t, category.Cryptocurrency, second.Category)
	assert.Equal(t, "Yes", second.Outcomes[0].Outcome)

	stored, err := e.store.GetMarket(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, first.Question, stored.Question)

	entries, err := e.rec.Query(context.Background(), "101", 1, "")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFetchActiveMarkets_CLOB(t *testing.T) {
	clob := jsonServer(t, http.StatusOK, `{"data":[
	  {"condition_id":"0xabc","question":"Will the Fed cut rates?","active":true,
	   "tokens":[{"outcome":"Yes","price":0.62},{"outcome":"No","price":"0.38"}],
	   "volume":"5000"},
	  {"id":7,"question":"Closed market","active":false,
	   "outcomes":[{"name":"Yes","last_price":0.9},{"title":"No"}]},
	  {"condition_id":"0xdef","description":"Record without a question","active":true,
	   "tokens":[{"outcome":"Yes","price":0.5},{"outcome":"No","price":0.5}]}
	]}`, func(r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "secret", r.Header.Get("X-API-SECRET"))
		assert.Equal(t, "pass", r.Header.Get("X-PASSPHRASE"))
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		assert.Equal(t, "false", r.URL.Query().Get("closed"))
	})
	gamma := jsonServer(t, http.StatusOK, `[]`, func(*http.Request) {
		t.Error("gamma must not be called when clob succeeds")
	})

	e := newEnv(t, polymarket.Config{
		CLOBBaseURL:  clob.URL,
		GammaBaseURL: gamma.URL,
		APIKey:       "key",
		Secret:       "secret",
		Passphrase:   "pass",
	}, nil)
	require.True(t, e.svc.APIConfigured())

	markets, err := e.svc.FetchActiveMarkets(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, markets, 2, "a record without a question is skipped")

	fed := markets[0]
	assert.Equal(t, "0xabc", fed.ID)
	assert.Equal(t, []model.OutcomePrice{{Outcome: "Yes", Price: 0.62}, {Outcome: "No", Price: 0.38}}, fed.Outcomes)
	assert.InDelta(t, 5000, fed.Volume, 1e-9)
	assert.True(t, fed.Active)

	closed := markets[1]
	assert.Equal(t, "7", closed.ID)
	assert.False(t, closed.Active)
	assert.Equal(t, "Closed market", closed.Question)
	assert.InDelta(t, 0.9, closed.Outcomes[0].Price, 1e-9)
	assert.Equal(t, "No", closed.Outcomes[1].Outcome)
	assert.InDelta(t, 0.5, closed.Outcomes[1].Price, 1e-9, "missing price is synthesized as 0.2+r*0.6")

	_, err = e.store.GetMarket(context.Background(), "0xdef")
	require.ErrorIs(t, err, store.ErrNotFound)

	stats := e.svc.Stats()
	assert.EqualValues(t, 1, stats.RequestCount)
	assert.NotNil(t, stats.LastRequestTime)
	assert.True(t, stats.APIConfigured)
}

func TestFetchActiveMarkets_CLOBFailureFallsBackToGamma(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"unexpected shape", http.StatusOK, `{"markets":[]}`},
		{"scalar body", http.StatusOK, `42`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clob := jsonServer(t, tt.status, tt.body, nil)
			gamma := jsonServer(t, http.StatusOK, gammaEvents, nil)
			e := newEnv(t, polymarket.Config{
				CLOBBaseURL:  clob.URL,
				GammaBaseURL: gamma.URL,
				APIKey:       "key",
				Secret:       "secret",
			}, nil)

			markets, err := e.svc.FetchActiveMarkets(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, markets, 2)
			assert.Equal(t, "101", markets[0].ID)
		})
	}
}

func TestFetchActiveMarkets_MockWhenAllUpstreamsFail(t *testing.T) {
	clob := jsonServer(t, http.StatusBadGateway, `bad gateway`, nil)
	gamma := jsonServer(t, http.StatusOK, `{"not":"an array"}`, nil)
	e := newEnv(t, polymarket.Config{
		CLOBBaseURL:  clob.URL,
		GammaBaseURL: gamma.URL,
		APIKey:       "key",
		Secret:       "secret",
	}, nil)

	markets, err := e.svc.FetchActiveMarkets(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, markets, 5)

	tags := category.Tags()
	for i, m := range markets {
		assert.Contains(t, tags, m.Category)
		assert.True(t, m.Active)
		require.Len(t, m.Outcomes, 2)
		assert.Equal(t, "Yes", m.Outcomes[0].Outcome)
		assert.Equal(t, "No", m.Outcomes[1].Outcome)
		sum := decimal.NewFromFloat(m.Outcomes[0].Price).Add(decimal.NewFromFloat(m.Outcomes[1].Price))
		assert.True(t, sum.Equal(decimal.NewFromInt(1)), "market %d prices sum to %s", i, sum)
	}
	assert.Equal(t, "mock-market-1", markets[0].ID)
	assert.Equal(t, category.Politics, markets[0].Category)

	// Mock markets are persisted like any other source.
	active, err := e.store.ListActiveMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 5)
}

func TestMockMarkets_RespectsLimitAndBounds(t *testing.T) {
	for _, r := range []float64{0, 0.33333, 0.999999} {
		markets := polymarket.MockMarkets(3, fixedRand(r), now)
		require.Len(t, markets, 3)
		for _, m := range markets {
			yes := m.Outcomes[0].Price
			assert.GreaterOrEqual(t, yes, 0.2)
			assert.LessOrEqual(t, yes, 0.8)
			assert.Equal(t, yes, decimal.NewFromFloat(yes).Round(4).InexactFloat64())
			assert.GreaterOrEqual(t, m.Volume, 10000.0)
			require.NotNil(t, m.EndDate)
			assert.False(t, m.EndDate.Before(now))
			assert.False(t, m.CreatedAt.After(now))
			assert.NotEmpty(t, m.Slug)
		}
	}
}

func TestFetchActiveMarkets_CanceledContext(t *testing.T) {
	gamma := jsonServer(t, http.StatusOK, gammaEvents, nil)
	e := newEnv(t, polymarket.Config{GammaBaseURL: gamma.URL}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.svc.FetchActiveMarkets(ctx, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

// failingStore rejects upserts for selected market IDs.
type failingStore struct {
	store.Store
	reject []string
}

func (s *failingStore) UpsertMarket(ctx context.Context, m *model.Market) error {
	if slices.Contains(s.reject, m.ID) {
		return errors.New("disk full")
	}
	return s.Store.UpsertMarket(ctx, m)
}

func TestFetchActiveMarkets_SkipsMarketsThatFailToPersist(t *testing.T) {
	gamma := jsonServer(t, http.StatusOK, gammaEvents, nil)
	st := &failingStore{Store: store.NewMemoryStore(), reject: []string{"101"}}
	e := newEnv(t, polymarket.Config{GammaBaseURL: gamma.URL}, st)

	markets, err := e.svc.FetchActiveMarkets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "202", markets[0].ID)

	entries, err := e.rec.Query(context.Background(), "101", 1, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

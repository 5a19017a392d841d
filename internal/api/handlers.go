// Package api provides the read-only HTTP surface over stored markets,
// movements and price history, plus a WebSocket feed of new movements.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prophit/market-tracker/internal/history"
	"github.com/prophit/market-tracker/internal/model"
	"github.com/prophit/market-tracker/internal/polymarket"
	"github.com/prophit/market-tracker/internal/scheduler"
	"github.com/prophit/market-tracker/internal/store"
)

const (
	defaultLimit = 50
	defaultHours = 24
	maxLimit     = 500
	maxHours     = 24 * 365
)

// FetchStatser reports upstream fetch counters.
type FetchStatser interface {
	Stats() polymarket.FetchStats
}

// StatusReporter reports scheduler state.
type StatusReporter interface {
	Status() scheduler.Status
}

// Deps are the collaborators a Service reads from.
type Deps struct {
	Store     store.Store
	History   *history.Recorder
	Fetch     FetchStatser   // optional
	Scheduler StatusReporter // optional
	Threshold float64
	Logger    *slog.Logger
}

// Service serves the read API.
type Service struct {
	store     store.Store
	history   *history.Recorder
	fetch     FetchStatser
	sched     StatusReporter
	threshold float64
	logger    *slog.Logger
}

// NewService creates a read API service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.History == nil {
		d.History = history.NewRecorder(d.Store, nil)
	}
	return &Service{
		store:     d.Store,
		history:   d.History,
		fetch:     d.Fetch,
		sched:     d.Scheduler,
		threshold: d.Threshold,
		logger:    d.Logger,
	}
}

// envelope is the success response shape.
type envelope struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// ListMarkets handles GET /api/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultLimit, maxLimit)
	cat := r.URL.Query().Get("category")

	markets, err := s.store.ListActiveMarkets(r.Context())
	if err != nil {
		s.internalError(w, "list markets", err)
		return
	}
	if cat != "" && cat != "all" {
		filtered := markets[:0]
		for _, m := range markets {
			if m.Category == cat {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}
	total := len(markets)
	if len(markets) > limit {
		markets = markets[:limit]
	}
	writeJSON(w, http.StatusOK, envelope{Data: markets, Total: total})
}

// GetMarket handles GET /api/markets/{id}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: m, Total: 1})
}

// MarketHistory handles GET /api/markets/{id}/history
func (s *Service) MarketHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	hours := queryInt(r, "hours", defaultHours, maxHours)

	if _, err := s.store.GetMarket(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "market not found", http.StatusNotFound)
			return
		}
		s.internalError(w, "get market", err)
		return
	}

	entries, err := s.history.Query(ctx, id, hours, r.URL.Query().Get("outcome"))
	if err != nil {
		s.internalError(w, "query history", err)
		return
	}
	if entries == nil {
		entries = []model.PriceHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, envelope{Data: entries, Total: len(entries)})
}

// Movements handles GET /api/markets/movements
func (s *Service) Movements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryInt(r, "limit", defaultLimit, maxLimit)
	hours := queryInt(r, "hours", defaultHours, maxHours)
	since := s.history.Now().Add(-time.Duration(hours) * time.Hour)

	// Fetch the cap so filtering does not starve the page.
	movements, err := s.store.MovementsSince(ctx, since, maxLimit)
	if err != nil {
		s.internalError(w, "list movements", err)
		return
	}

	views := make([]model.MovementView, 0, min(limit, len(movements)))
	markets := make(map[string]*model.Market)
	for _, mv := range movements {
		if len(views) == limit {
			break
		}
		m, err := s.lookup(ctx, markets, mv.MarketID)
		if err != nil {
			s.internalError(w, "join movement market", err)
			return
		}
		v := model.MovementView{
			ID:             mv.ID,
			MarketID:       mv.MarketID,
			MarketQuestion: "Unknown Market",
			Category:       "Other",
			Outcome:        mv.Outcome,
			ChangePercent:  mv.ChangePercent,
			OldPrice:       mv.OldPrice,
			NewPrice:       mv.NewPrice,
			DetectedAt:     mv.DetectedAt,
		}
		if m != nil {
			v.MarketQuestion, v.Category = m.Question, m.Category
		}
		if !keepMovement(v.MarketQuestion, v.Outcome) {
			continue
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, envelope{Data: views, Total: len(views)})
}

// lookup resolves a market once per request; a missing market is nil.
func (s *Service) lookup(ctx context.Context, cache map[string]*model.Market, id string) (*model.Market, error) {
	if m, ok := cache[id]; ok {
		return m, nil
	}
	m, err := s.store.GetMarket(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		m, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	cache[id] = m
	return m, nil
}

// Categories handles GET /api/markets/categories
func (s *Service) Categories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.store.Categories(r.Context())
	if err != nil {
		s.internalError(w, "list categories", err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	writeJSON(w, http.StatusOK, envelope{Data: cats, Total: len(cats)})
}

// StatsResponse is the body of GET /api/markets/stats.
type StatsResponse struct {
	API               polymarket.FetchStats `json:"api"`
	Database          DatabaseStats         `json:"database"`
	MovementThreshold float64               `json:"movementThreshold"`
	Polling           *scheduler.Status     `json:"polling,omitempty"`
	Timestamp         time.Time             `json:"timestamp"`
}

// DatabaseStats reports storage mode and counts.
type DatabaseStats struct {
	Connected bool   `json:"connected"`
	Mode      string `json:"mode"`
	model.StoreStats
}

// Stats handles GET /api/markets/stats
func (s *Service) Stats(w http.ResponseWriter, r *http.Request) {
	now := s.history.Now()
	resp := StatsResponse{
		MovementThreshold: s.threshold,
		Timestamp:         now,
		Database:          DatabaseStats{Mode: s.store.Mode()},
	}
	if s.fetch != nil {
		resp.API = s.fetch.Stats()
	}
	if s.sched != nil {
		st := s.sched.Status()
		resp.Polling = &st
	}

	counts, err := s.store.Stats(r.Context(), now.Add(-24*time.Hour))
	if err != nil {
		s.logger.Warn("store stats unavailable", "err", err)
	} else {
		resp.Database.Connected = true
		resp.Database.StoreStats = counts
	}
	writeJSON(w, http.StatusOK, envelope{Data: resp, Total: 1})
}

// Health handles GET /health
func (s *Service) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "market-tracker",
		"storage": s.store.Mode(),
	})
}

// queryInt parses a positive integer query parameter, falling back to def
// when missing, invalid or not positive. Values are capped at upper.
func queryInt(r *http.Request, key string, def, upper int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > upper {
		return upper
	}
	return n
}

func (s *Service) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", "op", op, "err", err)
	writeError(w, "internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

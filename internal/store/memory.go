package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/prophit/market-tracker/internal/model"
)

// Retention defaults for the in-memory store.
const (
	DefaultMaxHistory   = 1000
	DefaultMaxMovements = 100
)

// MemoryStore implements Store with in-memory structures. It backs the
// degraded mode when no durable store is reachable, and tests. Price history
// and movements are bounded; the oldest entries are evicted first.
type MemoryStore struct {
	mu           sync.RWMutex
	markets      map[string]*model.Market
	history      []model.PriceHistoryEntry
	movements    []model.Movement
	dedup        map[string]bool
	maxHistory   int
	maxMovements int
}

// NewMemoryStore creates an in-memory store with default retention.
func NewMemoryStore() *MemoryStore {
	return NewBoundedMemoryStore(DefaultMaxHistory, DefaultMaxMovements)
}

// NewBoundedMemoryStore creates an in-memory store keeping at most
// maxHistory price samples and maxMovements movements.
func NewBoundedMemoryStore(maxHistory, maxMovements int) *MemoryStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if maxMovements <= 0 {
		maxMovements = DefaultMaxMovements
	}
	return &MemoryStore{
		markets:      make(map[string]*model.Market),
		dedup:        make(map[string]bool),
		maxHistory:   maxHistory,
		maxMovements: maxMovements,
	}
}

func (s *MemoryStore) UpsertMarket(_ context.Context, m *model.Market) error {
	if m.ID == "" {
		return fmt.Errorf("upsert market: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markets[m.ID] = copyMarket(m)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return copyMarket(m), nil
}

func (s *MemoryStore) ListActiveMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if m.Active {
			markets = append(markets, *copyMarket(m))
		}
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].UpdatedAt.Equal(markets[j].UpdatedAt) {
			return markets[i].ID < markets[j].ID
		}
		return markets[i].UpdatedAt.After(markets[j].UpdatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) Categories(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var categories []string
	for _, m := range s.markets {
		if !m.Active || m.Category == "" || seen[m.Category] {
			continue
		}
		seen[m.Category] = true
		categories = append(categories, m.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

func (s *MemoryStore) AppendPriceHistory(_ context.Context, entries []model.PriceHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, entries...)
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = slices.Clone(s.history[over:])
	}
	return nil
}

func (s *MemoryStore) PriceHistory(_ context.Context, marketID string, from, to time.Time, outcome string) ([]model.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PriceHistoryEntry
	for _, e := range s.history {
		if e.MarketID != marketID {
			continue
		}
		if outcome != "" && e.Outcome != outcome {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		result = append(result, e)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) InsertMovement(_ context.Context, mv *model.Movement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mv.DedupKey != "" && s.dedup[mv.DedupKey] {
		return false, nil
	}
	s.movements = append(s.movements, *mv)
	if mv.DedupKey != "" {
		s.dedup[mv.DedupKey] = true
	}
	if over := len(s.movements) - s.maxMovements; over > 0 {
		for _, old := range s.movements[:over] {
			delete(s.dedup, old.DedupKey)
		}
		s.movements = slices.Clone(s.movements[over:])
	}
	return true, nil
}

func (s *MemoryStore) MovementsSince(_ context.Context, since time.Time, limit int) ([]model.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Movement
	for _, mv := range s.movements {
		if !mv.DetectedAt.Before(since) {
			result = append(result, mv)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].DetectedAt.After(result[j].DetectedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) Stats(_ context.Context, recentSince time.Time) (model.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st model.StoreStats
	for _, m := range s.markets {
		if m.Active {
			st.Markets++
		}
	}
	st.Movements = int64(len(s.movements))
	st.PriceHistory = int64(len(s.history))
	for _, mv := range s.movements {
		if !mv.DetectedAt.Before(recentSince) {
			st.RecentMovements++
		}
	}
	return st, nil
}

func (s *MemoryStore) Mode() string { return ModeMemory }

func (s *MemoryStore) Close() error { return nil }

// copyMarket deep-copies a market so callers cannot mutate stored state.
func copyMarket(m *model.Market) *model.Market {
	c := *m
	c.Outcomes = slices.Clone(m.Outcomes)
	if m.EndDate != nil {
		end := *m.EndDate
		c.EndDate = &end
	}
	return &c
}

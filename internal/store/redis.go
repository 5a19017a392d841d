package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prophit/market-tracker/internal/model"
)

// CachedStore wraps a durable Store with a Redis read-through cache for the
// read API's hot lookups. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpsertMarket(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(m.ID), categoriesKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(id), data, s.ttl)
	}
	return m, nil
}

func (s *CachedStore) Categories(ctx context.Context) ([]string, error) {
	data, err := s.rdb.Get(ctx, categoriesKey).Bytes()
	if err == nil {
		var categories []string
		if json.Unmarshal(data, &categories) == nil {
			return categories, nil
		}
	}

	categories, err := s.primary.Categories(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(categories); err == nil {
		s.rdb.Set(ctx, categoriesKey, data, s.ttl)
	}
	return categories, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListActiveMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListActiveMarkets(ctx)
}

func (s *CachedStore) AppendPriceHistory(ctx context.Context, entries []model.PriceHistoryEntry) error {
	return s.primary.AppendPriceHistory(ctx, entries)
}

func (s *CachedStore) PriceHistory(ctx context.Context, marketID string, from, to time.Time, outcome string) ([]model.PriceHistoryEntry, error) {
	return s.primary.PriceHistory(ctx, marketID, from, to, outcome)
}

func (s *CachedStore) InsertMovement(ctx context.Context, mv *model.Movement) (bool, error) {
	return s.primary.InsertMovement(ctx, mv)
}

func (s *CachedStore) MovementsSince(ctx context.Context, since time.Time, limit int) ([]model.Movement, error) {
	return s.primary.MovementsSince(ctx, since, limit)
}

func (s *CachedStore) Stats(ctx context.Context, recentSince time.Time) (model.StoreStats, error) {
	return s.primary.Stats(ctx, recentSince)
}

func (s *CachedStore) Mode() string { return s.primary.Mode() }

func (s *CachedStore) Close() error {
	rerr := s.rdb.Close()
	if err := s.primary.Close(); err != nil {
		return err
	}
	return rerr
}

// --- Cache helpers ---

const categoriesKey = "tracker:categories"

func marketKey(id string) string { return fmt.Sprintf("tracker:market:%s", id) }

// Package store defines the persistence interface for the market tracker.
// Implementations include PostgreSQL and SQLite (durable), Redis (read-through
// cache over a durable store), and in-memory (degraded mode and tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/prophit/market-tracker/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Storage modes reported by Mode.
const (
	ModeMemory   = "memory"
	ModePostgres = "postgres"
	ModeSQLite   = "sqlite"
)

// Store is the persistence interface. The implementation is chosen once at
// startup; callers never branch on which one they hold.
type Store interface {
	// --- Market operations ---

	// UpsertMarket inserts a market or fully replaces the stored one.
	UpsertMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by its upstream ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListActiveMarkets returns active markets, most recently updated first.
	ListActiveMarkets(ctx context.Context) ([]model.Market, error)

	// Categories returns the sorted distinct categories of active markets.
	Categories(ctx context.Context) ([]string, error)

	// --- Price history (append-only) ---

	// AppendPriceHistory appends samples. Retention is the store's concern.
	AppendPriceHistory(ctx context.Context, entries []model.PriceHistoryEntry) error

	// PriceHistory returns samples for a market in [from, to], ascending by
	// timestamp. An empty outcome matches all outcomes.
	PriceHistory(ctx context.Context, marketID string, from, to time.Time, outcome string) ([]model.PriceHistoryEntry, error)

	// --- Movements (append-only) ---

	// InsertMovement stores a movement unless one with the same DedupKey
	// exists. It reports whether the movement was inserted.
	InsertMovement(ctx context.Context, mv *model.Movement) (bool, error)

	// MovementsSince returns movements detected at or after since, newest
	// first, at most limit of them.
	MovementsSince(ctx context.Context, since time.Time, limit int) ([]model.Movement, error)

	// --- Introspection ---

	// Stats returns aggregate counts; RecentMovements counts those at or
	// after recentSince.
	Stats(ctx context.Context, recentSince time.Time) (model.StoreStats, error)

	// Mode names the backing implementation.
	Mode() string

	// Close releases connections.
	Close() error
}

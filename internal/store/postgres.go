package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prophit/market-tracker/internal/model"
)

// PostgresStore implements Store on PostgreSQL. Price history has no hard
// cap here; reads are always time-windowed.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ConnectPostgres opens a pool, verifies connectivity and ensures the schema.
func ConnectPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS markets (
	id          TEXT PRIMARY KEY,
	question    TEXT NOT NULL,
	slug        TEXT NOT NULL,
	category    TEXT NOT NULL,
	outcomes    JSONB NOT NULL DEFAULT '[]',
	volume      DOUBLE PRECISION NOT NULL DEFAULT 0,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	end_date    TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS markets_active_updated_idx ON markets (active, updated_at DESC);

CREATE TABLE IF NOT EXISTS price_history (
	id         BIGSERIAL PRIMARY KEY,
	market_id  TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	ts         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS price_history_market_ts_idx ON price_history (market_id, ts);

CREATE TABLE IF NOT EXISTS movements (
	id              TEXT PRIMARY KEY,
	market_id       TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	change_percent  DOUBLE PRECISION NOT NULL,
	old_price       DOUBLE PRECISION NOT NULL,
	new_price       DOUBLE PRECISION NOT NULL,
	detected_at     TIMESTAMPTZ NOT NULL,
	dedup_key       TEXT UNIQUE
);
CREATE INDEX IF NOT EXISTS movements_detected_idx ON movements (detected_at DESC);
`

// Migrate creates tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertMarket(ctx context.Context, m *model.Market) error {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO markets (id, question, slug, category, outcomes, volume, active, end_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::JSONB, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   question = EXCLUDED.question, slug = EXCLUDED.slug, category = EXCLUDED.category,
		   outcomes = EXCLUDED.outcomes, volume = EXCLUDED.volume, active = EXCLUDED.active,
		   end_date = EXCLUDED.end_date, created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at`,
		m.ID, m.Question, m.Slug, m.Category, string(outcomes),
		m.Volume, m.Active, m.EndDate, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.ID, err)
	}
	return nil
}

const marketColumns = `id, question, slug, category, outcomes::TEXT, volume, active, end_date, created_at, updated_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var outcomes string
	if err := row.Scan(&m.ID, &m.Question, &m.Slug, &m.Category, &outcomes,
		&m.Volume, &m.Active, &m.EndDate, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(outcomes), &m.Outcomes); err != nil {
		return nil, fmt.Errorf("decode outcomes for %s: %w", m.ID, err)
	}
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListActiveMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE active ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT category FROM markets WHERE active AND category <> '' ORDER BY category`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) AppendPriceHistory(ctx context.Context, entries []model.PriceHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO price_history (market_id, outcome, price, ts) VALUES ($1, $2, $3, $4)`,
			e.MarketID, e.Outcome, e.Price, e.Timestamp)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append price history: %w", err)
	}
	return nil
}

func (s *PostgresStore) PriceHistory(ctx context.Context, marketID string, from, to time.Time, outcome string) ([]model.PriceHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, outcome, price, ts FROM price_history
		 WHERE market_id = $1 AND ts >= $2 AND ts <= $3 AND ($4 = '' OR outcome = $4)
		 ORDER BY ts ASC, id ASC`,
		marketID, from, to, outcome)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.PriceHistoryEntry
	for rows.Next() {
		var e model.PriceHistoryEntry
		if err := rows.Scan(&e.MarketID, &e.Outcome, &e.Price, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) InsertMovement(ctx context.Context, mv *model.Movement) (bool, error) {
	var dedup *string
	if mv.DedupKey != "" {
		dedup = &mv.DedupKey
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO movements (id, market_id, outcome, change_percent, old_price, new_price, detected_at, dedup_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (dedup_key) DO NOTHING`,
		mv.ID, mv.MarketID, mv.Outcome, mv.ChangePercent, mv.OldPrice, mv.NewPrice, mv.DetectedAt, dedup)
	if err != nil {
		return false, fmt.Errorf("insert movement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MovementsSince(ctx context.Context, since time.Time, limit int) ([]model.Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, outcome, change_percent, old_price, new_price, detected_at, COALESCE(dedup_key, '')
		 FROM movements WHERE detected_at >= $1 ORDER BY detected_at DESC LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []model.Movement
	for rows.Next() {
		var mv model.Movement
		if err := rows.Scan(&mv.ID, &mv.MarketID, &mv.Outcome, &mv.ChangePercent,
			&mv.OldPrice, &mv.NewPrice, &mv.DetectedAt, &mv.DedupKey); err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context, recentSince time.Time) (model.StoreStats, error) {
	var st model.StoreStats
	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM markets WHERE active),
		   (SELECT COUNT(*) FROM movements),
		   (SELECT COUNT(*) FROM price_history),
		   (SELECT COUNT(*) FROM movements WHERE detected_at >= $1)`,
		recentSince).Scan(&st.Markets, &st.Movements, &st.PriceHistory, &st.RecentMovements)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) Mode() string { return ModePostgres }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

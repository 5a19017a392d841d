package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/prophit/market-tracker/internal/model"
)

// SQLiteStore implements Store on a local SQLite file. Timestamps are stored
// as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL lets readers proceed
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS markets (
			id          TEXT PRIMARY KEY,
			question    TEXT NOT NULL,
			slug        TEXT NOT NULL,
			category    TEXT NOT NULL,
			outcomes    TEXT NOT NULL DEFAULT '[]',
			volume      REAL NOT NULL DEFAULT 0,
			active      INTEGER NOT NULL DEFAULT 1,
			end_date    INTEGER,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id  TEXT NOT NULL,
			outcome    TEXT NOT NULL,
			price      REAL NOT NULL,
			ts         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_market_ts ON price_history(market_id, ts)`,
		`CREATE TABLE IF NOT EXISTS movements (
			id              TEXT PRIMARY KEY,
			market_id       TEXT NOT NULL,
			outcome         TEXT NOT NULL,
			change_percent  REAL NOT NULL,
			old_price       REAL NOT NULL,
			new_price       REAL NOT NULL,
			detected_at     INTEGER NOT NULL,
			dedup_key       TEXT UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_movements_detected ON movements(detected_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertMarket(ctx context.Context, m *model.Market) error {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	var endDate sql.NullInt64
	if m.EndDate != nil {
		endDate = sql.NullInt64{Int64: m.EndDate.UnixNano(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO markets (id, question, slug, category, outcomes, volume, active, end_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   question = excluded.question, slug = excluded.slug, category = excluded.category,
		   outcomes = excluded.outcomes, volume = excluded.volume, active = excluded.active,
		   end_date = excluded.end_date, created_at = excluded.created_at, updated_at = excluded.updated_at`,
		m.ID, m.Question, m.Slug, m.Category, string(outcomes), m.Volume, m.Active,
		endDate, m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.ID, err)
	}
	return nil
}

const sqliteMarketColumns = `id, question, slug, category, outcomes, volume, active, end_date, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMarket(row rowScanner) (*model.Market, error) {
	var (
		m                    model.Market
		outcomes             string
		endDate              sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&m.ID, &m.Question, &m.Slug, &m.Category, &outcomes,
		&m.Volume, &m.Active, &endDate, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(outcomes), &m.Outcomes); err != nil {
		return nil, fmt.Errorf("decode outcomes for %s: %w", m.ID, err)
	}
	if endDate.Valid {
		t := time.Unix(0, endDate.Int64).UTC()
		m.EndDate = &t
	}
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	m.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &m, nil
}

func (s *SQLiteStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanSQLiteMarket(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteMarketColumns+` FROM markets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *SQLiteStore) ListActiveMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMarketColumns+` FROM markets WHERE active = 1 ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanSQLiteMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *SQLiteStore) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM markets WHERE active = 1 AND category <> '' ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *SQLiteStore) AppendPriceHistory(ctx context.Context, entries []model.PriceHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO price_history (market_id, outcome, price, ts) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.MarketID, e.Outcome, e.Price, e.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("append price history: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) PriceHistory(ctx context.Context, marketID string, from, to time.Time, outcome string) ([]model.PriceHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market_id, outcome, price, ts FROM price_history
		 WHERE market_id = ? AND ts >= ? AND ts <= ? AND (? = '' OR outcome = ?)
		 ORDER BY ts ASC, id ASC`,
		marketID, from.UnixNano(), to.UnixNano(), outcome, outcome)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.PriceHistoryEntry
	for rows.Next() {
		var e model.PriceHistoryEntry
		var ts int64
		if err := rows.Scan(&e.MarketID, &e.Outcome, &e.Price, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) InsertMovement(ctx context.Context, mv *model.Movement) (bool, error) {
	var dedup sql.NullString
	if mv.DedupKey != "" {
		dedup = sql.NullString{String: mv.DedupKey, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO movements (id, market_id, outcome, change_percent, old_price, new_price, detected_at, dedup_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		mv.ID, mv.MarketID, mv.Outcome, mv.ChangePercent, mv.OldPrice, mv.NewPrice, mv.DetectedAt.UnixNano(), dedup)
	if err != nil {
		return false, fmt.Errorf("insert movement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) MovementsSince(ctx context.Context, since time.Time, limit int) ([]model.Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, market_id, outcome, change_percent, old_price, new_price, detected_at, COALESCE(dedup_key, '')
		 FROM movements WHERE detected_at >= ? ORDER BY detected_at DESC LIMIT ?`,
		since.UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []model.Movement
	for rows.Next() {
		var mv model.Movement
		var detected int64
		if err := rows.Scan(&mv.ID, &mv.MarketID, &mv.Outcome, &mv.ChangePercent,
			&mv.OldPrice, &mv.NewPrice, &detected, &mv.DedupKey); err != nil {
			return nil, err
		}
		mv.DetectedAt = time.Unix(0, detected).UTC()
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context, recentSince time.Time) (model.StoreStats, error) {
	var st model.StoreStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM markets WHERE active = 1),
		   (SELECT COUNT(*) FROM movements),
		   (SELECT COUNT(*) FROM price_history),
		   (SELECT COUNT(*) FROM movements WHERE detected_at >= ?)`,
		recentSince.UnixNano()).Scan(&st.Markets, &st.Movements, &st.PriceHistory, &st.RecentMovements)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) Mode() string { return ModeSQLite }

func (s *SQLiteStore) Close() error { return s.db.Close() }

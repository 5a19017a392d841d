package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options selects and configures the storage backend.
type Options struct {
	DSN          string // "", "memory", postgres://..., sqlite://path or *.db
	RedisURL     string
	CacheTTL     time.Duration
	MaxHistory   int
	MaxMovements int
	MaxConns     int32
}

// Open builds the Store for opts. If the durable store cannot be reached the
// in-memory store is returned instead and used for the rest of the process;
// there is no reconnect.
func Open(ctx context.Context, opts Options, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	memory := func() Store {
		return NewBoundedMemoryStore(opts.MaxHistory, opts.MaxMovements)
	}

	dsn := strings.TrimSpace(opts.DSN)
	var (
		st  Store
		err error
	)
	switch {
	case dsn == "" || dsn == ModeMemory:
		logger.Warn("no storage DSN configured, using in-memory store (data will not persist)")
		return memory()
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		st, err = ConnectPostgres(ctx, dsn, opts.MaxConns)
	case strings.HasPrefix(dsn, "sqlite://"):
		st, err = OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasSuffix(dsn, ".db"):
		st, err = OpenSQLite(ctx, dsn)
	default:
		logger.Warn("unrecognized storage DSN, using in-memory store")
		return memory()
	}
	if err != nil {
		logger.Warn("durable store unavailable, falling back to in-memory store", "err", err)
		return memory()
	}
	logger.Info("connected to durable store", "mode", st.Mode())

	if opts.RedisURL == "" {
		return st
	}
	ropt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		logger.Warn("invalid redis url, cache disabled", "err", err)
		return st
	}
	rdb := redis.NewClient(ropt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, cache disabled", "err", err)
		rdb.Close()
		return st
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	logger.Info("redis cache enabled", "ttl", ttl)
	return NewCachedStore(st, rdb, ttl)
}

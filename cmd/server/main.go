package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prophit/market-tracker/internal/api"
	"github.com/prophit/market-tracker/internal/config"
	"github.com/prophit/market-tracker/internal/detector"
	"github.com/prophit/market-tracker/internal/fetcher"
	"github.com/prophit/market-tracker/internal/history"
	"github.com/prophit/market-tracker/internal/normalize"
	"github.com/prophit/market-tracker/internal/notify"
	"github.com/prophit/market-tracker/internal/pipeline"
	"github.com/prophit/market-tracker/internal/polymarket"
	"github.com/prophit/market-tracker/internal/scheduler"
	"github.com/prophit/market-tracker/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	once := flag.Bool("once", false, "run a single poll cycle, print movements and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Keep stdout clean for the movement table in one-shot mode.
	logOut := io.Writer(os.Stdout)
	if *once {
		logOut = os.Stderr
	}
	logger := setupLogger(cfg.Logging, logOut)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, logger); err != nil {
		logger.Error("market-tracker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, once bool, logger *slog.Logger) error {
	// --- Storage ---
	openCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout)
	st := store.Open(openCtx, store.Options{
		DSN:          cfg.Storage.DSN,
		RedisURL:     cfg.Storage.RedisURL,
		CacheTTL:     cfg.Storage.CacheTTL,
		MaxHistory:   cfg.Storage.MaxHistory,
		MaxMovements: cfg.Storage.MaxMovements,
		MaxConns:     cfg.Storage.MaxConns,
	}, logger)
	cancel()
	defer st.Close()

	// --- Fetch → normalize → persist ---
	rec := history.NewRecorder(st, nil)
	f := fetcher.New(cfg.RateLimitDelay(), cfg.Polymarket.Timeout, logger)
	markets := polymarket.NewService(polymarket.Config{
		CLOBBaseURL:    cfg.Polymarket.CLOBAPIURL,
		GammaBaseURL:   cfg.Polymarket.GammaAPIURL,
		APIKey:         cfg.Polymarket.APIKey,
		Secret:         cfg.Polymarket.Secret,
		Passphrase:     cfg.Polymarket.Passphrase,
		StorageTimeout: cfg.Storage.Timeout,
	}, f, normalize.New(nil), st, rec, logger)

	// --- Detection ---
	det := detector.New(detector.Config{
		ThresholdPercent: cfg.Detector.ThresholdPercent,
		Window:           cfg.Detector.Window,
		DedupBucket:      cfg.Detector.DedupBucket,
	}, rec)

	pipeCfg := pipeline.Config{
		FetchLimit:     cfg.Polymarket.FetchLimit,
		StorageTimeout: cfg.Storage.Timeout,
	}

	schedCfg := scheduler.Config{
		Interval:     cfg.PollInterval(),
		InitialDelay: cfg.Polling.InitialDelay,
	}

	if once {
		p := pipeline.New(pipeCfg, markets, det, st,
			pipeline.WithLogger(logger),
			pipeline.WithNotifier(notify.NewConsole()),
		)
		_, err := scheduler.New(schedCfg, p, logger).RunOnce(ctx)
		return err
	}

	// --- Live feeds ---
	hub := api.NewWSHub(logger)
	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithBroadcaster(hub),
	}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
		}, logger)
		if err != nil {
			logger.Warn("telegram notifications disabled", "err", err)
		} else {
			opts = append(opts, pipeline.WithNotifier(tg))
			logger.Info("telegram notifications enabled")
		}
	}
	p := pipeline.New(pipeCfg, markets, det, st, opts...)

	sched := scheduler.New(schedCfg, p, logger)

	// --- HTTP ---
	svc := api.NewService(api.Deps{
		Store:     st,
		History:   rec,
		Fetch:     markets,
		Scheduler: sched,
		Threshold: det.Threshold(),
		Logger:    logger,
	})
	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(svc, hub, api.RouterConfig{
			CORSOrigins:        cfg.Server.CORSOrigins,
			RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		logger.Info("market-tracker listening", "addr", srv.Addr, "storage", st.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		<-gctx.Done()

		logger.Info("shutting down market-tracker...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler stop", "err", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		hub.Close()
		return nil
	})

	err := g.Wait()
	logger.Info("market-tracker stopped")
	return err
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

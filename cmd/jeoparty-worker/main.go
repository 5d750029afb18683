package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jeoparty/internal/account"
	"jeoparty/internal/admin"
	"jeoparty/internal/config"
	"jeoparty/internal/db"
	"jeoparty/internal/game"
	"jeoparty/internal/notify"
	"jeoparty/internal/store/postgres"
)

type sweeper struct {
	accounts   *account.Service
	admin      *admin.Service
	games      *game.Service
	staleAfter time.Duration
	log        *slog.Logger
}

// run executes every sweep once. A failing sweep is logged and does not stop the others.
func (s sweeper) run(ctx context.Context) bool {
	ok := true
	step := func(name string, fn func(context.Context) (int64, error)) {
		if _, err := fn(ctx); err != nil {
			ok = false
			s.log.Error("sweep failed", "sweep", name, "err", err)
		}
	}
	step("impersonations", s.admin.SweepImpersonations)
	step("grants", s.admin.SweepGrants)
	step("trials", s.accounts.SweepTrials)
	step("stale_games", func(ctx context.Context) (int64, error) {
		return s.games.SweepStaleGames(ctx, s.staleAfter)
	})
	return ok
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	notifier, err := notify.FromConfig(cfg.Mail, logger)
	if err != nil {
		logger.Error("mail config", "err", err)
		os.Exit(1)
	}

	store := postgres.New(pool)
	sw := sweeper{
		accounts:   account.NewService(store, logger),
		admin:      admin.NewService(store, nil, notifier, logger),
		games:      game.NewService(store, logger),
		staleAfter: cfg.StaleAfter,
		log:        logger,
	}

	if cfg.RunOnce {
		if !sw.run(ctx) {
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.SweepEvery)
	defer ticker.Stop()

	logger.Info("worker started", "sweep_every", cfg.SweepEvery.String(), "stale_after", cfg.StaleAfter.String())
	sw.run(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			sw.run(ctx)
		}
	}
}

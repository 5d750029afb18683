package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jeoparty/internal/account"
	"jeoparty/internal/admin"
	"jeoparty/internal/api"
	"jeoparty/internal/auth"
	"jeoparty/internal/bank"
	"jeoparty/internal/billing"
	"jeoparty/internal/config"
	"jeoparty/internal/db"
	"jeoparty/internal/game"
	"jeoparty/internal/notify"
	"jeoparty/internal/store/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	level := slog.LevelDebug
	if cfg.Production() {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
		logger.Info("schema migrated")
	}

	store := postgres.New(pool)
	notifier, err := notify.FromConfig(cfg.Mail, logger)
	if err != nil {
		logger.Error("mail config", "err", err)
		os.Exit(1)
	}

	supabase := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	var verifier auth.Verifier = supabase
	if cfg.SupabaseJWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.SupabaseJWTSecret)
	}

	var provider billing.Provider
	if cfg.Stripe.SecretKey != "" {
		provider = billing.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, logger)
	} else {
		logger.Warn("stripe not configured; billing endpoints will return 502")
	}
	billingSvc := billing.NewService(billing.Options{
		Store:      store,
		Provider:   provider,
		Prices:     billing.NewPrices(cfg.Stripe.Prices),
		Notifier:   notifier,
		AppBaseURL: cfg.AppBaseURL,
		Logger:     logger,
	})

	host, _ := os.Hostname()
	reporter := api.NewRollbarReporter(cfg.RollbarToken, cfg.Env, host)
	defer reporter.Flush()

	server := api.New(cfg, logger, api.Deps{
		Auth:     supabase,
		Verifier: verifier,
		Accounts: account.NewService(store, logger),
		Banks:    bank.NewService(store, logger),
		Games:    game.NewService(store, logger),
		Billing:  billingSvc,
		Admin:    admin.NewService(store, billingSvc, notifier, logger),
		Reporter: reporter,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("jeoparty api listening", "addr", cfg.Addr, "env", cfg.Env)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

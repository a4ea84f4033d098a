package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/terravia/biome-engine/internal/attention"
	"github.com/terravia/biome-engine/internal/config"
	"github.com/terravia/biome-engine/internal/ledger"
	"github.com/terravia/biome-engine/internal/metrics"
	"github.com/terravia/biome-engine/internal/scheduler"
	"github.com/terravia/biome-engine/internal/store"
	"github.com/terravia/biome-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cached store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Redis read-through cache for the query surface if configured.
		// Trade execution always reads Postgres directly.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			cached = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Market ledger ---
	ldg := ledger.New(st, cfg.LockTimeout, cfg.StartingBalance, logger)
	if cached != nil {
		ldg.UseReadStore(cached)
	}
	if err := ldg.SeedMarkets(ctx, cfg.InitialCashPool, cfg.ShareSupply); err != nil {
		slog.Error("market seeding failed", "err", err)
		os.Exit(1)
	}
	slog.Info("markets seeded",
		"initial_cash", cfg.InitialCashPool.String(),
		"share_supply", cfg.ShareSupply.String(),
	)

	// --- WebSocket hub ---
	hub := trade.NewHub()
	go hub.Run()

	// --- Attention + redistribution ---
	agg := attention.New(cfg.MaxAttentionScore)
	sched := scheduler.New(ldg, agg, hub, cfg.CycleEvery, cfg.PoolFraction, logger)
	sched.Start()
	defer sched.Stop()

	// --- Trade service ---
	tradeSvc := trade.NewService(ldg, agg, hub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"biome-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time market updates.
		r.Get("/ws", hub.HandleWS)

		// Market queries.
		r.Get("/markets", tradeSvc.ListMarkets)
		r.Get("/markets/{biome}", tradeSvc.GetMarket)
		r.Get("/markets/{biome}/history", tradeSvc.GetPriceHistory)

		// Trade execution.
		r.Post("/trade/buy", tradeSvc.Buy)
		r.Post("/trade/sell", tradeSvc.Sell)

		// Portfolio and audit trail.
		r.Get("/portfolio/{userID}", tradeSvc.GetPortfolio)
		r.Get("/transactions/{userID}", tradeSvc.GetTransactions)

		// Attention events feeding the redistribution cycle.
		r.Post("/attention", tradeSvc.RecordAttention)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("biome-engine listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down biome-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("biome-engine stopped")
}

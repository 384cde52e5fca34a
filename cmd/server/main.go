package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradesim/exchange-engine/internal/api"
	"github.com/tradesim/exchange-engine/internal/config"
	"github.com/tradesim/exchange-engine/internal/logger"
	"github.com/tradesim/exchange-engine/internal/metrics"
	"github.com/tradesim/exchange-engine/internal/pricecache"
	"github.com/tradesim/exchange-engine/internal/recovery"
	"github.com/tradesim/exchange-engine/internal/sched"
	"github.com/tradesim/exchange-engine/internal/settle"
	"github.com/tradesim/exchange-engine/internal/snapshot"
	"github.com/tradesim/exchange-engine/internal/store"
	"github.com/tradesim/exchange-engine/internal/synth"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		os.Exit(1)
	}
	defer log.Sync()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(rootCtx, cfg.Database.URL)
		if err != nil {
			log.Fatal("database connection failed", zap.Error(err))
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		log.Info("connected to PostgreSQL")
	} else {
		log.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Initialize price cache ---
	var cache pricecache.Cache

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal("invalid redis.url", zap.Error(err))
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		cache = pricecache.NewRedis(rdb)
		log.Info("connected to Redis price cache")
	} else {
		log.Warn("redis.url not set, using in-memory price cache")
		cache = pricecache.NewMemory()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub(log.Named("ws"))
	go wsHub.Run()

	// --- Price synthesis engine ---
	synthCfg := synth.Config{
		Interval:       time.Duration(cfg.Synthesis.IntervalSeconds) * time.Second,
		Sensitivity:    decimal.NewFromFloat(cfg.Synthesis.Sensitivity),
		MaxChangePct:   decimal.NewFromFloat(cfg.Synthesis.MaxChangePct),
		SmoothingAlpha: decimal.NewFromFloat(cfg.Synthesis.SmoothingAlpha),
		JitterPct:      cfg.Synthesis.JitterPct,
		LiquidityScale: decimal.NewFromFloat(cfg.Synthesis.LiquidityScale),
	}
	engine := synth.NewEngine(st, cache, synthCfg, log.Named("synth"), wsHub)
	go engine.Run(rootCtx)

	// --- Snapshot writer on the cron scheduler ---
	writer := snapshot.NewWriter(st, cache, log.Named("snapshot"))
	runner := sched.New(log.Named("sched"), rootCtx)
	if _, err := runner.Add(cfg.Snapshot.Schedule, writer.Job()); err != nil {
		log.Fatal("invalid snapshot schedule", zap.Error(err))
	}
	runner.Start()
	defer runner.Stop()

	// --- Settlement service ---
	rates := settle.Rates{
		MarketBuy:  decimal.NewFromFloat(cfg.Commission.MarketBuy),
		MarketSell: decimal.NewFromFloat(cfg.Commission.MarketSell),
		OrderBuy:   decimal.NewFromFloat(cfg.Commission.OrderBuy),
		OrderSell:  decimal.NewFromFloat(cfg.Commission.OrderSell),
	}
	settleSvc := settle.NewService(st, cache, rates, log.Named("settle"))

	// --- Recovery codes ---
	registry := recovery.NewRegistry(cfg.Recovery.Limit, cfg.Recovery.TTL())

	// --- HTTP router ---
	srvHandlers := api.NewServer(st, cache, settleSvc, registry, wsHub, log.Named("api"))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"exchange-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", srvHandlers.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("exchange-engine listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down exchange-engine")
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	log.Info("exchange-engine stopped")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/cfd-pool/internal/config"
	"github.com/atmx/cfd-pool/internal/ledger"
	"github.com/atmx/cfd-pool/internal/logger"
	"github.com/atmx/cfd-pool/internal/metrics"
	"github.com/atmx/cfd-pool/internal/oracle"
	"github.com/atmx/cfd-pool/internal/risk"
	"github.com/atmx/cfd-pool/internal/store"
	"github.com/atmx/cfd-pool/internal/trade"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.For("main")
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.New(cfg.LogLevel, cfg.LogFormat)
	log := logger.For("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Initialize store ---
	var st store.Store
	var cleanup closers

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		cleanup.push(pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema setup failed")
		}
		st = pg
		log.Info().Msg("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid REDIS_URL")
			}
			rdb := redis.NewClient(opt)
			cleanup.push(func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			log.Info().Dur("ttl", cfg.CacheTTL).Msg("Redis cache enabled")
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store (journal will not persist)")
		st = store.NewMemoryStore()
	}

	defer cleanup.run()

	// --- Ledgers and prices ---
	settlement := ledger.NewSettlement(cfg.SettlementSymbol, cfg.Owner)
	treasury := ledger.NewTreasury(cfg.Treasury, settlement)
	feed := oracle.NewManualFeed()

	var reserve *ledger.Settlement
	if cfg.ReserveSymbol != "" {
		reserve = ledger.NewSettlement(cfg.ReserveSymbol, cfg.Owner)
		if err := settlement.AcceptReserve(ctx, cfg.Owner, reserve); err != nil {
			log.Fatal().Err(err).Msg("reserve setup failed")
		}
		log.Info().Str("reserve", cfg.ReserveSymbol).Str("vault", settlement.ReserveAddress()).Msg("reserve exchange enabled")
	}

	// --- Exposure limits ---
	limiter := risk.NewExposureLimiter(cfg.MaxEntryAmount, cfg.MaxProtocolExposure, cfg.MaxAggregateExposure)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub(logger.For("ws"))
	go wsHub.Run(ctx)

	// --- Trade service ---
	tradeSvc := trade.NewService(trade.Config{
		Store:      st,
		Limiter:    limiter,
		Hub:        wsHub,
		Settlement: settlement,
		Treasury:   treasury,
		Feed:       feed,
		Reserve:    reserve,
		Owner:      cfg.Owner,
		Faucet:     cfg.FaucetEnabled,
		Log:        logger.For("trade"),
		PoolLog:    logger.For("pool"),
	})

	for _, asset := range cfg.Assets {
		if !cfg.InitialPrice.IsZero() {
			if err := feed.Set(asset, cfg.InitialPrice); err != nil {
				log.Fatal().Err(err).Str("asset", asset).Msg("seeding price failed")
			}
		}
		if _, err := tradeSvc.Deploy(ctx, asset, cfg.FeeBps, cfg.Rebalancer); err != nil {
			log.Fatal().Err(err).Str("asset", asset).Msg("pool deployment failed")
		}
	}

	// --- Price stream ---
	if cfg.NATSURL != "" {
		nc, err := oracle.Connect(cfg.NATSURL, logger.For("nats"))
		if err != nil {
			log.Fatal().Err(err).Msg("NATS connection failed")
		}
		sub := oracle.NewSubscriber(feed, tradeSvc.OnPriceUpdate, logger.For("oracle"))
		if err := sub.Subscribe(ctx, nc, cfg.PriceSubject); err != nil {
			log.Fatal().Err(err).Str("subject", cfg.PriceSubject).Msg("price subscription failed")
		}
		cleanup.push(nc.Close, sub.Stop)
		log.Info().Str("subject", cfg.PriceSubject).Msg("subscribed to price stream")
	} else {
		log.Warn().Msg("NATS_URL not set, prices only change through the API")
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
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
		w.Write([]byte(`{"status":"ok","service":"cfd-pool"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time pool updates.
		r.Get("/ws", wsHub.HandleWS)
		tradeSvc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Strs("assets", tradeSvc.Assets()).Msg("cfd-pool listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down cfd-pool...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	cancel()
	log.Info().Msg("cfd-pool stopped")
}

// requestLogger logs each request through zerolog.
func requestLogger(next http.Handler) http.Handler {
	log := logger.For("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

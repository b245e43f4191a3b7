package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/eventpool/pool-engine/internal/api"
	"github.com/eventpool/pool-engine/internal/config"
	"github.com/eventpool/pool-engine/internal/eventpool"
	"github.com/eventpool/pool-engine/internal/logging"
	"github.com/eventpool/pool-engine/internal/notify"
	"github.com/eventpool/pool-engine/internal/reconcile"
	"github.com/eventpool/pool-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("pool-engine", "info")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New("pool-engine", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid DATABASE_URL")
		}
		poolCfg.MaxConns = cfg.DBMaxConns

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		st = pg
		log.Info().Int32("max_conns", cfg.DBMaxConns).Msg("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid REDIS_URL")
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			log.Info().Dur("ttl", cfg.CacheTTL).Msg("Redis cache enabled")
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Notifications ---
	wsHub := notify.NewWSHub(logging.New("ws-hub", cfg.LogLevel))
	go wsHub.Run(ctx)
	publishers := notify.Multi{wsHub}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("pool-engine"), nats.MaxReconnects(-1))
		if err != nil {
			log.Fatal().Err(err).Msg("NATS connection failed")
		}
		cleanup = append(cleanup, func() { nc.Drain() })

		js, err := jetstream.New(nc)
		if err != nil {
			log.Fatal().Err(err).Msg("JetStream init failed")
		}
		if err := notify.EnsureStream(ctx, js, cfg.NATSSubjectPrefix); err != nil {
			log.Fatal().Err(err).Msg("JetStream stream setup failed")
		}

		natsPub := notify.NewNATSPublisher(js, cfg.NATSSubjectPrefix, logging.New("nats", cfg.LogLevel))
		go func() {
			if err := natsPub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("NATS publisher stopped")
			}
		}()
		publishers = append(publishers, natsPub)
		log.Info().Str("stream", notify.StreamName).Str("prefix", cfg.NATSSubjectPrefix).Msg("NATS publishing enabled")
	}

	// --- Pool service ---
	svc, err := eventpool.NewService(st, eventpool.Options{
		CreatorFeeRate:           cfg.CreatorFeeRate,
		CustomStakeMaxMultiplier: cfg.CustomStakeMaxMultiplier,
	}, publishers, logging.New("eventpool", cfg.LogLevel))
	if err != nil {
		log.Fatal().Err(err).Msg("service init failed")
	}

	// --- Reconciliation ---
	if cfg.ReconcileEnabled {
		reconcileLog := logging.New("reconcile", cfg.LogLevel)
		auditor := reconcile.NewAuditor(st, reconcileLog)
		sched, err := reconcile.NewScheduler(auditor, cfg.ReconcileSchedule, reconcileLog)
		if err != nil {
			log.Fatal().Err(err).Msg("reconcile scheduler init failed")
		}
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("reconcile scheduler start failed")
		}
		defer sched.Stop()
	}

	// --- HTTP router ---
	r := newRouter(logging.New("http", cfg.LogLevel), st, api.NewHandler(svc), wsHub)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("pool-engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	log.Info().Msg("shutting down pool-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("pool-engine stopped")
}

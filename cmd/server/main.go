package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/femildignizant/tambola/internal/broker"
	"github.com/femildignizant/tambola/internal/config"
	"github.com/femildignizant/tambola/internal/database"
	"github.com/femildignizant/tambola/internal/game"
	"github.com/femildignizant/tambola/internal/handler/health"
	"github.com/femildignizant/tambola/internal/lock"
	"github.com/femildignizant/tambola/internal/migrations"
	"github.com/femildignizant/tambola/internal/server"
	"github.com/femildignizant/tambola/internal/store/postgres"
	"github.com/femildignizant/tambola/internal/store/sqlite"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	presets, err := config.LoadPresets(cfg.PatternPresetsFile)
	if err != nil {
		return fmt.Errorf("loading pattern presets: %w", err)
	}

	checks := map[string]health.Checker{}

	// --- Game store ---
	var store game.Store
	switch cfg.DBDriver {
	case "postgres":
		pool, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()

		db := database.PoolDB(pool)
		defer db.Close()
		if err := migrations.Run(db, migrations.Postgres); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		pg, err := postgres.New(pool)
		if err != nil {
			return fmt.Errorf("creating postgres store: %w", err)
		}
		store = pg
		checks["postgres"] = poolChecker{pool}
		logger.Info("connected to postgres")
	default:
		db, err := database.Open(ctx, cfg.DBPath)
		if err != nil {
			return fmt.Errorf("connecting to sqlite: %w", err)
		}
		defer db.Close()

		if err := migrations.Run(db, migrations.SQLite); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		store = sqlite.New(db)
		checks["sqlite"] = dbChecker{db}
		logger.Info("connected to sqlite", "path", cfg.DBPath)
	}

	// --- Claim locks ---
	var locks game.Locker
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		locks = lock.NewRedis(rdb)
		checks["redis"] = redisChecker{rdb}
		logger.Info("connected to redis")
	} else {
		locks = lock.NewLocal()
		logger.Warn("REDIS_URL not set, claim locks are held in process; run a single instance")
	}

	events := broker.New(logger)
	svc := game.NewService(store, locks, events, logger, game.Config{
		LockTTL: cfg.ClaimLockTTL,
		Presets: presets,
	})

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Games:       svc,
		Events:      events,
		Tokens:      server.NewHostTokens(cfg.HostTokenSecret, cfg.HostTokenTTL),
		CORSOrigins: cfg.CORSOrigins,
		StaticDir:   cfg.StaticDir,
	}, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, checks).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// dbChecker adapts *sql.DB to health.Checker.
type dbChecker struct{ db *sql.DB }

func (d dbChecker) Check(ctx context.Context) error { return d.db.PingContext(ctx) }

// poolChecker adapts *pgxpool.Pool to health.Checker.
type poolChecker struct{ pool *pgxpool.Pool }

func (p poolChecker) Check(ctx context.Context) error { return p.pool.Ping(ctx) }

// redisChecker adapts *redis.Client to health.Checker.
type redisChecker struct{ client *redis.Client }

func (r redisChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }

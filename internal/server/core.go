package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/httpx"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/password"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// startupAttempts bounds how long BuildCore waits for Postgres and Redis.
const startupAttempts = 10

// Core is the credential/session core with its backends, shared by the
// server and the operator CLI.
type Core struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Sessions *sessions.Store
	Issuer   *auth.Issuer
	Auth     *services.AuthService
	Registry *prometheus.Registry
	Metrics  *metrics.Collector
}

// BuildCore connects to Postgres and Redis, applies migrations when
// enabled and assembles the AuthService.
func BuildCore(ctx context.Context, cfg *config.Config, l logging.Logger) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	ring, err := buildKeyRing(cfg)
	if err != nil {
		return nil, err
	}
	issuer, err := auth.NewIssuer(ring, auth.IssuerOptions{Issuer: cfg.TokenIssuer, Leeway: cfg.ClockSkew})
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	db, err := repomanager.Open(cfg.DatabaseDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	store := sessions.NewRedisStore(rdb, cfg.SessionKeyPrefix)

	core := &Core{DB: db, Redis: rdb, Sessions: store, Issuer: issuer}

	if err := waitFor(ctx, l, "postgres", db.PingContext); err != nil {
		return nil, errors.Join(err, core.Close())
	}
	if err := waitFor(ctx, l, "redis", store.Ping); err != nil {
		return nil, errors.Join(err, core.Close())
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if cfg.RunMigrations {
		if err := rm.RunMigrations(ctx, db); err != nil {
			return nil, errors.Join(fmt.Errorf("migrations: %w", err), core.Close())
		}
		l.Info(ctx, "Migrations applied")
	}

	core.Registry = prometheus.NewRegistry()
	core.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	core.Metrics = metrics.NewCollector(core.Registry)

	core.Auth = services.NewAuthService(db, rm, store, issuer, hasher, cfg,
		services.WithLogger(l),
		services.WithRecorder(core.Metrics),
	)
	return core, nil
}

// waitFor retries ping with a constant backoff until it succeeds.
func waitFor(ctx context.Context, l logging.Logger, name string, ping func(context.Context) error) error {
	b := retry.WithMaxRetries(startupAttempts-1, retry.NewConstant(time.Second))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := ping(pctx); err != nil {
			l.Warn(ctx, "waiting for backend", "backend", name, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", name, err)
	}
	return nil
}

// Close releases the database pool and the Redis client.
func (c *Core) Close() error {
	var errs []error
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}

// Checks are the dependency probes served on /healthz.
func (c *Core) Checks() map[string]httpx.Check {
	return map[string]httpx.Check{
		"postgres": c.DB.PingContext,
		"redis":    c.Sessions.Ping,
	}
}

// Package app builds the clients shared by the API and the worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/catalog"
	"github.com/noah-isme/pos-terminal/internal/config"
	"github.com/noah-isme/pos-terminal/internal/events"
	"github.com/noah-isme/pos-terminal/internal/lock"
	"github.com/noah-isme/pos-terminal/internal/queue"
	"github.com/noah-isme/pos-terminal/internal/ratelimit"
	"github.com/noah-isme/pos-terminal/internal/resilience"
)

// JournalMaxLen caps the Redis event journal.
const JournalMaxLen = 1000

// Dependencies enumerates the services both binaries wire from the same config.
type Dependencies struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Redis   *redis.Client
	Backend *backend.Client
	Catalog *catalog.Service
	Queue   queue.Enqueuer
	DLQ     queue.Store
	Journal events.RedisJournal
	Bus     *events.Bus
	Locker  lock.Locker
}

// New connects Redis and builds every shared service. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	rdb, err := NewRedis(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	be, err := NewBackend(cfg, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	cat, err := catalog.NewService(catalog.ServiceConfig{
		Backend:      be,
		Cache:        catalog.NewCache(rdb, cfg.Catalog.CacheTTL),
		MethodsCache: catalog.NewCache(rdb, 24*time.Hour),
		DefaultLimit: cfg.Catalog.DefaultLimit,
		MaxLimit:     cfg.Catalog.MaxLimit,
	})
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	q := queue.Enqueuer{R: rdb, Prefix: cfg.Queue.Prefix, DedupTTL: 24 * time.Hour, MaxAttempts: cfg.Queue.MaxAttempts}
	journal := events.RedisJournal{R: rdb, MaxLen: JournalMaxLen}
	eventLog := logger.With().Str("component", "events").Logger()
	bus := &events.Bus{
		Store:     journal,
		Scheduler: events.QueueScheduler{Queue: q, MaxAttempts: cfg.Queue.MaxAttempts},
		Notifiers: []events.Notifier{events.LogNotifier{Logger: eventLog}},
	}

	return &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Redis:   rdb,
		Backend: be,
		Catalog: cat,
		Queue:   q,
		DLQ:     queue.NewStore(rdb, cfg.Queue.Prefix),
		Journal: journal,
		Bus:     bus,
		Locker:  lock.Locker{R: rdb, RetryBackoff: cfg.LockRetryBackoff},
	}, nil
}

// Close releases the Redis connection pool.
func (d *Dependencies) Close() error {
	if d == nil || d.Redis == nil {
		return nil
	}
	return d.Redis.Close()
}

// NewRedis parses REDIS_URL, instruments the client and checks it answers.
func NewRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.EnableMetrics {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewBackend builds the backend client behind the retrying, circuit-broken
// transport.
func NewBackend(cfg *config.Config, logger zerolog.Logger) (*backend.Client, error) {
	breakerLog := logger.With().Str("component", "breaker").Logger()
	hc := resilience.HTTPClient{
		Client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Target:       "backend",
			MinRequests:  cfg.Circuit.MinRequests,
			FailureRatio: cfg.Circuit.FailureRatio,
			OpenFor:      cfg.Circuit.OpenFor,
			Logger:       &breakerLog,
		}),
		BaseBackoff: cfg.Retry.Base,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Jitter:      cfg.Retry.Jitter,
		Timeout:     cfg.Backend.Timeout,
	}
	return backend.New(backend.Config{
		BaseURL:       cfg.Backend.BaseURL,
		TenantID:      cfg.Backend.TenantID,
		UserID:        cfg.Backend.UserID,
		AuthToken:     cfg.Backend.AuthToken,
		Timeout:       cfg.Backend.Timeout,
		RatePerSecond: cfg.Backend.RatePerSecond,
		Burst:         cfg.Backend.Burst,
	},
		backend.WithHTTPClient(hc),
		backend.WithLogger(logger.With().Str("component", "backend").Logger()),
	)
}

// NewLimiter picks the rate limit backend named by RATE_LIMIT_BACKEND.
func NewLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.Limiter, error) {
	switch cfg.RateLimit.Backend {
	case "memory":
		return ratelimit.NewMemory("pos-rl"), nil
	case "redis", "":
		if rdb == nil {
			return nil, errors.New("redis rate limiter needs a redis client")
		}
		return ratelimit.SlidingWindow{Client: rdb, Prefix: "rl"}, nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}

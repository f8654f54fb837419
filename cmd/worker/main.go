package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-terminal/internal/app"
	"github.com/noah-isme/pos-terminal/internal/config"
	"github.com/noah-isme/pos-terminal/internal/events"
	"github.com/noah-isme/pos-terminal/internal/health"
	"github.com/noah-isme/pos-terminal/internal/notify"
	"github.com/noah-isme/pos-terminal/internal/obs"
	"github.com/noah-isme/pos-terminal/internal/queue"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	dispatcher, closeDispatcher, err := deps.NewDispatcher()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise event delivery")
	}
	defer func() {
		if err := closeDispatcher(); err != nil {
			logger.Error().Err(err).Msg("close kafka writer")
		}
	}()

	deliveryWorker := notify.DeliveryWorker{
		Dispatcher: dispatcher,
		Locker:     deps.Locker,
		LockTTL:    cfg.LockTTL,
	}
	eventWorker := queue.Worker{
		R:                 deps.Redis,
		Prefix:            cfg.Queue.Prefix,
		Kind:              events.TaskKind,
		Concurrency:       cfg.Queue.Concurrency,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		RetryBase:         cfg.Retry.Base,
		RetryJitter:       cfg.Retry.Jitter,
		Store:             deps.DLQ,
		Logger:            &logger,
		Handler:           deliveryWorker.Handle,
	}

	scheduler := newScheduler(cfg, deps, logger)
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	srv := &http.Server{Addr: cfg.WorkerAddr(), Handler: opsMux(cfg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("worker ops server")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("kind", events.TaskKind).Int("concurrency", cfg.Queue.Concurrency).Msg("worker starting")
	if err := eventWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

// newScheduler registers the periodic jobs: payment-method cache warmup and
// queue gauges.
func newScheduler(cfg *config.Config, deps *app.Dependencies, logger zerolog.Logger) *cron.Cron {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	jobLog := logger.With().Str("component", "cron").Logger()

	mustAdd(c, "@every 5m", jobLog, "warm_payment_methods", func(ctx context.Context) error {
		if cfg.Backend.TenantID != "" {
			ctx = tenant.WithTenant(ctx, cfg.Backend.TenantID)
		}
		n, err := deps.Catalog.WarmPaymentMethods(ctx)
		if err == nil {
			jobLog.Debug().Int("methods", n).Msg("payment_methods_warmed")
		}
		return err
	})
	mustAdd(c, "@every 30s", jobLog, "queue_depth", func(ctx context.Context) error {
		_, _, err := deps.Queue.Depth(ctx, events.TaskKind)
		return err
	})
	mustAdd(c, "@every 1m", jobLog, "sample_dlq", func(ctx context.Context) error {
		return queue.SampleDLQ(ctx, deps.DLQ)
	})
	return c
}

func mustAdd(c *cron.Cron, spec string, logger zerolog.Logger, name string, job func(context.Context) error) {
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := job(ctx); err != nil {
			logger.Warn().Err(err).Str("job", name).Msg("cron_job_failed")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Str("job", name).Msg("schedule cron job")
	}
}

func opsMux(cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	healthHandler := health.Handler{}
	mux.HandleFunc("/health/live", healthHandler.Live)
	if cfg.Obs.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

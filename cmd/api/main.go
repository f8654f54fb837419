package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/pos-terminal/internal/app"
	"github.com/noah-isme/pos-terminal/internal/catalog"
	"github.com/noah-isme/pos-terminal/internal/checkout"
	"github.com/noah-isme/pos-terminal/internal/common"
	"github.com/noah-isme/pos-terminal/internal/config"
	"github.com/noah-isme/pos-terminal/internal/customer"
	"github.com/noah-isme/pos-terminal/internal/health"
	guard "github.com/noah-isme/pos-terminal/internal/http/middleware"
	"github.com/noah-isme/pos-terminal/internal/lock"
	"github.com/noah-isme/pos-terminal/internal/notify"
	"github.com/noah-isme/pos-terminal/internal/obs"
	"github.com/noah-isme/pos-terminal/internal/queue"
	"github.com/noah-isme/pos-terminal/internal/ratelimit"
	"github.com/noah-isme/pos-terminal/internal/report"
	"github.com/noah-isme/pos-terminal/internal/sale"
	"github.com/noah-isme/pos-terminal/internal/security"
	"github.com/noah-isme/pos-terminal/internal/session"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Str("service", "pos-api").Logger()

	metricsEnabled := cfg.Obs.EnableMetrics
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "pos-api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

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

	sessionLog := logger.With().Str("component", "session").Logger()
	sessions := session.NewStore(session.StoreConfig{
		TaxRate:        cfg.Sale.TaxRate,
		QuantityPlaces: cfg.Sale.QuantityPlaces,
		IdleTTL:        cfg.SessionIdleTTL,
		Logger:         &sessionLog,
	})
	go sessions.RunSweeper(ctx, cfg.SessionSweepInterval)

	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: deps.Catalog})
	customerSvc := &customer.Service{
		Backend:      deps.Backend,
		Cache:        catalog.NewCache(deps.Redis, cfg.Catalog.CacheTTL),
		DefaultLimit: cfg.Catalog.DefaultLimit,
		MaxLimit:     cfg.Catalog.MaxLimit,
	}
	customerHandler := &customer.Handler{Svc: customerSvc}

	checkoutSvc := &checkout.Service{
		Backend:           deps.Backend,
		Folios:            checkout.FolioAllocator{R: deps.Redis},
		Locker:            lock.Locker{R: deps.Redis, RetryBackoff: cfg.LockRetryBackoff, WaitFor: time.Second},
		LockTTL:           cfg.LockTTL,
		Events:            deps.Bus,
		Sessions:          sessions,
		DefaultCustomerID: cfg.Sale.DefaultCustomerID,
		Logger:            logger.With().Str("component", "checkout").Logger(),
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL, Scope: terminalScope}
	saleHandler := &sale.Handler{
		Sessions:         sessions,
		Catalog:          deps.Catalog,
		Customers:        customerSvc,
		Checkout:         checkoutHandler,
		CommitMiddleware: []func(http.Handler) http.Handler{idem.Middleware},
	}

	reportSvc := &report.Service{
		Backend:      deps.Backend,
		R:            deps.Redis,
		TTL:          cfg.ReportCacheTTL,
		DefaultRange: 30,
		DefaultLimit: cfg.Catalog.DefaultLimit,
		MaxLimit:     cfg.Catalog.MaxLimit,
		Logger:       logger.With().Str("component", "report").Logger(),
	}
	reportHandler := &report.Handler{Svc: reportSvc}

	dispatcher, closeDispatcher, err := deps.NewDispatcher()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise event delivery")
	}
	defer func() {
		if err := closeDispatcher(); err != nil {
			logger.Error().Err(err).Msg("close kafka writer")
		}
	}()
	notifyAdmin := &notify.AdminHandler{Journal: deps.Journal, Disp: dispatcher}
	queueAdmin := &queue.AdminHandler{
		Store:             deps.DLQ,
		Queue:             deps.Queue,
		Logger:            logger.With().Str("component", "queue-admin").Logger(),
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	}

	limiter, err := app.NewLimiter(cfg, deps.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	rateLimit := ratelimit.Handler{
		Limiter: limiter,
		Config:  ratelimit.Config{Key: ratelimit.TerminalKey, Window: cfg.RateLimit.Window, Max: cfg.RateLimit.Max},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
	}

	resolver := tenant.NewResolver(tenant.Terminal{
		TenantID:   cfg.Backend.TenantID,
		TerminalID: cfg.Terminal.TerminalID,
		BranchID:   cfg.Terminal.BranchID,
		UserID:     cfg.Backend.UserID,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(resolver.Middleware)
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", common.IdempotencyHeader,
			tenant.DefaultTenantHeader, tenant.DefaultTerminalHeader, tenant.DefaultBranchHeader, tenant.DefaultUserHeader,
		},
		ExposedHeaders: []string{"Location", "X-Total-Count", "X-Search-Seq", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{Enable: true, NoStore: true}.Middleware)

	admin := security.BasicAuth{User: cfg.Admin.User, Pass: cfg.Admin.Password, Realm: "pos-admin"}
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Obs.EnablePprof {
		r.Mount("/debug/pprof", admin.Middleware(newPprofMux()))
	}

	healthHandler := health.Handler{
		Checker:        health.Probes{Backend: deps.Backend, Redis: deps.Redis},
		BackendTimeout: 800 * time.Millisecond,
		RedisTimeout:   300 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Use(guard.RequireTenant)
		v.Use(rateLimit.Middleware)

		v.Get("/catalog/variants", catalogHandler.Variants)
		v.Get("/catalog/lookup/{code}", catalogHandler.Lookup)
		v.Get("/payment-methods", catalogHandler.PaymentMethods)
		v.Get("/customers", customerHandler.List)
		v.Get("/customers/{id}", customerHandler.Get)

		v.Group(func(term chi.Router) {
			term.Use(guard.RequireTerminal)
			saleHandler.Routes(term)
		})

		v.Route("/reports", func(rp chi.Router) {
			rp.Get("/sales", reportHandler.Sales)
			rp.Get("/sales/{saleId}", reportHandler.SaleDetail)
		})
	})

	r.Route("/admin", func(a chi.Router) {
		a.Use(admin.Middleware)
		a.Get("/queue/dlq", queueAdmin.ListDLQ)
		a.Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
		a.Get("/queue/stats", queueAdmin.Stats)
		a.Get("/events", notifyAdmin.ListEvents)
		a.Get("/events/endpoints", notifyAdmin.ListEndpoints)
		a.Post("/events/{id}/redeliver", notifyAdmin.Redeliver)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Int("open_sessions", sessions.Len()).Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

// terminalScope keys idempotent commits per tenant and terminal.
func terminalScope(r *http.Request) string {
	term, _ := tenant.TerminalFrom(r.Context())
	return term.TenantID + ":" + term.TerminalID
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

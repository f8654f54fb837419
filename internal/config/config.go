package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	WorkerMetricsPort  string
	RedisURL           string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64

	Backend  Backend
	Retry    Retry
	Circuit  Circuit
	Sale     Sale
	Catalog  Catalog
	Terminal Terminal

	SessionIdleTTL       time.Duration
	SessionSweepInterval time.Duration
	ReportCacheTTL       time.Duration
	IdempotencyTTL       time.Duration
	LockTTL              time.Duration
	LockRetryBackoff     time.Duration

	Queue     Queue
	Kafka     Kafka
	Webhook   Webhook
	RateLimit RateLimit
	Admin     Admin
	Obs       Obs
}

// Backend addresses the sales backend service.
type Backend struct {
	BaseURL       string
	TenantID      string
	UserID        string
	AuthToken     string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// Retry tunes outbound retries.
type Retry struct {
	MaxAttempts int
	Base        time.Duration
	Jitter      float64
}

// Circuit tunes the outbound circuit breaker.
type Circuit struct {
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

// Sale holds ledger defaults.
type Sale struct {
	TaxRate           decimal.Decimal
	QuantityPlaces    int32
	DefaultCustomerID string
}

// Catalog tunes picker searches.
type Catalog struct {
	CacheTTL     time.Duration
	DefaultLimit int
	MaxLimit     int
}

// Terminal is the identity used when requests omit terminal headers.
type Terminal struct {
	TerminalID string
	BranchID   string
}

// Queue configures the Redis job queue.
type Queue struct {
	Prefix            string
	MaxAttempts       int
	Concurrency       int
	VisibilityTimeout time.Duration
}

// Kafka configures event publishing. No brokers disables it.
type Kafka struct {
	Brokers     []string
	TopicPrefix string
}

// Webhook configures signed event webhooks.
type Webhook struct {
	URLs      []string
	Secret    string
	Timeout   time.Duration
	ReplayTTL time.Duration
}

// RateLimit configures per-terminal request limits.
type RateLimit struct {
	Window  time.Duration
	Max     int
	Backend string
}

// Admin guards operator routes with basic auth. No user disables the guard.
type Admin struct {
	User     string
	Password string
}

// Obs controls logging, metrics and tracing.
type Obs struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   string
	EnableMetrics    bool
	EnableTracing    bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	EnablePprof      bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	taxRate, err := parseDecimal(k.String("SALE_TAX_RATE"), "0.16")
	if err != nil {
		return nil, fmt.Errorf("SALE_TAX_RATE: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		WorkerMetricsPort:  valueOrDefault(k.String("WORKER_METRICS_PORT"), "9091"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		Backend: Backend{
			BaseURL:       strings.TrimRight(strings.TrimSpace(k.String("BACKEND_BASE_URL")), "/"),
			TenantID:      strings.TrimSpace(k.String("BACKEND_TENANT_ID")),
			UserID:        strings.TrimSpace(k.String("BACKEND_USER_ID")),
			AuthToken:     strings.TrimSpace(k.String("BACKEND_AUTH_TOKEN")),
			Timeout:       parseDuration(k.String("BACKEND_TIMEOUT"), "5s"),
			RatePerSecond: parseFloat(k.String("BACKEND_RATE_PER_SEC"), 20),
			Burst:         parseInt(k.String("BACKEND_BURST"), 40),
		},
		Retry: Retry{
			MaxAttempts: parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
			Base:        parseDuration(k.String("RETRY_BASE"), "100ms"),
			Jitter:      parseFloat(k.String("RETRY_JITTER"), 0.2),
		},
		Circuit: Circuit{
			MinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
			FailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
			OpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		},
		Sale: Sale{
			TaxRate:           taxRate,
			QuantityPlaces:    int32(parseInt(k.String("SALE_QUANTITY_PLACES"), 2)),
			DefaultCustomerID: strings.TrimSpace(k.String("SALE_DEFAULT_CUSTOMER_ID")),
		},
		Catalog: Catalog{
			CacheTTL:     parseDuration(k.String("CATALOG_CACHE_TTL"), "30s"),
			DefaultLimit: parseInt(k.String("CATALOG_DEFAULT_LIMIT"), 20),
			MaxLimit:     parseInt(k.String("CATALOG_MAX_LIMIT"), 100),
		},
		Terminal: Terminal{
			TerminalID: strings.TrimSpace(k.String("TERMINAL_ID")),
			BranchID:   strings.TrimSpace(k.String("BRANCH_ID")),
		},
		SessionIdleTTL:       parseDuration(k.String("SESSION_IDLE_TTL"), "12h"),
		SessionSweepInterval: parseDuration(k.String("SESSION_SWEEP_INTERVAL"), "1m"),
		ReportCacheTTL:       parseDuration(k.String("REPORT_CACHE_TTL"), "60s"),
		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:              parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff:     parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		Queue: Queue{
			Prefix:            valueOrDefault(k.String("QUEUE_PREFIX"), "pos"),
			MaxAttempts:       parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 8),
			Concurrency:       parseInt(k.String("QUEUE_CONCURRENCY"), 4),
			VisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "60s"),
		},
		Kafka: Kafka{
			Brokers:     splitAndTrim(k.String("KAFKA_BROKERS")),
			TopicPrefix: valueOrDefault(k.String("KAFKA_TOPIC_PREFIX"), "pos."),
		},
		Webhook: Webhook{
			URLs:      splitAndTrim(k.String("WEBHOOK_URLS")),
			Secret:    k.String("WEBHOOK_SECRET"),
			Timeout:   parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
			ReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		},
		RateLimit: RateLimit{
			Window:  parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
			Max:     parseInt(k.String("RATE_LIMIT_MAX"), 600),
			Backend: strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_BACKEND"), "redis")),
		},
		Admin: Admin{
			User:     strings.TrimSpace(k.String("ADMIN_BASIC_AUTH_USER")),
			Password: strings.TrimSpace(k.String("ADMIN_BASIC_AUTH_PASS")),
		},
		Obs: Obs{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "pos"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			EnableMetrics:    parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     k.String("OBS_OTLP_ENDPOINT"),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			EnablePprof:      parseBool(k.String("OBS_ENABLE_PPROF"), false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("BACKEND_BASE_URL is required"))
	}
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if c.Sale.TaxRate.IsNegative() {
		errs = append(errs, errors.New("SALE_TAX_RATE must not be negative"))
	}
	// cantidad is persisted as Numeric(14,2).
	if c.Sale.QuantityPlaces < 1 || c.Sale.QuantityPlaces > 2 {
		errs = append(errs, errors.New("SALE_QUANTITY_PLACES must be 1 or 2"))
	}
	if c.Catalog.MaxLimit < c.Catalog.DefaultLimit {
		errs = append(errs, errors.New("CATALOG_MAX_LIMIT must not be below CATALOG_DEFAULT_LIMIT"))
	}
	switch c.RateLimit.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND %q must be redis or memory", c.RateLimit.Backend))
	}
	if len(c.Webhook.URLs) > 0 && strings.TrimSpace(c.Webhook.Secret) == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required when WEBHOOK_URLS is set"))
	}
	return errors.Join(errs...)
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	return listenAddr(c.Port, "8080")
}

// WorkerAddr returns the address the worker serves metrics and health on.
func (c *Config) WorkerAddr() string {
	return listenAddr(c.WorkerMetricsPort, "9091")
}

func listenAddr(port, fallback string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		port = fallback
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return v
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return v
	}
	return fallback
}

func parseDecimal(value, fallback string) (decimal.Decimal, error) {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	return decimal.NewFromString(base)
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}

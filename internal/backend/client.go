// Package backend is the REST client for the store backend: catalog, customers,
// payment methods, users and sale persistence.
//
// Every request carries the tenant and user of the Config it was built with.
// Nothing is read from process-wide state; use WithIdentity to talk to the
// backend on behalf of a different session.
package backend

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/noah-isme/pos-terminal/internal/resilience"
)

// Header names expected by the backend.
const (
	HeaderTenant = "Tenant_ID"
	HeaderUser   = "User_ID"
)

// Config describes how to reach the backend and on whose behalf. A terminal
// identity stored in the request context by the tenant resolver takes
// precedence over TenantID and UserID.
type Config struct {
	BaseURL   string
	TenantID  string
	UserID    string
	AuthToken string
	Headers   map[string]string
	Timeout   time.Duration
	// RatePerSecond caps outbound calls across all identities. Zero disables it.
	RatePerSecond float64
	Burst         int
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the resilient transport.
func WithHTTPClient(hc resilience.HTTPClient) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for commit compensation events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithClock overrides the time source used to stamp sales.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	cfg     Config
	base    *url.URL
	http    resilience.HTTPClient
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time
}

// New validates cfg and builds a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("backend: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("backend: base url must be absolute")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:  cfg,
		base: base,
		log:  zerolog.Nop(),
		now:  time.Now,
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Client == nil {
		c.http.Client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if c.http.Breaker == nil {
		c.http.Breaker = resilience.NewBreaker(resilience.BreakerConfig{Target: "backend"})
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = cfg.Timeout
	}
	return c, nil
}

// WithIdentity returns a client sharing transport, breaker and rate limit but
// sending a different tenant and user. Empty arguments keep the current value.
func (c *Client) WithIdentity(tenantID, userID string) *Client {
	cp := *c
	if tenantID != "" {
		cp.cfg.TenantID = tenantID
	}
	if userID != "" {
		cp.cfg.UserID = userID
	}
	return &cp
}

// TenantID returns the tenant sent with every request.
func (c *Client) TenantID() string { return c.cfg.TenantID }

// UserID returns the user sent with every request.
func (c *Client) UserID() string { return c.cfg.UserID }

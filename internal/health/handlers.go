package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/pos-terminal/internal/common"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the process readiness, e.g. false while draining on shutdown.
func SetReady(v bool) { ready.Store(v) }

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingBackend(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Pinger is anything with a cheap reachability probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probes is the production Checker.
type Probes struct {
	Backend Pinger
	Redis   *redis.Client
}

// PingBackend probes the sales backend.
func (p Probes) PingBackend(ctx context.Context, timeout time.Duration) error {
	if p.Backend == nil {
		return errors.New("backend not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Backend.Ping(ctx)
}

// PingRedis probes Redis.
func (p Probes) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker        Checker
	BackendTimeout time.Duration
	RedisTimeout   time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dependencies unavailable"})
		return
	}
	ctx := r.Context()
	backendStatus := "ok"
	if err := h.Checker.PingBackend(ctx, h.backendTimeout()); err != nil {
		backendStatus = err.Error()
	}
	redisStatus := "ok"
	if err := h.Checker.PingRedis(ctx, h.redisTimeout()); err != nil {
		redisStatus = err.Error()
	}
	status := map[string]string{
		"backend": backendStatus,
		"redis":   redisStatus,
	}
	code := http.StatusOK
	if backendStatus != "ok" || redisStatus != "ok" {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) backendTimeout() time.Duration {
	if h.BackendTimeout <= 0 {
		return 800 * time.Millisecond
	}
	return h.BackendTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}

package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/pos-terminal/internal/common"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// TerminalKey keys requests by tenant and terminal, falling back to the
// client address for callers that have not identified a terminal yet.
func TerminalKey(r *http.Request) string {
	if term, ok := tenant.TerminalFrom(r.Context()); ok && term.TerminalID != "" {
		return "term:" + term.TenantID + ":" + term.TerminalID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Config.Key == nil || h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := h.Config.Key(r)
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		limitValue := h.Config.Max
		if limitValue < 0 {
			limitValue = 0
		}
		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(limitValue))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const idemPending = "pending"

// IdempotencyHeader carries the client-chosen request key.
const IdempotencyHeader = "Idempotency-Key"

// Idem provides an Idempotency-Key middleware backed by Redis. The first
// request with a key runs; its response is stored for TTL and replayed to any
// later request with the same key. Server errors release the key so the
// client may retry.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
	// Scope adds request-specific context (tenant, route) to the key.
	Scope func(*http.Request) string
}

type storedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

func (i Idem) key(r *http.Request, header string) string {
	scope := r.Method + " " + r.URL.Path
	if i.Scope != nil {
		scope = i.Scope(r) + "|" + scope
	}
	sum := sha256.Sum256([]byte(scope + "|" + header))
	return "idem:" + hex.EncodeToString(sum[:])
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := i.key(r, header)
		ok, err := i.R.SetNX(ctx, key, idemPending, i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !ok {
			i.replay(ctx, w, key)
			return
		}

		rec := &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
		completed := false
		defer func() {
			if !completed || rec.status >= 500 {
				_ = i.R.Del(context.WithoutCancel(ctx), key).Err()
			}
		}()
		next.ServeHTTP(rec, r)
		completed = true
		if rec.status < 500 {
			payload, _ := json.Marshal(storedResponse{Status: rec.status, Body: rec.body.Bytes()})
			_ = i.R.Set(context.WithoutCancel(ctx), key, payload, i.ttl()).Err()
		}
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	if err != nil || string(raw) == idemPending {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_IN_PROGRESS", "a request with this idempotency key is in progress", nil)
		return
	}
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

type bufferedWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bufferedWriter) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}

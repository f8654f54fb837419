package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError reports a 5xx answer that exhausted the retry budget.
type StatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilience: upstream answered %s", e.Status)
}

// HTTPClient wraps an http.Client with retry, timeout and circuit-breaker logic.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	// RetryUnsafe allows retrying POST and PATCH requests. Off by default since
	// a timed out write may have been applied upstream.
	RetryUnsafe bool
	Fallback    func(context.Context, *http.Request, error) (*http.Response, error)
}

// Do executes the request applying retry semantics. The request body is
// buffered to support retries. When the breaker is open ErrOpenCircuit is
// returned unless a fallback is configured. Responses below 500 are returned
// as-is; the caller owns their body.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{Target: req.URL.Host})
	}
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if !cl.RetryUnsafe && !idempotentMethod(req.Method) {
		maxAttempts = 1
	}
	baseBackoff := cl.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}

	originalBody, err := ensureReplayableBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow(ctx) {
			lastErr = ErrOpenCircuit
			break
		}
		attemptReq := cloneRequestWithContext(ctx, req, originalBody)
		resp, err := cl.doOnce(attemptReq)
		if err == nil && resp.StatusCode < 500 {
			breaker.Report(ctx, true)
			return resp, nil
		}
		breaker.Report(ctx, false)
		if err == nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			_ = resp.Body.Close()
			lastErr = &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(Backoff(baseBackoff, attempt, cl.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, lastErr)
	}
	return nil, lastErr
}

func (cl HTTPClient) doOnce(req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		return cl.Client.Do(req)
	}
	callCtx, cancel := context.WithTimeout(req.Context(), timeout)
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose keeps the per-attempt timeout alive until the caller has read the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func idempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete, "":
		return true
	default:
		return false
	}
}

func ensureReplayableBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		src = body
	}
	data, err := io.ReadAll(src)
	_ = src.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return data, nil
}

func cloneRequestWithContext(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}

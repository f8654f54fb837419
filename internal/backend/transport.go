package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/noah-isme/pos-terminal/internal/resilience"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

const maxErrorBody = 64 << 10

// ErrNotFound is matched by errors.Is for 404 answers.
var ErrNotFound = errors.New("backend: not found")

// Error describes a failed backend call.
type Error struct {
	Method    string
	Path      string
	Status    int
	Detail    string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend %s %s", e.Method, e.Path)
	if e.Status > 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports 404 answers as ErrNotFound.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether retrying the same call later may succeed.
func IsTransient(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Transient
	}
	return errors.Is(err, resilience.ErrOpenCircuit) || errors.Is(err, context.DeadlineExceeded)
}

// detailFrom extracts the FastAPI "detail" field, which is either a string or a
// list of validation errors.
func detailFrom(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !gjson.ValidBytes(body) {
		return truncate(strings.TrimSpace(string(body)), 200)
	}
	detail := gjson.GetBytes(body, "detail")
	switch {
	case detail.Type == gjson.String:
		return detail.String()
	case detail.IsArray():
		var msgs []string
		detail.ForEach(func(_, item gjson.Result) bool {
			msg := item.Get("msg").String()
			if loc := item.Get("loc"); loc.IsArray() {
				parts := loc.Array()
				if n := len(parts); n > 0 {
					msg = parts[n-1].String() + ": " + msg
				}
			}
			msgs = append(msgs, msg)
			return true
		})
		return strings.Join(msgs, "; ")
	case detail.Exists():
		return detail.Raw
	}
	if msg := gjson.GetBytes(body, "message"); msg.Exists() {
		return msg.String()
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// do sends one request and returns the raw response body of a 2xx answer.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Method: method, Path: path, Err: err}
		}
	}
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, body != nil)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		be := &Error{Method: method, Path: path, Transient: true, Err: err}
		var se *resilience.StatusError
		if errors.As(err, &se) {
			be.Status = se.StatusCode
			be.Detail = detailFrom(se.Body)
			be.Err = nil
		}
		if errors.Is(err, context.Canceled) {
			be.Transient = false
		}
		return nil, be
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{
			Method:    method,
			Path:      path,
			Status:    resp.StatusCode,
			Detail:    detailFrom(raw),
			Transient: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout,
		}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Method: method, Path: path, Transient: true, Err: err}
	}
	return raw, nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	tenantID, userID := c.cfg.TenantID, c.cfg.UserID
	if t, ok := tenant.TerminalFrom(req.Context()); ok {
		if t.TenantID != "" {
			tenantID = t.TenantID
		}
		if t.UserID != "" {
			userID = t.UserID
		}
	}
	if tenantID != "" {
		req.Header.Set(HeaderTenant, tenantID)
	}
	if userID != "" {
		req.Header.Set(HeaderUser, userID)
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
}

// decodeList reads a list envelope: {"success":true,"total_count":n,"data":[...]}.
func decodeList[T any](raw []byte) ([]T, int, error) {
	data := gjson.GetBytes(raw, "data")
	if !data.Exists() {
		if gjson.ParseBytes(raw).IsArray() {
			data = gjson.ParseBytes(raw)
		} else {
			return nil, 0, errors.New("backend: response has no data field")
		}
	}
	if ok := gjson.GetBytes(raw, "success"); ok.Exists() && !ok.Bool() {
		return nil, 0, fmt.Errorf("backend: request unsuccessful: %s", detailFrom(raw))
	}
	var items []T
	if data.Type != gjson.Null {
		if err := json.Unmarshal([]byte(data.Raw), &items); err != nil {
			return nil, 0, fmt.Errorf("backend: decode list: %w", err)
		}
	}
	total := len(items)
	if tc := gjson.GetBytes(raw, "total_count"); tc.Exists() {
		total = int(tc.Int())
	}
	return items, total, nil
}

// decodeOne reads either {"success":true,"data":{...}} or a bare object.
func decodeOne[T any](raw []byte) (T, error) {
	var out T
	src := raw
	if gjson.GetBytes(raw, "success").Exists() {
		if !gjson.GetBytes(raw, "success").Bool() {
			return out, fmt.Errorf("backend: request unsuccessful: %s", detailFrom(raw))
		}
		data := gjson.GetBytes(raw, "data")
		if !data.IsObject() {
			return out, errors.New("backend: response has no data object")
		}
		src = []byte(data.Raw)
	}
	if err := json.Unmarshal(src, &out); err != nil {
		return out, fmt.Errorf("backend: decode object: %w", err)
	}
	return out, nil
}

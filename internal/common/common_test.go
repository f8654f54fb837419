package common_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-terminal/internal/common"
)

func TestParsePageParams(t *testing.T) {
	p, err := common.ParsePageParams(url.Values{}, 20, 100)
	require.NoError(t, err)
	require.Equal(t, common.PageParams{Page: 1, Limit: 20}, p)
	require.Equal(t, 0, p.Skip())

	p, err = common.ParsePageParams(url.Values{"page": {"3"}, "limit": {"10"}}, 20, 100)
	require.NoError(t, err)
	require.Equal(t, 20, p.Skip())
	require.Equal(t, common.Pagination{Page: 3, PerPage: 10, TotalItems: 55}, p.Meta(55))

	for _, bad := range []url.Values{{"page": {"0"}}, {"limit": {"abc"}}, {"limit": {"101"}}} {
		_, err := common.ParsePageParams(bad, 20, 100)
		var appErr *common.AppError
		require.True(t, errors.As(err, &appErr), "values %v", bad)
		require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	}
}

type lineBody struct {
	VariantID string          `json:"variantId" validate:"required,max=64"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"variantId":"","quantity":"0"}`))
	var body lineBody
	err := common.DecodeAndValidate(req, &body)
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)
	fields := appErr.Details.(map[string]any)["fields"].(map[string]string)
	require.Equal(t, "is required", fields["variantId"])
	require.Equal(t, "must be greater than 0", fields["quantity"])

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"variantId":"v1","quantity":"1.5"}`))
	require.NoError(t, common.DecodeAndValidate(req, &body))
	require.True(t, body.Quantity.Equal(decimal.RequireFromString("1.5")))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"variantId":"v1","extra":true}`))
	require.Error(t, common.DecodeAndValidate(req, &body))
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, common.NewAppError("NOT_FOUND", "sale not found", http.StatusNotFound, nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"error":{"code":"NOT_FOUND","message":"sale not found"}}`, rr.Body.String())

	rr = httptest.NewRecorder()
	common.WriteError(rr, errors.New("secret detail"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "secret")
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls int32
	h := common.Idem{R: rdb, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		common.JSON(w, http.StatusCreated, map[string]any{"call": n})
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/s1/commit", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code)
	second := send()
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls int32
	h := common.Idem{R: rdb, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			common.JSONError(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "backend down", nil)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{}`)
	}))
	for _, want := range []int{http.StatusBadGateway, http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/commit", nil)
		req.Header.Set("Idempotency-Key", "k")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, want, rr.Code)
	}
}

func TestIdempotencyInProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	idem := common.Idem{R: rdb, TTL: time.Minute}
	inner := make(chan struct{})
	release := make(chan struct{})
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(inner)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest(http.MethodPost, "/commit", nil)
		req.Header.Set("Idempotency-Key", "slow")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}()
	<-inner

	req := httptest.NewRequest(http.MethodPost, "/commit", nil)
	req.Header.Set("Idempotency-Key", "slow")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "IDEMPOTENT_IN_PROGRESS")

	close(release)
	<-done
}

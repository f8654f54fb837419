package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/catalog"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

type fakeBackend struct {
	mu          sync.Mutex
	items       []backend.CatalogItem
	methods     []backend.PaymentMethod
	queries     []backend.VariantQuery
	methodCalls int
	err         error
}

func (f *fakeBackend) SearchVariants(_ context.Context, q backend.VariantQuery) (backend.Page[backend.CatalogItem], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return backend.Page[backend.CatalogItem]{}, f.err
	}
	var out []backend.CatalogItem
	for _, it := range f.items {
		switch {
		case q.Barcode != "" && it.Barcode != q.Barcode:
			continue
		case q.SKU != "" && it.SKU != q.SKU:
			continue
		}
		out = append(out, it)
	}
	return backend.Page[backend.CatalogItem]{Items: out, Total: len(out), Skip: q.Skip, Limit: q.Limit}, nil
}

func (f *fakeBackend) ListPaymentMethods(context.Context) ([]backend.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methodCalls++
	return f.methods, f.err
}

func (f *fakeBackend) searchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newFake() *fakeBackend {
	return &fakeBackend{
		items: []backend.CatalogItem{
			{VariantID: "v-1", SKU: "COLA-600", Barcode: "7501055300075", DisplayName: "Cola 600ml", UnitPrice: decimal.RequireFromString("18.50"), StockQuantity: dec("12")},
			{VariantID: "v-2", SKU: "AGUA-1L", Barcode: "7501055300099", DisplayName: "Agua 1L", UnitPrice: decimal.RequireFromString("12"), StockQuantity: dec("0")},
		},
		methods: []backend.PaymentMethod{{MethodID: "m-cash", Name: "Efectivo"}, {MethodID: "m-card", Name: "Tarjeta"}},
	}
}

func newService(t *testing.T, fb *fakeBackend) *catalog.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Backend:      fb,
		Cache:        catalog.NewCache(rdb, time.Minute),
		MethodsCache: catalog.NewCache(rdb, time.Hour),
		DefaultLimit: 20,
		MaxLimit:     50,
	})
	require.NoError(t, err)
	return svc
}

func withTenant(r *http.Request, id string) *http.Request {
	return r.WithContext(tenant.WithTenant(r.Context(), id))
}

func TestVariantsHandlerFiltersAndCaches(t *testing.T) {
	fb := newFake()
	handler := catalog.NewHandler(catalog.HandlerConfig{Service: newService(t, fb)})

	var resp struct {
		Data       []backend.CatalogItem `json:"data"`
		Pagination struct {
			Page       int `json:"page"`
			PerPage    int `json:"per_page"`
			TotalItems int `json:"total_items"`
		} `json:"pagination"`
	}
	for i := 0; i < 2; i++ {
		req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/catalog/variants?inStock=true&limit=5", nil), "t1")
		rec := httptest.NewRecorder()
		handler.Variants(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		require.Equal(t, "v-1", resp.Data[0].VariantID)
		require.Equal(t, 5, resp.Pagination.PerPage)
	}
	require.Equal(t, 1, fb.searchCalls(), "second request should be served from cache")

	req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/catalog/variants?inStock=true&limit=5", nil), "t2")
	rec := httptest.NewRecorder()
	handler.Variants(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, fb.searchCalls(), "cache is scoped per tenant")
}

func TestParseSearchParamsRejectsBadInput(t *testing.T) {
	svc := newService(t, newFake())
	cases := map[string]string{
		"price range": "/x?minPrice=10&maxPrice=5",
		"negative":    "/x?minPrice=-1",
		"limit":       "/x?limit=500",
		"stock flag":  "/x?inStock=maybe",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, target, nil)
			_, err := svc.ParseSearchParams(req.URL.Query())
			require.Error(t, err)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/x?q=cola&minPrice=1.5&page=2", nil)
	params, err := svc.ParseSearchParams(req.URL.Query())
	require.NoError(t, err)
	require.Equal(t, "cola", params.Query)
	require.True(t, params.MinPrice.Equal(decimal.RequireFromString("1.5")))
	require.Equal(t, 2, params.Page)
	require.Equal(t, 20, params.Limit)
}

func TestLookupPrefersBarcodeThenSKU(t *testing.T) {
	fb := newFake()
	svc := newService(t, fb)
	ctx := context.Background()

	item, err := svc.Lookup(ctx, "7501055300099")
	require.NoError(t, err)
	require.Equal(t, "v-2", item.VariantID)
	require.Equal(t, 1, fb.searchCalls())

	item, err = svc.Lookup(ctx, "COLA-600")
	require.NoError(t, err)
	require.Equal(t, "v-1", item.VariantID)
	require.Equal(t, 3, fb.searchCalls())

	_, err = svc.Lookup(ctx, "nothing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestLookupHandlerStatuses(t *testing.T) {
	fb := newFake()
	handler := catalog.NewHandler(catalog.HandlerConfig{Service: newService(t, fb)})

	lookup := func(code string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog/lookup/"+code, nil)
		routeCtx := chi.NewRouteContext()
		routeCtx.URLParams.Add("code", code)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
		rec := httptest.NewRecorder()
		handler.Lookup(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, lookup("COLA-600").Code)
	require.Equal(t, http.StatusNotFound, lookup("missing").Code)

	fb.err = &backend.Error{Method: http.MethodGet, Path: "/variantes/", Status: 503, Transient: true}
	rec := lookup("COLA-600")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "UPSTREAM_UNAVAILABLE")
}

func TestPaymentMethodsAreCachedAndWarmed(t *testing.T) {
	fb := newFake()
	svc := newService(t, fb)
	ctx := tenant.WithTenant(context.Background(), "t1")

	methods, err := svc.PaymentMethods(ctx)
	require.NoError(t, err)
	require.Len(t, methods, 2)
	_, err = svc.PaymentMethods(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fb.methodCalls)

	m, err := svc.PaymentMethod(ctx, "m-card")
	require.NoError(t, err)
	require.Equal(t, "Tarjeta", m.Name)
	_, err = svc.PaymentMethod(ctx, "m-crypto")
	require.ErrorIs(t, err, catalog.ErrNotFound)

	n, err := svc.WarmPaymentMethods(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, fb.methodCalls)
}

package customer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/catalog"
	"github.com/noah-isme/pos-terminal/internal/customer"
)

type fakeBackend struct {
	customers []backend.Customer
	queries   []backend.CustomerQuery
	gets      int
}

func (f *fakeBackend) SearchCustomers(_ context.Context, q backend.CustomerQuery) (backend.Page[backend.Customer], error) {
	f.queries = append(f.queries, q)
	var out []backend.Customer
	for _, c := range f.customers {
		if q.FirstName != "" && c.FirstName != q.FirstName {
			continue
		}
		if q.BusinessName != "" && c.BusinessName != q.BusinessName {
			continue
		}
		if q.TaxID != "" && c.TaxID != q.TaxID {
			continue
		}
		out = append(out, c)
	}
	return backend.Page[backend.Customer]{Items: out, Total: len(out)}, nil
}

func (f *fakeBackend) GetCustomer(_ context.Context, id string) (backend.Customer, error) {
	f.gets++
	for _, c := range f.customers {
		if c.CustomerID == id {
			return c, nil
		}
	}
	return backend.Customer{}, &backend.Error{Method: http.MethodGet, Path: "/clientes/" + id, Status: http.StatusNotFound}
}

func newService(t *testing.T) (*customer.Service, *fakeBackend) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	fb := &fakeBackend{customers: []backend.Customer{
		{CustomerID: "c-1", FirstName: "Ana", LastName: "Pérez", TaxID: "PEPA800101AB1", Type: backend.CustomerIndividual},
		{CustomerID: "c-2", FirstName: "", BusinessName: "Abarrotes Luna", TaxID: "ALU900101XY2", Type: backend.CustomerCompany},
	}}
	return &customer.Service{Backend: fb, Cache: catalog.NewCache(rdb, time.Minute)}, fb
}

func TestSearchRoutesFreeText(t *testing.T) {
	svc, fb := newService(t)
	ctx := context.Background()

	res, err := svc.Search(ctx, customer.SearchParams{Query: "Ana"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, "Ana", fb.queries[0].FirstName)

	res, err = svc.Search(ctx, customer.SearchParams{Query: "alu900101xy2"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, "c-2", res.Items[0].CustomerID)
	require.Equal(t, "ALU900101XY2", fb.queries[1].TaxID)

	res, err = svc.Search(ctx, customer.SearchParams{Query: "Abarrotes Luna"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Len(t, fb.queries, 4, "empty name search falls back to business name")
	require.Equal(t, "Abarrotes Luna", fb.queries[3].BusinessName)

	res, err = svc.Search(ctx, customer.SearchParams{Type: backend.CustomerCompany})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, backend.CustomerCompany, res.Items[0].Type)
}

func TestParseSearchParamsValidatesType(t *testing.T) {
	svc, _ := newService(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/customers?type=other", nil)
	_, err := svc.ParseSearchParams(req.URL.Query())
	require.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/customers?type=moral&taxId=alu900101xy2", nil)
	p, err := svc.ParseSearchParams(req.URL.Query())
	require.NoError(t, err)
	require.Equal(t, backend.CustomerCompany, p.Type)
	require.Equal(t, "ALU900101XY2", p.TaxID)
}

func TestGetIsCachedAndMapsNotFound(t *testing.T) {
	svc, fb := newService(t)
	h := &customer.Handler{Svc: svc}

	get := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/customers/"+id, nil)
		rc := chi.NewRouteContext()
		rc.URLParams.Add("id", id)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
		rec := httptest.NewRecorder()
		h.Get(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, get("c-1").Code)
	require.Equal(t, http.StatusOK, get("c-1").Code)
	require.Equal(t, 1, fb.gets)
	require.Equal(t, http.StatusNotFound, get("c-404").Code)
}

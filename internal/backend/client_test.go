package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/resilience"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Tenant string
	User   string
	Auth   string
	Body   map[string]any
}

type fakeBackend struct {
	mu       sync.Mutex
	calls    []recorded
	handlers map[string]http.HandlerFunc
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Tenant: r.Header.Get(backend.HeaderTenant),
			User:   r.Header.Get(backend.HeaderUser),
			Auth:   r.Header.Get("Authorization"),
		}
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &rec.Body)
			}
		}
		fb.mu.Lock()
		fb.calls = append(fb.calls, rec)
		h, ok := fb.handlers[r.Method+" "+r.URL.Path]
		fb.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"no route"}`)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) on(route string, h http.HandlerFunc) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.handlers[route] = h
}

func (fb *fakeBackend) recorded() []recorded {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]recorded, len(fb.calls))
	copy(out, fb.calls)
	return out
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func newClient(t *testing.T, srv *httptest.Server) *backend.Client {
	t.Helper()
	c, err := backend.New(backend.Config{
		BaseURL:   srv.URL + "/",
		TenantID:  "tenant-1",
		UserID:    "user-1",
		AuthToken: "secret",
		Timeout:   time.Second,
	}, backend.WithHTTPClient(resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(resilience.BreakerConfig{Target: "backend-test", MinRequests: 100}),
		MaxAttempts: 1,
	}), backend.WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)
	return c
}

func TestNewRequiresAbsoluteURL(t *testing.T) {
	_, err := backend.New(backend.Config{})
	require.Error(t, err)
	_, err = backend.New(backend.Config{BaseURL: "/relative"})
	require.Error(t, err)
}

func TestSearchVariantsSendsFiltersAndIdentity(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on("GET /variantes/", respond(200, `{
		"success": true, "total_count": 42,
		"data": [
			{"id_producto_variante":"v-1","id_producto":"p-1","sku_variante":"SKU-1","codigo_barras_var":"750100",
			 "precio":"10.50","producto_nombre":"Coffee","marca_nombre":"Acme","categoria_nombre":"Drinks"},
			{"id_producto_variante":"v-2","sku_variante":"SKU-2","precio":null,"stock_actual":"0.0000"}
		]}`))
	c := newClient(t, srv)

	min := decimal.RequireFromString("5")
	page, err := c.SearchVariants(context.Background(), backend.VariantQuery{
		ProductName: "cof", Brand: " Acme ", MinPrice: &min, Skip: 20, Limit: 5000,
	})
	require.NoError(t, err)
	require.Equal(t, 42, page.Total)
	require.Equal(t, backend.MaxVariantLimit, page.Limit)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	require.Equal(t, "v-1", first.VariantID)
	require.Equal(t, "Coffee", first.DisplayName)
	require.Equal(t, "750100", first.Barcode)
	require.True(t, first.UnitPrice.Equal(decimal.RequireFromString("10.5")))
	require.True(t, first.InStock())

	second := page.Items[1]
	require.Equal(t, "SKU-2", second.DisplayName)
	require.True(t, second.UnitPrice.IsZero())
	require.False(t, second.InStock())

	calls := fb.recorded()
	require.Len(t, calls, 1)
	require.Equal(t, "tenant-1", calls[0].Tenant)
	require.Equal(t, "user-1", calls[0].User)
	require.Equal(t, "Bearer secret", calls[0].Auth)
	require.Contains(t, calls[0].Query, "producto_nombre=cof")
	require.Contains(t, calls[0].Query, "marca_nombre=Acme")
	require.Contains(t, calls[0].Query, "precio_min=5")
	require.Contains(t, calls[0].Query, "skip=20")
	require.Contains(t, calls[0].Query, "limit=1000")
}

func TestWithIdentityOverridesHeaders(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on("GET /formas_pago/", respond(200, `{"success":true,"total_count":1,"data":[{"id_forma_pago":"m-1","nombre":"Efectivo"}]}`))
	c := newClient(t, srv)

	other := c.WithIdentity("tenant-2", "")
	methods, err := other.ListPaymentMethods(context.Background())
	require.NoError(t, err)
	require.Equal(t, []backend.PaymentMethod{{MethodID: "m-1", Name: "Efectivo"}}, methods)

	calls := fb.recorded()
	require.Equal(t, "tenant-2", calls[0].Tenant)
	require.Equal(t, "user-1", calls[0].User)
	require.Equal(t, "tenant-1", c.TenantID())
}

func TestRequestTerminalIdentityWins(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on("GET /formas_pago/", respond(200, `{"success":true,"total_count":0,"data":[]}`))
	c := newClient(t, srv)

	ctx := tenant.WithTerminal(context.Background(), tenant.Terminal{TenantID: "tenant-9", TerminalID: "pos-1", UserID: "cashier-3"})
	_, err := c.ListPaymentMethods(ctx)
	require.NoError(t, err)

	calls := fb.recorded()
	require.Equal(t, "tenant-9", calls[0].Tenant)
	require.Equal(t, "cashier-3", calls[0].User)
}

func TestCustomersListAndGet(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on("GET /clientes/", respond(200, `{"total_count":2,"data":[
		{"id_cliente":"c-1","nombre":"Ana","apellido":"Ruiz","rfc":"RUAA800101AB1","telefono":"555"},
		{"id_cliente":"c-2","nombre":"Contacto","razon_social":"Acme SA","rfc":"ACM800101AB1"}]}`))
	fb.on("GET /clientes/c-2", respond(200, `{"id_cliente":"c-2","nombre":"Contacto","razon_social":"Acme SA","rfc":"ACM800101AB1","email":"a@acme.mx"}`))
	c := newClient(t, srv)

	page, err := c.SearchCustomers(context.Background(), backend.CustomerQuery{FirstName: "an"})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Equal(t, 50, page.Limit)
	require.Equal(t, backend.CustomerIndividual, page.Items[0].Type)
	require.Equal(t, "Ana Ruiz", page.Items[0].DisplayName())
	require.Equal(t, backend.CustomerCompany, page.Items[1].Type)

	cust, err := c.GetCustomer(context.Background(), "c-2")
	require.NoError(t, err)
	require.Equal(t, "Acme SA", cust.DisplayName())
	require.Equal(t, "a@acme.mx", cust.Email)

	_, err = c.GetCustomer(context.Background(), "missing")
	require.True(t, backend.IsNotFound(err))
	require.False(t, backend.IsTransient(err))
}

func TestErrorDetailExtraction(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on("GET /usuarios/u-1", respond(422, `{"detail":[{"loc":["path","id_usuario"],"msg":"value is not a valid uuid"}]}`))
	fb.on("GET /usuarios/u-2", respond(503, `{"detail":"database unavailable"}`))
	c := newClient(t, srv)

	_, err := c.GetUser(context.Background(), "u-1")
	var be *backend.Error
	require.True(t, errors.As(err, &be))
	require.Equal(t, 422, be.Status)
	require.Equal(t, "id_usuario: value is not a valid uuid", be.Detail)

	_, err = c.GetUser(context.Background(), "u-2")
	require.True(t, errors.As(err, &be))
	require.Equal(t, 503, be.Status)
	require.Equal(t, "database unavailable", be.Detail)
	require.True(t, backend.IsTransient(err))
}

func commitRequest() backend.CommitRequest {
	d := decimal.RequireFromString
	return backend.CommitRequest{
		Folio:      "T1-20260301-000001",
		CustomerID: "c-1",
		TerminalID: "t-1",
		BranchID:   "b-1",
		Subtotal:   d("30"),
		Discount:   d("5"),
		Tax:        d("4"),
		Total:      d("29"),
		Lines: []backend.CommitLine{
			{VariantID: "v-1", Quantity: d("3"), UnitPrice: d("10"), LineDiscount: d("0"), LineTotal: d("30")},
		},
		Payments: []backend.CommitPayment{
			{MethodID: "m-1", Amount: d("20")},
			{MethodID: "m-2", Amount: d("9"), Reference: "AUTH-1"},
		},
	}
}

func TestCommitSalePersistsHeaderLinesPayments(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on("POST /ventas/", respond(201, `{"success":true,"data":{"id_venta":"s-1","numero_folio":"T1-20260301-000001","subtotal":"30","total":"29","id_cliente":"c-1"}}`))
	fb.on("POST /venta-detalles/", respond(201, `{"success":true,"data":{}}`))
	fb.on("POST /pagos/", respond(201, `{"success":true,"data":{}}`))
	c := newClient(t, srv)

	res, err := c.CommitSale(context.Background(), commitRequest())
	require.NoError(t, err)
	require.Equal(t, "s-1", res.SaleID)
	require.Equal(t, "T1-20260301-000001", res.Folio)

	calls := fb.recorded()
	require.Len(t, calls, 4)
	header := calls[0].Body
	require.Equal(t, "c-1", header["id_cliente"])
	require.Equal(t, "user-1", header["id_usuario"])
	require.Equal(t, "29", header["total"])
	require.Equal(t, "CONTADO", header["tipo_venta"])
	require.Equal(t, "COMPLETADA", header["estado_venta"])
	require.Equal(t, "2026-03-01T12:00:00Z", header["fecha_venta"])

	require.Equal(t, "/venta-detalles/", calls[1].Path)
	require.Equal(t, "s-1", calls[1].Body["id_venta"])
	require.Equal(t, "v-1", calls[1].Body["id_producto_var"])
	require.Equal(t, "30", calls[1].Body["total_linea"])

	require.Equal(t, "/pagos/", calls[3].Path)
	require.Equal(t, "AUTH-1", calls[3].Body["referencia"])
	require.Equal(t, "9", calls[3].Body["monto"])
}

func TestCommitSaleVoidsHeaderWhenPaymentFails(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on("POST /ventas/", respond(201, `{"success":true,"data":{"id_venta":"s-9"}}`))
	fb.on("POST /venta-detalles/", respond(201, `{"success":true,"data":{}}`))
	fb.on("POST /pagos/", respond(400, `{"detail":"forma de pago inactiva"}`))
	fb.on("PUT /ventas/s-9", respond(200, `{"success":true,"data":{"id_venta":"s-9","estado_venta":"ANULADA"}}`))
	c := newClient(t, srv)

	_, err := c.CommitSale(context.Background(), commitRequest())
	var pce *backend.PartialCommitError
	require.True(t, errors.As(err, &pce))
	require.Equal(t, "s-9", pce.SaleID)
	require.True(t, pce.Voided)
	require.Equal(t, "payment 1", pce.Step)
	require.True(t, strings.Contains(err.Error(), "forma de pago inactiva"))

	calls := fb.recorded()
	last := calls[len(calls)-1]
	require.Equal(t, http.MethodPut, last.Method)
	require.Equal(t, "ANULADA", last.Body["estado_venta"])
}

func TestCommitSaleRejectsIncompleteRequest(t *testing.T) {
	_, srv := newFakeBackend(t)
	c := newClient(t, srv)
	req := commitRequest()
	req.Payments = nil
	_, err := c.CommitSale(context.Background(), req)
	require.Error(t, err)
}

func TestSaleHistoryAndDetail(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on("GET /ventas/", respond(200, `{"success":true,"total_count":1,"data":[
		{"id_venta":"s-1","numero_folio":"F1","fecha_venta":"2026-03-01T10:00:00-06:00","id_cliente":"c-1","id_usuario":"u-1",
		 "subtotal":"30.00","descuento":"5.00","impuesto":"4.00","total":"29.00","estado_venta":"COMPLETADA"}]}`))
	fb.on("GET /ventas/s-1", respond(200, `{"id_venta":"s-1","numero_folio":"F1","subtotal":"30.00","total":"29.00"}`))
	fb.on("GET /venta-detalles/venta/s-1", respond(200, `{"success":true,"total_count":1,"data":[
		{"id_venta_detalle":"d-1","id_venta":"s-1","id_producto_var":"v-1","cantidad":"3.00","precio_unitario":"10.0000","descuento_linea":"0.00","total_linea":"30.00"}]}`))
	fb.on("GET /pagos/venta/s-1", respond(200, `{"success":true,"total_count":1,"total_pagado":"29.00","data":[
		{"id_pago":"p-1","id_venta":"s-1","id_forma_pago":"m-1","monto":"29.00"}]}`))
	c := newClient(t, srv)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	page, err := c.ListSales(context.Background(), backend.SalesQuery{From: &from, Status: backend.SaleCompleted})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "F1", page.Items[0].Folio)
	require.True(t, page.Items[0].Discount.Equal(decimal.RequireFromString("5")))
	require.Contains(t, fb.recorded()[0].Query, "fecha_desde=2026-03-01")
	require.Contains(t, fb.recorded()[0].Query, "estado_venta=COMPLETADA")

	sale, err := c.GetSale(context.Background(), "s-1")
	require.NoError(t, err)
	require.Equal(t, "s-1", sale.SaleID)

	lines, err := c.ListSaleLines(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, lines[0].Quantity.Equal(decimal.RequireFromString("3")))

	payments, err := c.ListSalePayments(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, "m-1", payments[0].MethodID)
}

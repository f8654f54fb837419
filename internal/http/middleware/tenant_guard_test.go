package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/noah-isme/pos-terminal/internal/http/middleware"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireTenantMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	middleware.RequireTenant(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRequireTenantPresent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(tenant.WithTenant(req.Context(), "tenant-123"))
	rec := httptest.NewRecorder()
	middleware.RequireTenant(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequireTerminal(t *testing.T) {
	cases := []struct {
		name string
		term *tenant.Terminal
		want int
	}{
		{"missing", nil, http.StatusBadRequest},
		{"no user", &tenant.Terminal{TenantID: "t", TerminalID: "pos-1"}, http.StatusBadRequest},
		{"complete", &tenant.Terminal{TenantID: "t", TerminalID: "pos-1", UserID: "u"}, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tc.term != nil {
			req = req.WithContext(tenant.WithTerminal(req.Context(), *tc.term))
		}
		rec := httptest.NewRecorder()
		middleware.RequireTerminal(okHandler()).ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

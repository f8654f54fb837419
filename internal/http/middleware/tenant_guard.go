package middleware

import (
	"net/http"

	"github.com/noah-isme/pos-terminal/internal/common"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

// RequireTenant ensures tenant identifier exists in request context.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tenant.From(r.Context()); !ok {
			common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant is required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireTerminal ensures the request identifies the terminal and operator
// that the sale belongs to.
func RequireTerminal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		term, ok := tenant.TerminalFrom(r.Context())
		switch {
		case !ok || term.TerminalID == "":
			common.JSONError(w, http.StatusBadRequest, "TERMINAL_REQUIRED", "terminal is required", nil)
			return
		case term.UserID == "":
			common.JSONError(w, http.StatusBadRequest, "USER_REQUIRED", "operator user is required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

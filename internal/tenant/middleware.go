package tenant

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	tenantContextKey   contextKey = "tenant.id"
	terminalContextKey contextKey = "tenant.terminal"
)

// Header names read by the resolver unless overridden.
const (
	DefaultTenantHeader   = "X-Tenant-ID"
	DefaultTerminalHeader = "X-Terminal-ID"
	DefaultBranchHeader   = "X-Branch-ID"
	DefaultUserHeader     = "X-User-ID"
)

// Terminal identifies the tenant, device, branch and operator of a request.
type Terminal struct {
	TenantID   string
	TerminalID string
	BranchID   string
	UserID     string
}

// Resolver reads the terminal identity from request headers, falling back to
// the configured defaults for single-terminal installs.
type Resolver struct {
	TenantHeader   string
	TerminalHeader string
	BranchHeader   string
	UserHeader     string
	Defaults       Terminal
}

// NewResolver returns a resolver using the default header names.
func NewResolver(defaults Terminal) *Resolver {
	return &Resolver{
		TenantHeader:   DefaultTenantHeader,
		TerminalHeader: DefaultTerminalHeader,
		BranchHeader:   DefaultBranchHeader,
		UserHeader:     DefaultUserHeader,
		Defaults: Terminal{
			TenantID:   strings.TrimSpace(defaults.TenantID),
			TerminalID: strings.TrimSpace(defaults.TerminalID),
			BranchID:   strings.TrimSpace(defaults.BranchID),
			UserID:     strings.TrimSpace(defaults.UserID),
		},
	}
}

// Middleware resolves the terminal and injects it into the downstream context.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		term := r.Resolve(req)
		ctx := req.Context()
		if term.TenantID != "" {
			ctx = WithTenant(ctx, term.TenantID)
		}
		ctx = WithTerminal(ctx, term)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// Resolve reads each identity header, using the default when a header is absent.
func (r *Resolver) Resolve(req *http.Request) Terminal {
	if r == nil || req == nil {
		return Terminal{}
	}
	return Terminal{
		TenantID:   headerOr(req, r.TenantHeader, r.Defaults.TenantID),
		TerminalID: headerOr(req, r.TerminalHeader, r.Defaults.TerminalID),
		BranchID:   headerOr(req, r.BranchHeader, r.Defaults.BranchID),
		UserID:     headerOr(req, r.UserHeader, r.Defaults.UserID),
	}
}

func headerOr(req *http.Request, name, def string) string {
	if name != "" {
		if v := strings.TrimSpace(req.Header.Get(name)); v != "" {
			return v
		}
	}
	return def
}

// WithTenant stores the tenant identifier inside the context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, tenantContextKey, tenantID)
}

// FromContext extracts the tenant identifier from the context if available.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	tenantID, ok := ctx.Value(tenantContextKey).(string)
	if !ok {
		return "", false
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", false
	}
	return tenantID, true
}

// WithTerminal stores the resolved terminal identity.
func WithTerminal(ctx context.Context, t Terminal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, terminalContextKey, t)
}

// TerminalFrom returns the terminal identity stored by the resolver.
func TerminalFrom(ctx context.Context) (Terminal, bool) {
	if ctx == nil {
		return Terminal{}, false
	}
	t, ok := ctx.Value(terminalContextKey).(Terminal)
	return t, ok
}

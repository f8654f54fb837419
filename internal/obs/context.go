package obs

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type routeKey struct{}

// WithRoutePattern records the matched route pattern on ctx.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routeKey{}, pattern)
}

// RoutePatternFromContext returns the recorded route pattern, or "".
func RoutePatternFromContext(ctx context.Context) string {
	pattern, _ := ctx.Value(routeKey{}).(string)
	return pattern
}

// routeLabel names r for metrics, spans and logs: the recorded pattern, then
// chi's pattern, then fallback. Raw paths carry sale ids, so metrics never
// fall back to them.
func routeLabel(r *http.Request, fallback string) string {
	if pattern := RoutePatternFromContext(r.Context()); pattern != "" {
		return pattern
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return fallback
}

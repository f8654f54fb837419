package security

import (
	"net/http"
	"strconv"
)

// Headers configures common security headers for HTTP responses.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	// NoStore marks responses uncacheable; sale state changes on every call.
	NoStore bool
}

// Middleware attaches standard security headers to each response.
func (h Headers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Enable {
			next.ServeHTTP(w, r)
			return
		}
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		if h.NoStore {
			headers.Set("Cache-Control", "no-store")
		}
		if h.EnableHSTS && r.TLS != nil {
			maxAge := h.HSTSMaxAge
			if maxAge <= 0 {
				maxAge = 31536000
			}
			value := "max-age=" + strconv.Itoa(maxAge)
			if h.HSTSIncludeSubdomains {
				value += "; includeSubDomains"
			}
			headers.Set("Strict-Transport-Security", value)
		}
		next.ServeHTTP(w, r)
	})
}

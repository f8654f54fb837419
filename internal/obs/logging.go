package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/pos-terminal/internal/tenant"
)

// NewLogger configures a zerolog logger using the provided format and level.
func NewLogger(format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	writer := os.Stdout
	var out io.Writer = writer
	if strings.ToLower(strings.TrimSpace(format)) == "console" || strings.ToLower(strings.TrimSpace(format)) == "text" {
		out = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// RequestLogger records structured HTTP request logs enriched with tracing metadata.
type RequestLogger struct {
	Logger zerolog.Logger
}

// Middleware implements chi middleware for structured request logs.
func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		route := routeLabel(r, r.URL.Path)
		reqID := middleware.GetReqID(r.Context())
		spanCtx := trace.SpanContextFromContext(r.Context())
		traceID := ""
		spanID := ""
		if spanCtx.IsValid() {
			traceID = spanCtx.TraceID().String()
			spanID = spanCtx.SpanID().String()
		}
		term, _ := tenant.TerminalFrom(r.Context())

		level := zerolog.InfoLevel
		if recorder.Status() >= http.StatusInternalServerError {
			level = zerolog.ErrorLevel
		}
		evt := l.Logger.WithLevel(level).
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", recorder.Status()).
			Int64("duration_ms", duration.Milliseconds()).
			Int64("bytes", recorder.BytesWritten()).
			Str("request_id", reqID).
			Str("trace_id", traceID).
			Str("span_id", spanID)
		if term.TenantID != "" {
			evt = evt.Str("tenant_id", term.TenantID)
		}
		if term.TerminalID != "" {
			evt = evt.Str("terminal_id", term.TerminalID)
		}
		if term.UserID != "" {
			evt = evt.Str("user_id", term.UserID)
		}
		if host := strings.TrimSpace(r.Host); host != "" {
			evt = evt.Str("host", host)
		}
		if ip := strings.TrimSpace(r.RemoteAddr); ip != "" {
			evt = evt.Str("remote_addr", ip)
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			evt = evt.Str("user_agent", ua)
		}
		if recorder.Status() >= http.StatusInternalServerError {
			evt.Msg("http_request_failed")
			return
		}
		evt.Msg("http_request")
	})
}

package obs

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics groups Prometheus collectors for HTTP observability.
type HTTPMetrics struct {
	ReqTotal *prometheus.CounterVec
	ReqDur   *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics registers and returns HTTP metrics collectors.
func NewHTTPMetrics(namespace string, buckets []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}
	} else {
		sort.Float64s(buckets)
	}
	return &HTTPMetrics{
		ReqTotal: registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the terminal API.",
		}, "method", "route", "status"),
		ReqDur: registerHistogramVec(reg, prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   buckets,
		}, "method", "route"),
		InFlight: registerGauge(reg, prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}
}

// ParseBucketsCSV converts a comma-separated list of bucket boundaries (milliseconds) into floats.
func ParseBucketsCSV(csv string) []float64 {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			continue
		}
		if v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// DurationMillis converts a duration to milliseconds for metric observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func registerGauge(reg prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	if existing := mustRegisterCollector(reg, g); existing != nil {
		if v, ok := existing.(prometheus.Gauge); ok {
			return v
		}
	}
	return g
}

package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SalesCommittedTotal counts commit outcomes (committed, failed, rejected).
	SalesCommittedTotal *prometheus.CounterVec
	// SaleCommitDuration records commit latency in milliseconds.
	SaleCommitDuration *prometheus.HistogramVec
	// LedgerMutationsTotal counts ledger operations by outcome.
	LedgerMutationsTotal *prometheus.CounterVec
	// SearchSupersededTotal counts picker searches discarded by a newer one.
	SearchSupersededTotal *prometheus.CounterVec
	// EventDeliveriesTotal tracks event delivery outcomes per sink.
	EventDeliveriesTotal *prometheus.CounterVec
	// EventDeliveryLatency records delivery attempt latency in milliseconds.
	EventDeliveryLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SalesCommittedTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_committed_total",
			Help:      "Count of sale commit outcomes.",
		}, "result")
		SaleCommitDuration = registerHistogramVec(reg, prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sale_commit_duration_ms",
			Help:      "Sale commit latency in milliseconds, backend round trips included.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, "result")
		LedgerMutationsTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_mutations_total",
			Help:      "Count of ledger operations by outcome.",
		}, "op", "result")
		SearchSupersededTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_superseded_total",
			Help:      "Picker searches whose results were dropped for a newer query.",
		}, "picker")
		EventDeliveriesTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_deliveries_total",
			Help:      "Count of event delivery outcomes per sink.",
		}, "sink", "result")
		EventDeliveryLatency = registerHistogramVec(reg, prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_delivery_duration_ms",
			Help:      "Latency for event delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, "sink")
	})
}

// ObserveCommit records one commit outcome.
func ObserveCommit(result string, d time.Duration) {
	if SalesCommittedTotal != nil {
		SalesCommittedTotal.WithLabelValues(result).Inc()
	}
	if SaleCommitDuration != nil {
		SaleCommitDuration.WithLabelValues(result).Observe(DurationMillis(d))
	}
}

// CountMutation records a ledger operation; err decides the result label.
func CountMutation(op string, err error) {
	if LedgerMutationsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	LedgerMutationsTotal.WithLabelValues(op, result).Inc()
}

// CountSuperseded records a dropped picker search.
func CountSuperseded(picker string) {
	if SearchSupersededTotal != nil {
		SearchSupersededTotal.WithLabelValues(picker).Inc()
	}
}

// ObserveDelivery records one delivery attempt to sink.
func ObserveDelivery(sink, result string, d time.Duration) {
	if EventDeliveriesTotal != nil {
		EventDeliveriesTotal.WithLabelValues(sink, result).Inc()
	}
	if EventDeliveryLatency != nil {
		EventDeliveryLatency.WithLabelValues(sink).Observe(DurationMillis(d))
	}
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	if existing := mustRegisterCollector(reg, c); existing != nil {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			return v
		}
	}
	return c
}

func registerHistogramVec(reg prometheus.Registerer, opts prometheus.HistogramOpts, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	if existing := mustRegisterCollector(reg, h); existing != nil {
		if v, ok := existing.(*prometheus.HistogramVec); ok {
			return v
		}
	}
	return h
}

// mustRegisterCollector returns the collector already registered under the
// same descriptor, if any.
func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector) prometheus.Collector {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
	return nil
}

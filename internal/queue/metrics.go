package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_queue_depth",
			Help: "Ready tasks per kind",
		},
		[]string{"kind"},
	)
	QueueProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_queue_processed_total",
			Help: "Handled tasks by outcome (success, retry, dead)",
		},
		[]string{"kind", "status"},
	)
	QueueDLQSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_queue_dlq_size",
			Help: "Dead-lettered tasks per kind",
		},
		[]string{"kind"},
	)
	QueueTaskSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pos_queue_task_seconds",
			Help:    "Handler duration per kind",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth, QueueProcessedTotal, QueueDLQSize, QueueTaskSeconds)
}

package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var NotificationsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dimaggr_notifications_received_total",
	Help: "Number of change notifications received, by dimension type",
}, []string{"dim_type"})

var NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dimaggr_notifications_dropped_total",
	Help: "Number of notifications ignored because their dimension type is not registered",
})

var AggregatesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dimaggr_aggregates_written_total",
	Help: "Number of dimension aggregates written",
}, []string{"dim_type"})

var AggregatesDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dimaggr_aggregates_deleted_total",
	Help: "Number of dimension aggregates deleted because the raw record was absent",
}, []string{"dim_type"})

var AggregationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dimaggr_aggregation_failures_total",
	Help: "Number of notifications whose processing returned an error",
}, []string{"dim_type"})

var AggregationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dimaggr_aggregation_duration_seconds",
	Help:    "Time spent aggregating one notification",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
}, []string{"dim_type"})

var QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "dimaggr_queue_backlog",
	Help: "Deliveries waiting in the in-process backlog",
})

var QueueBacklogAge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "dimaggr_queue_backlog_age_seconds",
	Help: "Age of the oldest delivery waiting in the in-process backlog",
})

var QueueWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dimaggr_queue_wait_seconds",
	Help:    "Time from accepting a delivery to a worker picking it up",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
}, []string{"source"})

var WorkerCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "dimaggr_worker_count",
	Help: "Current number of aggregation workers",
})

var DeadLettered = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dimaggr_dead_lettered_total",
	Help: "Number of failed payloads pushed to the dead-letter list",
})

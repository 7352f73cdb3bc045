package submitter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_commands_processed_total",
		Help: "Outbox commands finalized, by outcome.",
	}, []string{"status"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_queue_depth",
		Help: "Outbox rows that are claimable or in flight.",
	})

	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_processing_duration_seconds",
		Help:    "Wall time from claim to finalization of one command.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	workerStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_worker_status",
		Help: "1 while the submitter loop is running.",
	})
)

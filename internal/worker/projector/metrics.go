package projector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_events_processed_total",
		Help: "Chaincode events projected into the read model, by name.",
	}, []string{"event"})

	eventsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projector_events_skipped_total",
		Help: "Events skipped because the checkpoint already covers them.",
	})

	eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projector_events_failed_total",
		Help: "Events whose projection failed and will retry on restart.",
	})

	checkpointBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "projector_checkpoint_block",
		Help: "Block number of the last projected event.",
	})
)

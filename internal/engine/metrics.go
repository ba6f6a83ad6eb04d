package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// batchesTotal counts processed batches by outcome (ok or failed).
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowrt_batches_total",
		Help: "Total number of action batches by outcome",
	}, []string{"outcome"})

	// actionsTotal counts actions by type and outcome (ok, failed or dropped).
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowrt_actions_total",
		Help: "Total number of actions by type and outcome",
	}, []string{"type", "outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowrt_batch_duration_seconds",
		Help:    "Duration of action batch processing",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowrt_queue_length",
		Help: "Number of actions waiting for the next batch",
	})
)

func actionLabel(actionType string) string {
	if actionType == "" {
		return "none"
	}
	return actionType
}

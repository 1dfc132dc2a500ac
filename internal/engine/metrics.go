package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runlet",
		Name:      "executions_total",
		Help:      "Script executions by type, mode, and outcome.",
	}, []string{"type", "mode", "status"})

	executionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "runlet",
		Name:      "execution_duration_seconds",
		Help:      "Wall-clock duration of script executions.",
		Buckets:   prometheus.DefBuckets,
	})

	persistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "runlet",
		Name:      "persistence_write_failures_total",
		Help:      "Reconciliation write-backs that failed and were logged.",
	})
)

// executionMode labels metrics by simulation state.
func executionMode(testMode bool) string {
	if testMode {
		return "test"
	}
	return "live"
}

// executionStatus labels metrics by outcome.
func executionStatus(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

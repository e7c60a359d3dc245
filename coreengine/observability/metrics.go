package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// DISPATCH METRICS
// =============================================================================

var (
	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "empi_dispatches_total",
			Help: "Total number of dispatch executions",
		},
		[]string{"unit", "task_type", "status"}, // status: success, error
	)

	dispatchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "empi_dispatch_duration_seconds",
			Help:    "Dispatch execution duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"unit", "task_type"},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "empi_stage_duration_seconds",
			Help:    "Handler stage duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"unit", "stage"}, // stage: extract, process
	)
)

// =============================================================================
// DELEGATE METRICS
// =============================================================================

var (
	delegateCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "empi_delegate_calls_total",
			Help: "Total number of analysis delegate calls",
		},
		[]string{"delegate", "status"}, // status: success, error
	)

	delegateDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "empi_delegate_duration_seconds",
			Help:    "Analysis delegate call duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"delegate"},
	)
)

// =============================================================================
// DIALOG METRICS
// =============================================================================

var (
	dialogMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "empi_dialog_messages_total",
			Help: "Total number of dialog messages recorded",
		},
		[]string{"role"}, // role: user, assistant
	)

	dialogStoreDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "empi_dialog_store_duration_seconds",
			Help:    "Dialog store write duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"store"}, // store: sqlite, memory
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordDispatch records dispatch execution metrics.
// This should be called after a dispatch completes.
func RecordDispatch(unit string, taskType string, status string, durationMS int) {
	dispatchesTotal.WithLabelValues(unit, taskType, status).Inc()
	dispatchDurationSeconds.WithLabelValues(unit, taskType).Observe(float64(durationMS) / 1000.0)
}

// RecordStage records the duration of one handler stage.
func RecordStage(unit string, stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(unit, stage).Observe(elapsed.Seconds())
}

// RecordDelegateCall records analysis delegate metrics.
// This should be called after a delegate call completes.
func RecordDelegateCall(delegate string, status string, durationMS int) {
	delegateCallsTotal.WithLabelValues(delegate, status).Inc()
	delegateDurationSeconds.WithLabelValues(delegate).Observe(float64(durationMS) / 1000.0)
}

// RecordDialogMessage records a recorded dialog message.
func RecordDialogMessage(role string) {
	dialogMessagesTotal.WithLabelValues(role).Inc()
}

// RecordDialogStoreWrite records a dialog store write.
func RecordDialogStoreWrite(store string, elapsed time.Duration) {
	dialogStoreDurationSeconds.WithLabelValues(store).Observe(elapsed.Seconds())
}

// Package metrics exposes the prometheus collectors for the control
// plane's five components, registered against a dedicated Registry the
// same way the teacher isolates its postgres metric collector from the
// controller-runtime default registry (pkg/management/postgres/webserver/metricserver).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vela"

// Registry is the dedicated prometheus registry for this process;
// callers expose it via promhttp.HandlerFor in the manager's HTTP mux.
var Registry = prometheus.NewRegistry()

var (
	// SnapshotsCaptured counts C1 CaptureSnapshot calls by outcome
	// ("ready", "timeout", "error").
	SnapshotsCaptured = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "captures_total",
		Help:      "Total VolumeSnapshot captures attempted by C1, by outcome.",
	}, []string{"outcome"})

	// CloneOperations counts C1 cross-namespace clone/restore attempts
	// by outcome, including rollback.
	CloneOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "clone_operations_total",
		Help:      "Total cross-namespace clone/restore operations, by outcome.",
	}, []string{"operation", "outcome"})

	// ResizeTransitions counts C3 per-service resize status transitions.
	ResizeTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resize",
		Name:      "transitions_total",
		Help:      "Total per-service resize status transitions, by service and status.",
	}, []string{"service", "status"})

	// ResizeAdmissionRejections counts C3 admission rejections by reason
	// ("contraction", "quota").
	ResizeAdmissionRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resize",
		Name:      "admission_rejections_total",
		Help:      "Total resize requests rejected at admission, by reason.",
	}, []string{"reason"})

	// ResizeTimeouts counts entries the sweeper marks FAILED for
	// exceeding the in-flight deadline.
	ResizeTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resize",
		Name:      "timeouts_total",
		Help:      "Total in-flight resize entries failed by the timeout sweeper, by service.",
	}, []string{"service"})

	// QuotaRejections counts C5 admission rejections by tier and
	// resource.
	QuotaRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quota",
		Name:      "rejections_total",
		Help:      "Total resource requests rejected by quota admission, by tier and resource.",
	}, []string{"tier", "resource"})

	// BackupsTaken counts C4 snapshot captures by trigger ("scheduled",
	// "manual").
	BackupsTaken = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backup",
		Name:      "taken_total",
		Help:      "Total backups captured, by trigger.",
	}, []string{"trigger"})

	// BackupsPruned counts C4 deletions by reason ("retention",
	// "global_cap", "manual").
	BackupsPruned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backup",
		Name:      "pruned_total",
		Help:      "Total backups deleted, by reason.",
	}, []string{"reason"})

	// TickDuration measures wall-clock time for one C3 sweep or C4 tick
	// invocation.
	TickDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Duration of one periodic component tick, by component.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"component"})
)

func init() {
	Registry.MustRegister(
		SnapshotsCaptured,
		CloneOperations,
		ResizeTransitions,
		ResizeAdmissionRejections,
		ResizeTimeouts,
		QuotaRejections,
		BackupsTaken,
		BackupsPruned,
		TickDuration,
	)
}

// Package observability exposes Prometheus metrics for the workflow engine.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all engine metrics, registered on a private registry so
// tests can create instances without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	transitionsTotal       *prometheus.CounterVec
	transitionFailures     *prometheus.CounterVec
	assignmentsTotal       *prometheus.CounterVec
	assignmentFailures     *prometheus.CounterVec
	fanOutDuration         prometheus.Histogram
	fanOutPromotions       prometheus.Counter
	activeLots             prometheus.Gauge
	bundleOperationsTotal  *prometheus.CounterVec
	selfAssignApprovals    *prometheus.CounterVec
	notifyFailures         prometheus.Counter
	progressSnapshotsTotal prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Work item status transitions applied, by target status",
		}, []string{"to"}),

		transitionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_transition_failures_total",
			Help: "Rejected work item transitions, by error kind",
		}, []string{"kind"}),

		assignmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_assignments_total",
			Help: "Assignments committed, by method",
		}, []string{"method"}),

		assignmentFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_assignment_failures_total",
			Help: "Assignment attempts rejected, by error kind",
		}, []string{"kind"}),

		fanOutDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "workflow_fanout_duration_seconds",
			Help:    "Time spent in dependency readiness re-scans",
			Buckets: prometheus.DefBuckets,
		}),

		fanOutPromotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "workflow_fanout_promotions_total",
			Help: "Work items promoted pending to ready by readiness re-scans",
		}),

		activeLots: factory.NewGauge(prometheus.GaugeOpts{
			Name: "workflow_active_lots",
			Help: "Lots currently in production (not archived)",
		}),

		bundleOperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bundle_operations_total",
			Help: "Bundle splits and merges performed",
		}, []string{"op"}),

		selfAssignApprovals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_self_assign_decisions_total",
			Help: "Supervisor decisions on self-assignments",
		}, []string{"decision"}),

		notifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "notify_status_change_failures_total",
			Help: "Status change notifications that failed (fire-and-forget)",
		}),

		progressSnapshotsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "progress_snapshots_total",
			Help: "Lot progress projections computed",
		}),
	}
}

func (m *Metrics) TransitionApplied(to string)  { m.transitionsTotal.WithLabelValues(to).Inc() }
func (m *Metrics) TransitionFailed(kind string) { m.transitionFailures.WithLabelValues(kind).Inc() }

func (m *Metrics) AssignmentCommitted(method string) {
	m.assignmentsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) AssignmentFailed(kind string) { m.assignmentFailures.WithLabelValues(kind).Inc() }

func (m *Metrics) ObserveFanOut(seconds float64, promoted int) {
	m.fanOutDuration.Observe(seconds)
	m.fanOutPromotions.Add(float64(promoted))
}

func (m *Metrics) SetActiveLots(n int)         { m.activeLots.Set(float64(n)) }
func (m *Metrics) BundleOperation(op string)   { m.bundleOperationsTotal.WithLabelValues(op).Inc() }
func (m *Metrics) SelfAssignDecision(d string) { m.selfAssignApprovals.WithLabelValues(d).Inc() }
func (m *Metrics) NotifyFailed()               { m.notifyFailures.Inc() }
func (m *Metrics) ProgressSnapshotComputed()   { m.progressSnapshotsTotal.Inc() }

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

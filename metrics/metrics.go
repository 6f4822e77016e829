// Package metrics provides Prometheus instrumentation for the workflow engines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/campus-engine/generic"
)

// Metrics tracks workflow outcomes, durations and retried sections.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	WorkflowTotal    *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec
	EnrolledStudents prometheus.Counter
	PostedAmount     *prometheus.CounterVec
}

// New registers all campus metrics on reg. Pass prometheus.NewRegistry()
// in tests so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WorkflowTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campus_workflow_total",
			Help: "Workflow invocations by workflow and outcome kind",
		}, []string{"workflow", "outcome"}),
		WorkflowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campus_workflow_duration_seconds",
			Help:    "Duration of workflow invocations including the atomic section",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"workflow"}),
		EnrolledStudents: factory.NewCounter(prometheus.CounterOpts{
			Name: "campus_enrolled_students_total",
			Help: "Students created by the enrollment workflow",
		}),
		PostedAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campus_ledger_posted_amount_total",
			Help: "Sum of posted ledger amounts by transaction type",
		}, []string{"type"}),
	}
}

// Observe records one workflow invocation. Call with time.Now() taken at
// the start of the operation.
func (m *Metrics) Observe(workflow string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.WorkflowTotal.WithLabelValues(workflow, generic.KindOf(err).String()).Inc()
	m.WorkflowDuration.WithLabelValues(workflow).Observe(time.Since(start).Seconds())
}

// AddEnrolled records newly created students.
func (m *Metrics) AddEnrolled(n int) {
	if m == nil {
		return
	}
	m.EnrolledStudents.Add(float64(n))
}

// AddPosted records a posted ledger amount.
func (m *Metrics) AddPosted(txType string, amount generic.Money) {
	if m == nil {
		return
	}
	f, _ := amount.Value.Float64()
	m.PostedAmount.WithLabelValues(txType).Add(f)
}

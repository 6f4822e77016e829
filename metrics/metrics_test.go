package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/metrics"
)

func TestObserve_LabelsOutcomeByKind(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.Observe("ledger.post", time.Now(), nil)
	m.Observe("ledger.post", time.Now(), &generic.InsufficientFundsError{})
	m.Observe("ledger.post", time.Now(), errors.New("disk on fire"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowTotal.WithLabelValues("ledger.post", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowTotal.WithLabelValues("ledger.post", "insufficient_funds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowTotal.WithLabelValues("ledger.post", "internal")))
}

func TestNilMetrics_IsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Observe("x", time.Now(), nil)
		m.AddEnrolled(3)
		m.AddPosted("Income", generic.NewMoney(10))
	})
}

func TestAddPosted(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.AddPosted("Income", generic.NewMoney(100))
	m.AddPosted("Income", generic.NewMoney(50))

	assert.Equal(t, 150.0, testutil.ToFloat64(m.PostedAmount.WithLabelValues("Income")))
}

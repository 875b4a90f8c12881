package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("workflow:rfq_expire").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("workflow:rfq_expire").End(boom), boom)
	m.AddProcessed("workflow:rfq_expire", 3)
	m.AddProcessed("workflow:rfq_expire", 0)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("workflow:rfq_expire", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("workflow:rfq_expire")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.processed.WithLabelValues("workflow:rfq_expire")))
	require.Positive(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("workflow:rfq_expire")))
}

func TestNilMetricsTracker(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("x").End(boom), boom)
	m.AddProcessed("x", 1)
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserversUpdateCollectors(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.ObserveComparison("embedding", "computed", 0.2)
	m.ObserveComparison("embedding", "cached", 0)
	m.ObserveInsertion("inserted", 5)
	m.ObserveInsertion("skipped", 0)
	m.ObserveInvalidation(3)
	m.ObserveRun("completed")

	if got := testutil.ToFloat64(m.Comparisons.WithLabelValues("embedding", "computed")); got != 1 {
		t.Fatalf("computed comparisons = %v", got)
	}
	if got := testutil.ToFloat64(m.Invalidations); got != 3 {
		t.Fatalf("invalidations = %v", got)
	}
	if got := testutil.CollectAndCount(m.Probes); got != 1 {
		t.Fatalf("probe histogram series = %d", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveComparison("x", "computed", 1)
	m.ObserveRetry("x")
	m.ObserveInsertion("inserted", 1)
	m.ObserveInvalidation(1)
	m.ObserveRun("failed")
}

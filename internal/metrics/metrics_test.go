package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.EventsCaptured("segment", 3)
	m.EventsCaptured("segment", 2)
	m.RequestDiscarded("domain")
	m.KeysReaped("stale", 4)
	m.StorageWriteFailed()

	if got := testutil.ToFloat64(m.captured.WithLabelValues("segment")); got != 5 {
		t.Errorf("captured = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.discarded.WithLabelValues("domain")); got != 1 {
		t.Errorf("discarded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.reaped.WithLabelValues("stale")); got != 4 {
		t.Errorf("reaped = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.writeFailures); got != 1 {
		t.Errorf("write failures = %v, want 1", got)
	}
}

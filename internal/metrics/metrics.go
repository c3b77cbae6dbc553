// Package metrics exposes the engine's prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "beaconscope"

// Metrics implements the capture and reaper hooks on top of prometheus.
type Metrics struct {
	captured       *prometheus.CounterVec
	discarded      *prometheus.CounterVec
	writeFailures  prometheus.Counter
	reaped         *prometheus.CounterVec
	storageBytes   prometheus.Gauge
	reloadsCounted prometheus.Counter
}

// New registers the counters with reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: provider (segment, rudderstack, hightouch, june, unknown)
		captured: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "events_total",
			Help:      "Events stored, by analytics provider",
		}, []string{"provider"}),

		// Labels: stage (not_ready, method, endpoint, domain, empty_body, decode, parse, validate, duplicate)
		discarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "discarded_total",
			Help:      "Intercepted requests discarded, by pipeline stage",
		}, []string{"stage"}),

		writeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "write_failures_total",
			Help:      "Failed writes to the durable store",
		}),

		storageBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "used_bytes",
			Help:      "Bytes used in the durable store at the last size report",
		}),

		reloadsCounted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "navigation",
			Name:      "reloads_total",
			Help:      "Detected page reloads",
		}),

		// Labels: sweep (orphan, stale)
		reaped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "deleted_keys_total",
			Help:      "Keys deleted by the reaper, by sweep",
		}, []string{"sweep"}),
	}
}

func (m *Metrics) EventsCaptured(provider string, n int) {
	m.captured.WithLabelValues(provider).Add(float64(n))
}

func (m *Metrics) RequestDiscarded(stage string) {
	m.discarded.WithLabelValues(stage).Inc()
}

func (m *Metrics) StorageWriteFailed() {
	m.writeFailures.Inc()
}

func (m *Metrics) StorageUsage(bytes int64) {
	m.storageBytes.Set(float64(bytes))
}

func (m *Metrics) ReloadDetected() {
	m.reloadsCounted.Inc()
}

func (m *Metrics) KeysReaped(sweep string, n int) {
	m.reaped.WithLabelValues(sweep).Add(float64(n))
}

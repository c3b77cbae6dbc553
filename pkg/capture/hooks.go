package capture

import "github.com/sw33tLie/beaconscope/pkg/storage"

// Logger is the logging surface the engine writes to. logrus entries
// satisfy it.
type Logger = storage.Logger

// Metrics receives pipeline counters. internal/metrics provides the
// prometheus implementation.
type Metrics interface {
	EventsCaptured(provider string, n int)
	RequestDiscarded(stage string)
	StorageWriteFailed()
	StorageUsage(bytes int64)
	ReloadDetected()
}

type nopMetrics struct{}

func (nopMetrics) EventsCaptured(string, int) {}
func (nopMetrics) RequestDiscarded(string)    {}
func (nopMetrics) StorageWriteFailed()        {}
func (nopMetrics) StorageUsage(int64)         {}
func (nopMetrics) ReloadDetected()            {}

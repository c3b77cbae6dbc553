package storage

import (
	"context"
	"errors"
)

// DefaultQuotaBytes mirrors the browser extension storage budget.
const DefaultQuotaBytes int64 = 10 * 1024 * 1024

var (
	ErrNotFound      = errors.New("key not found")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Store is the durable key-value contract the engine mirrors into. Every
// call may fail; callers on the capture path treat failures as best-effort.
type Store interface {
	// GetItem returns ErrNotFound when the key is absent.
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	// RemoveItem is a no-op for absent keys.
	RemoveItem(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Sizer is implemented by stores that can report per-key byte usage without
// reading every value back.
type Sizer interface {
	Sizes(ctx context.Context) (map[string]int64, error)
}

// Options are shared by all backends.
type Options struct {
	// QuotaBytes caps the sum of key and value lengths. Zero disables the check.
	QuotaBytes int64
}

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}

package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sw33tLie/beaconscope/pkg/storage"
	"github.com/sw33tLie/beaconscope/pkg/tablog"
)

// mirror persists tab logs off the capture path. Tabs are marked dirty and
// a single writer goroutine stores the full current snapshot of each, so
// the last write always reflects the latest in-memory state.
type mirror struct {
	store    storage.Store
	registry *tablog.Registry
	log      Logger
	metrics  Metrics
	quota    int64

	sizeReport rate.Sometimes

	mu    sync.Mutex
	dirty map[int]struct{}

	wake     chan struct{}
	barriers chan chan struct{}
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

func newMirror(store storage.Store, registry *tablog.Registry, log Logger, metrics Metrics, quota int64) *mirror {
	return &mirror{
		store:      store,
		registry:   registry,
		log:        log,
		metrics:    metrics,
		quota:      quota,
		sizeReport: rate.Sometimes{Interval: 30 * time.Second},
		dirty:      make(map[int]struct{}),
		wake:       make(chan struct{}, 1),
		barriers:   make(chan chan struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (m *mirror) start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.run()
}

func (m *mirror) markDirty(tabID int) {
	m.mu.Lock()
	m.dirty[tabID] = struct{}{}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mirror) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			m.drain()
			return
		case <-m.wake:
			m.drain()
		case ch := <-m.barriers:
			m.drain()
			close(ch)
		}
	}
}

// flush blocks until everything marked dirty before the call is written.
func (m *mirror) flush(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		m.drain()
		return nil
	}

	ch := make(chan struct{})
	select {
	case m.barriers <- ch:
	case <-m.done:
		return errors.New("mirror stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mirror) close() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		m.drain()
		return
	}
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
}

func (m *mirror) drain() {
	for {
		m.mu.Lock()
		batch := m.dirty
		m.dirty = make(map[int]struct{})
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for tabID := range batch {
			m.writeTab(context.Background(), tabID)
		}
	}
}

func (m *mirror) writeTab(ctx context.Context, tabID int) {
	l, ok := m.registry.Get(tabID)
	if !ok {
		// closed or reaped since it was marked
		return
	}
	events, reloads, lastUpdated := l.Snapshot()
	ts := storage.Tab(m.store, tabID)

	var errs []error
	if len(events) == 0 {
		errs = append(errs, ts.Remove(ctx, storage.KeyEvents))
	} else {
		errs = append(errs, ts.SetJSON(ctx, storage.KeyEvents, events))
	}
	if len(reloads) == 0 {
		errs = append(errs, ts.Remove(ctx, storage.KeyReloads))
	} else {
		errs = append(errs, ts.SetJSON(ctx, storage.KeyReloads, reloads))
	}
	errs = append(errs, ts.SetJSON(ctx, storage.KeyMeta, storage.TabMeta{LastUpdated: lastUpdated}))

	if err := errors.Join(errs...); err != nil {
		m.log.Errorf("Failed to persist tab %d: %v", tabID, err)
		m.metrics.StorageWriteFailed()
		m.sizeReport.Do(func() { m.reportSize(ctx) })
	}
}

func (m *mirror) reportSize(ctx context.Context) {
	snap, err := storage.Snapshot(ctx, m.store, m.quota)
	if err != nil {
		m.log.Warnf("Failed to compute storage usage: %v", err)
		return
	}
	m.metrics.StorageUsage(snap.TotalBytes)
	storage.Report(m.log, snap, 5)
}

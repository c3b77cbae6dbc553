// Package reaper deletes storage that belongs to tabs which no longer exist.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sw33tLie/beaconscope/pkg/storage"
)

const (
	DefaultInterval  = time.Hour
	DefaultRetention = 24 * time.Hour

	SweepOrphan = "orphan"
	SweepStale  = "stale"
)

// Capture data outlives its tab for the retention window so a reopened
// session can still be inspected. Everything else under a closed tab is
// an orphan.
var retained = map[string]bool{
	storage.KeyEvents:  true,
	storage.KeyReloads: true,
	storage.KeyURL:     true,
	storage.KeyMeta:    true,
}

// TabLister enumerates the tabs the host has open.
type TabLister interface {
	OpenTabs(ctx context.Context) ([]int, error)
}

// Forgetter drops in-memory state for a tab.
type Forgetter interface {
	Forget(tabID int)
}

// Metrics counts deleted keys per sweep.
type Metrics interface {
	KeysReaped(sweep string, n int)
}

// Config holds everything the reaper needs.
type Config struct {
	Store     storage.Store
	Tabs      TabLister
	Engine    Forgetter      // optional
	Interval  time.Duration  // defaults to DefaultInterval if <= 0
	Retention time.Duration  // defaults to DefaultRetention if <= 0
	Log       storage.Logger // optional; nil = no logging
	Metrics   Metrics        // optional
	Now       func() time.Time
}

// Result holds the outcome of one sweep.
type Result struct {
	// Skipped is set when the open tab list was unavailable.
	Skipped    bool
	OrphanKeys []string
	StaleTabs  []int
	StaleKeys  []string
	Errors     []error // non-fatal, one per key that could not be deleted
}

type Reaper struct {
	cfg Config
}

func New(cfg Config) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Log == nil {
		cfg.Log = storage.NopLogger
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reaper{cfg: cfg}
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.cfg.Log.Errorf("Reaper sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs the orphan and stale sweeps once. Open tabs are never touched.
func (r *Reaper) Sweep(ctx context.Context) (*Result, error) {
	log := r.cfg.Log
	result := &Result{}

	openIDs, err := r.cfg.Tabs.OpenTabs(ctx)
	if err != nil {
		// Safety check: without a trustworthy tab list every tab would look
		// closed, so do nothing.
		log.Warnf("Skipping sweep, open tabs unavailable: %v", err)
		result.Skipped = true
		return result, nil
	}
	open := make(map[int]bool, len(openIDs))
	for _, id := range openIDs {
		open[id] = true
	}

	keys, err := r.cfg.Store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	closed := make(map[int][]string)
	for _, key := range keys {
		tabID, _, ok := storage.ParseTabKey(key)
		if !ok || open[tabID] {
			continue
		}
		closed[tabID] = append(closed[tabID], key)
	}

	tabIDs := make([]int, 0, len(closed))
	for id := range closed {
		tabIDs = append(tabIDs, id)
	}
	sort.Ints(tabIDs)

	for _, tabID := range tabIDs {
		if r.isStale(ctx, tabID) {
			if r.cfg.Engine != nil {
				r.cfg.Engine.Forget(tabID)
			}
			result.StaleTabs = append(result.StaleTabs, tabID)
			result.StaleKeys = append(result.StaleKeys, r.remove(ctx, closed[tabID], result)...)
			continue
		}
		var orphans []string
		for _, key := range closed[tabID] {
			if _, name, _ := storage.ParseTabKey(key); !retained[name] {
				orphans = append(orphans, key)
			}
		}
		result.OrphanKeys = append(result.OrphanKeys, r.remove(ctx, orphans, result)...)
	}

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.KeysReaped(SweepOrphan, len(result.OrphanKeys))
		r.cfg.Metrics.KeysReaped(SweepStale, len(result.StaleKeys))
	}
	if len(result.OrphanKeys)+len(result.StaleKeys) > 0 {
		log.Infof("Reaped %d orphan keys and %d tabs (%d keys)", len(result.OrphanKeys), len(result.StaleTabs), len(result.StaleKeys))
	}
	return result, nil
}

// isStale treats a tab without a readable lastUpdated marker as stale.
func (r *Reaper) isStale(ctx context.Context, tabID int) bool {
	var meta storage.TabMeta
	err := storage.Tab(r.cfg.Store, tabID).GetJSON(ctx, storage.KeyMeta, &meta)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.cfg.Log.Debugf("Unreadable meta for tab %d, treating as stale: %v", tabID, err)
		}
		return true
	}
	if meta.LastUpdated.IsZero() {
		return true
	}
	return r.cfg.Now().Sub(meta.LastUpdated) > r.cfg.Retention
}

// remove deletes keys best-effort and returns the ones that were deleted.
func (r *Reaper) remove(ctx context.Context, keys []string, result *Result) []string {
	deleted := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := r.cfg.Store.RemoveItem(ctx, key); err != nil {
			r.cfg.Log.Warnf("Failed to delete %s: %v", key, err)
			result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		deleted = append(deleted, key)
	}
	return deleted
}

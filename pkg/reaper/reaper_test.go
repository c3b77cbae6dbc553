package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sw33tLie/beaconscope/pkg/storage"
	"github.com/sw33tLie/beaconscope/pkg/tabs"
)

type staticTabs struct {
	ids []int
	err error
}

func (s staticTabs) OpenTabs(context.Context) ([]int, error) { return s.ids, s.err }

type forgetter struct{ forgotten []int }

func (f *forgetter) Forget(tabID int) { f.forgotten = append(f.forgotten, tabID) }

// flakyStore refuses to delete one key.
type flakyStore struct {
	*storage.Memory
	failKey string
}

func (f flakyStore) RemoveItem(ctx context.Context, key string) error {
	if key == f.failKey {
		return errors.New("io error")
	}
	return f.Memory.RemoveItem(ctx, key)
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seedTab(t *testing.T, s storage.Store, tabID int, lastUpdated time.Time) {
	t.Helper()
	ctx := context.Background()
	ts := storage.Tab(s, tabID)
	for _, name := range []string{storage.KeyEvents, storage.KeyReloads, storage.KeyURL, storage.KeySelectedEvent} {
		if err := ts.Set(ctx, name, `"x"`); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if !lastUpdated.IsZero() {
		if err := ts.SetJSON(ctx, storage.KeyMeta, storage.TabMeta{LastUpdated: lastUpdated}); err != nil {
			t.Fatalf("seed meta: %v", err)
		}
	}
}

func exists(s storage.Store, tabID int, name string) bool {
	_, err := storage.Tab(s, tabID).Get(context.Background(), name)
	return err == nil
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(storage.Options{})
	_ = store.SetItem(ctx, storage.AllowedDomainsKey, "[]")

	seedTab(t, store, 1, now.Add(-48*time.Hour)) // open, old
	seedTab(t, store, 2, now.Add(-time.Hour))    // closed, recent
	seedTab(t, store, 3, now.Add(-25*time.Hour)) // closed, stale
	seedTab(t, store, 4, time.Time{})            // closed, no meta

	f := &forgetter{}
	r := New(Config{Store: store, Tabs: staticTabs{ids: []int{1}}, Engine: f, Now: func() time.Time { return now }})
	res, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	for _, name := range []string{storage.KeyEvents, storage.KeySelectedEvent, storage.KeyMeta} {
		if !exists(store, 1, name) {
			t.Errorf("open tab key %s must be untouched", name)
		}
	}

	if exists(store, 2, storage.KeySelectedEvent) {
		t.Error("expected orphan UI key of closed tab 2 to be deleted")
	}
	if !exists(store, 2, storage.KeyEvents) || !exists(store, 2, storage.KeyURL) {
		t.Error("expected recent capture data of tab 2 to be retained")
	}

	for _, id := range []int{3, 4} {
		for _, name := range []string{storage.KeyEvents, storage.KeyReloads, storage.KeyURL, storage.KeyMeta, storage.KeySelectedEvent} {
			if exists(store, id, name) {
				t.Errorf("expected %s of stale tab %d to be deleted", name, id)
			}
		}
	}
	if len(res.StaleTabs) != 2 || len(f.forgotten) != 2 {
		t.Fatalf("expected tabs 3 and 4 reaped and forgotten, got %v %v", res.StaleTabs, f.forgotten)
	}
	if len(res.OrphanKeys) != 1 {
		t.Fatalf("expected 1 orphan key, got %v", res.OrphanKeys)
	}
	if _, err := store.GetItem(ctx, storage.AllowedDomainsKey); err != nil {
		t.Fatal("non tab-scoped keys must never be touched")
	}

	// once the retention window passes, tab 2 goes too
	r.cfg.Now = func() time.Time { return now.Add(24 * time.Hour) }
	if _, err := r.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if exists(store, 2, storage.KeyEvents) {
		t.Error("expected tab 2 to be reaped after the retention window")
	}
}

func TestSweepSkippedWithoutTabList(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(storage.Options{})
	seedTab(t, store, 5, time.Time{})

	r := New(Config{Store: store, Tabs: tabs.NewTracker()})
	res, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !res.Skipped {
		t.Fatal("expected the sweep to be skipped")
	}
	if !exists(store, 5, storage.KeyEvents) {
		t.Fatal("nothing may be deleted while the tab list is unknown")
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(storage.Options{})
	store := flakyStore{Memory: mem, failKey: storage.TabKey(6, storage.KeyEvents)}
	seedTab(t, store, 6, time.Time{})

	r := New(Config{Store: store, Tabs: staticTabs{}})
	res, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected one key failure, got %v", res.Errors)
	}
	if exists(store, 6, storage.KeyURL) || !exists(store, 6, storage.KeyEvents) {
		t.Fatal("expected every other key to be deleted")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := storage.NewMemory(storage.Options{})
	seedTab(t, store, 7, time.Time{})

	done := make(chan error)
	r := New(Config{Store: store, Tabs: staticTabs{}, Interval: time.Hour})
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for exists(store, 7, storage.KeyEvents) {
		select {
		case <-deadline:
			t.Fatal("expected the startup sweep to run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

package navigation

import (
	"context"
	"testing"
	"time"

	"github.com/sw33tLie/beaconscope/pkg/storage"
)

type recorder struct {
	reloads map[int]int
}

func (r *recorder) RecordReload(tabID int, _ time.Time) {
	r.reloads[tabID]++
}

func newTestDetector(store storage.Store) (*Detector, *recorder) {
	rec := &recorder{reloads: make(map[int]int)}
	return NewDetector(store, rec, nil), rec
}

func TestReloadDetection(t *testing.T) {
	tests := []struct {
		name string
		next string
		want Classification
	}{
		{"same url", "https://a.com/page", Reload},
		{"trailing slash", "https://a.com/page/", Reload},
		{"other page", "https://a.com/other", Navigation},
		{"query differs", "https://a.com/page?x=1", Navigation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			d, rec := newTestDetector(storage.NewMemory(storage.Options{}))

			if got := d.Observe(ctx, 1, "https://a.com/page", StatusLoading); got != Navigation {
				t.Fatalf("first load: got %q", got)
			}
			if got := d.Observe(ctx, 1, tt.next, StatusLoading); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			wantReloads := 0
			if tt.want == Reload {
				wantReloads = 1
			}
			if rec.reloads[1] != wantReloads {
				t.Fatalf("expected %d reloads recorded, got %d", wantReloads, rec.reloads[1])
			}
		})
	}
}

func TestNonLoadingStatusOnlyUpdatesURL(t *testing.T) {
	ctx := context.Background()
	d, rec := newTestDetector(storage.NewMemory(storage.Options{}))

	d.Observe(ctx, 1, "https://a.com/page", StatusLoading)
	if got := d.Observe(ctx, 1, "https://a.com/page", "complete"); got != SamePage {
		t.Fatalf("expected same_page, got %q", got)
	}
	if rec.reloads[1] != 0 {
		t.Fatal("complete status must not record a reload")
	}
}

func TestLastURLSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(storage.Options{})
	d, _ := newTestDetector(store)
	d.Observe(ctx, 5, "https://a.com/page/", StatusLoading)

	// new process, same durable store
	d2, rec := newTestDetector(store)
	if got := d2.Observe(ctx, 5, "https://a.com/page", StatusLoading); got != Reload {
		t.Fatalf("expected reload after restart, got %q", got)
	}
	if rec.reloads[5] != 1 {
		t.Fatal("expected reload to be recorded")
	}
	// the raw URL is stored, not the normalized one
	if u, _ := d2.LastURL(ctx, 5); u != "https://a.com/page" {
		t.Fatalf("unexpected last url %q", u)
	}
}

func TestTabsAreIndependent(t *testing.T) {
	ctx := context.Background()
	d, rec := newTestDetector(storage.NewMemory(storage.Options{}))
	d.Observe(ctx, 1, "https://a.com/page", StatusLoading)
	if got := d.Observe(ctx, 2, "https://a.com/page", StatusLoading); got != Navigation {
		t.Fatalf("another tab's url must not count, got %q", got)
	}
	if rec.reloads[2] != 0 {
		t.Fatal("unexpected reload")
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"https://a.com/":           "https://a.com/",
		"https://a.com/page/":      "https://a.com/page",
		"https://a.com/page/?q=1":  "https://a.com/page?q=1",
		"https://a.com/page/#frag": "https://a.com/page#frag",
	}
	for in, want := range tests {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q; want %q", in, got, want)
		}
	}
}

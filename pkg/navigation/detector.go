// Package navigation classifies tab URL transitions and records reloads.
package navigation

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sw33tLie/beaconscope/pkg/storage"
)

type Classification string

const (
	SamePage   Classification = "same_page"
	Reload     Classification = "reload"
	Navigation Classification = "navigation"
)

// StatusLoading is the lifecycle status of a page about to (re)load.
const StatusLoading = "loading"

// ReloadRecorder receives detected reloads.
type ReloadRecorder interface {
	RecordReload(tabID int, ts time.Time)
}

// Detector tracks the last-seen URL of every tab in memory, mirrored under
// tab_<id>_url so it survives restarts.
//
// A URL that matches after normalization is a reload even when a client-side
// router changed history without reloading the document.
type Detector struct {
	store   storage.Store
	reloads ReloadRecorder
	log     storage.Logger
	now     func() time.Time

	mu   sync.Mutex
	last map[int]string
}

func NewDetector(store storage.Store, reloads ReloadRecorder, log storage.Logger) *Detector {
	if log == nil {
		log = storage.NopLogger
	}
	return &Detector{
		store:   store,
		reloads: reloads,
		log:     log,
		now:     time.Now,
		last:    make(map[int]string),
	}
}

// Observe handles one tab lifecycle notification.
func (d *Detector) Observe(ctx context.Context, tabID int, rawURL, status string) Classification {
	if rawURL == "" {
		return SamePage
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, _ := d.lastLocked(ctx, tabID)
	same := prev != "" && NormalizeURL(prev) == NormalizeURL(rawURL)

	var class Classification
	switch {
	case status == StatusLoading && same:
		class = Reload
		if d.reloads != nil {
			d.reloads.RecordReload(tabID, d.now())
		}
	case same:
		class = SamePage
	default:
		class = Navigation
	}

	if rawURL != prev {
		d.last[tabID] = rawURL
		if err := storage.Tab(d.store, tabID).Set(ctx, storage.KeyURL, rawURL); err != nil {
			d.log.Errorf("Failed to persist url for tab %d: %v", tabID, err)
		}
	}
	return class
}

// LastURL returns the last URL seen for tabID.
func (d *Detector) LastURL(ctx context.Context, tabID int) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastLocked(ctx, tabID)
}

func (d *Detector) lastLocked(ctx context.Context, tabID int) (string, bool) {
	if u, ok := d.last[tabID]; ok {
		return u, true
	}
	u, err := storage.Tab(d.store, tabID).Get(ctx, storage.KeyURL)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			d.log.Warnf("Failed to read url for tab %d: %v", tabID, err)
		}
		return "", false
	}
	d.last[tabID] = u
	return u, true
}

// Forget drops the in-memory state of a closed tab. The persisted URL is
// left for the reaper.
func (d *Detector) Forget(tabID int) {
	d.mu.Lock()
	delete(d.last, tabID)
	d.mu.Unlock()
}

// NormalizeURL removes one trailing slash from a non-root path, keeping the
// query and fragment.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		if u.RawPath != "" {
			u.RawPath = strings.TrimSuffix(u.RawPath, "/")
		}
	}
	return u.String()
}

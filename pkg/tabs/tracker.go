// Package tabs keeps the host's view of which browser tabs are open.
package tabs

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotSynced means the host has not reported its tab list since start, so
// nothing is known about which tabs are open.
var ErrNotSynced = errors.New("tab list not synced")

// ErrUnknownTab is returned by TabURL for tabs the tracker has not seen.
var ErrUnknownTab = errors.New("unknown tab")

// Tracker is fed by host lifecycle notifications.
type Tracker struct {
	mu     sync.RWMutex
	open   map[int]string
	synced bool
}

func NewTracker() *Tracker {
	return &Tracker{open: make(map[int]string)}
}

func (t *Tracker) Opened(tabID int, url string) {
	t.mu.Lock()
	t.open[tabID] = url
	t.mu.Unlock()
}

// Updated records a tab's current URL. An empty url keeps the previous one.
func (t *Tracker) Updated(tabID int, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if url == "" {
		if _, ok := t.open[tabID]; !ok {
			t.open[tabID] = ""
		}
		return
	}
	t.open[tabID] = url
}

func (t *Tracker) Closed(tabID int) {
	t.mu.Lock()
	delete(t.open, tabID)
	t.mu.Unlock()
}

// Sync replaces the open set with the host's full tab list. URLs already
// known for tabs that stay open are kept.
func (t *Tracker) Sync(tabIDs []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make(map[int]string, len(tabIDs))
	for _, id := range tabIDs {
		next[id] = t.open[id]
	}
	t.open = next
	t.synced = true
}

// OpenTabs lists open tab ids in ascending order.
func (t *Tracker) OpenTabs(_ context.Context) ([]int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.synced {
		return nil, ErrNotSynced
	}
	ids := make([]int, 0, len(t.open))
	for id := range t.open {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (t *Tracker) TabURL(_ context.Context, tabID int) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.open[tabID]
	if !ok {
		return "", ErrUnknownTab
	}
	return u, nil
}

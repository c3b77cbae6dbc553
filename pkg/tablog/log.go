// Package tablog holds the per-tab, size-bounded, deduplicated event logs.
package tablog

import (
	"sync"
	"time"

	"github.com/sw33tLie/beaconscope/pkg/event"
)

const (
	DefaultMaxEvents = 500
	MinMaxEvents     = 1
	MaxMaxEvents     = 10000

	// MaxReloads bounds the reload log; the oldest timestamps go first.
	MaxReloads = 100
)

// Log is one tab's events, newest first. All methods are safe for
// concurrent use and never block on I/O.
type Log struct {
	tabID int
	limit func() int
	now   func() time.Time

	mu          sync.RWMutex
	events      []event.CapturedEvent
	reloads     []time.Time
	lastUpdated time.Time
}

// NewLog creates an empty log. limit is consulted on every mutation so a
// lowered ceiling applies immediately; nil means DefaultMaxEvents.
func NewLog(tabID int, limit func() int) *Log {
	return &Log{tabID: tabID, limit: limit, now: time.Now}
}

func (l *Log) TabID() int { return l.tabID }

func (l *Log) ceiling() int {
	if l.limit == nil {
		return DefaultMaxEvents
	}
	return ClampMaxEvents(l.limit())
}

// ClampMaxEvents forces n into the accepted range.
func ClampMaxEvents(n int) int {
	if n < MinMaxEvents {
		return MinMaxEvents
	}
	if n > MaxMaxEvents {
		return MaxMaxEvents
	}
	return n
}

// Add prepends ev unless an entry with the same ID or MessageID is already
// held. It reports whether ev was added.
func (l *Log) Add(ev event.CapturedEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.events {
		if e.ID == ev.ID || (ev.MessageID != "" && e.MessageID == ev.MessageID) {
			return false
		}
	}
	ceil := l.ceiling()
	next := make([]event.CapturedEvent, 0, min(len(l.events)+1, ceil))
	next = append(next, ev)
	for _, e := range l.events {
		if len(next) == ceil {
			break
		}
		next = append(next, e)
	}
	l.events = next
	l.lastUpdated = l.now()
	return true
}

// Restore replaces the log with previously persisted state. Entries are
// deduplicated and trimmed like live additions. lastUpdated is kept as
// stored; a zero value stays zero.
func (l *Log) Restore(events []event.CapturedEvent, reloads []time.Time, lastUpdated time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ceil := l.ceiling()
	seenID := make(map[string]bool, len(events))
	seenMsg := make(map[string]bool, len(events))
	out := make([]event.CapturedEvent, 0, min(len(events), ceil))
	for _, e := range events {
		if len(out) == ceil {
			break
		}
		if seenID[e.ID] || (e.MessageID != "" && seenMsg[e.MessageID]) {
			continue
		}
		seenID[e.ID] = true
		seenMsg[e.MessageID] = true
		out = append(out, e)
	}
	l.events = out
	l.reloads = lastN(reloads, MaxReloads)
	l.lastUpdated = lastUpdated
}

// Clear empties the events and the reload log.
func (l *Log) Clear() {
	l.mu.Lock()
	l.events = nil
	l.reloads = nil
	l.lastUpdated = l.now()
	l.mu.Unlock()
}

// AddReload records a detected reload.
func (l *Log) AddReload(ts time.Time) {
	l.mu.Lock()
	l.reloads = lastN(append(l.reloads, ts), MaxReloads)
	l.lastUpdated = l.now()
	l.mu.Unlock()
}

// Trim enforces the current ceiling and reports whether entries were dropped.
// It does not count as activity, so lastUpdated is left alone.
func (l *Log) Trim() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ceil := l.ceiling()
	if len(l.events) <= ceil {
		return false
	}
	l.events = append([]event.CapturedEvent(nil), l.events[:ceil]...)
	return true
}

// Events returns a copy of the log, newest first.
func (l *Log) Events() []event.CapturedEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]event.CapturedEvent{}, l.events...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Reloads returns a copy of the reload timestamps, oldest first.
func (l *Log) Reloads() []time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]time.Time{}, l.reloads...)
}

func (l *Log) LastUpdated() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastUpdated
}

// Snapshot returns events, reloads and lastUpdated read under one lock.
func (l *Log) Snapshot() ([]event.CapturedEvent, []time.Time, time.Time) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]event.CapturedEvent{}, l.events...), append([]time.Time{}, l.reloads...), l.lastUpdated
}

func lastN(ts []time.Time, n int) []time.Time {
	if len(ts) <= n {
		return ts
	}
	return append([]time.Time(nil), ts[len(ts)-n:]...)
}

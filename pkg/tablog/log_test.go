package tablog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sw33tLie/beaconscope/pkg/event"
)

func ev(n int) event.CapturedEvent {
	return event.CapturedEvent{
		ID:        fmt.Sprintf("msg-%d-1", n),
		MessageID: fmt.Sprintf("msg-%d", n),
		Type:      event.Track,
	}
}

func TestAddDeduplicates(t *testing.T) {
	l := NewLog(1, nil)
	if !l.Add(ev(1)) {
		t.Fatal("expected first add to succeed")
	}

	sameMessage := ev(1)
	sameMessage.ID = "msg-1-2"
	if l.Add(sameMessage) {
		t.Fatal("expected duplicate messageId to be rejected")
	}
	sameID := ev(2)
	sameID.ID = "msg-1-1"
	if l.Add(sameID) {
		t.Fatal("expected duplicate id to be rejected")
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 event, got %d", l.Len())
	}
}

func TestLogNeverExceedsCap(t *testing.T) {
	limit := 7
	l := NewLog(1, func() int { return limit })
	for i := 0; i < 50; i++ {
		l.Add(ev(i))
		if l.Len() > limit {
			t.Fatalf("length %d exceeds cap %d after add %d", l.Len(), limit, i)
		}
	}
	got := l.Events()
	for i, e := range got {
		want := ev(49 - i).ID
		if e.ID != want {
			t.Fatalf("position %d: got %s want %s", i, e.ID, want)
		}
	}
}

func TestLoweringCeilingKeepsNewest(t *testing.T) {
	limit := 500
	l := NewLog(1, func() int { return limit })
	for i := 0; i < 500; i++ {
		l.Add(ev(i))
	}
	if l.Len() != 500 {
		t.Fatalf("expected 500 events, got %d", l.Len())
	}

	limit = 100
	if !l.Trim() {
		t.Fatal("expected Trim to drop entries")
	}
	got := l.Events()
	if len(got) != 100 {
		t.Fatalf("expected 100 events, got %d", len(got))
	}
	if got[0].ID != ev(499).ID || got[99].ID != ev(400).ID {
		t.Fatalf("expected newest 100, got %s .. %s", got[0].ID, got[99].ID)
	}

	// raising the ceiling does not bring entries back
	limit = 500
	if l.Trim() || l.Len() != 100 {
		t.Fatalf("expected 100 events after raising the ceiling, got %d", l.Len())
	}
}

func TestCeilingIsClamped(t *testing.T) {
	l := NewLog(1, func() int { return 0 })
	l.Add(ev(1))
	l.Add(ev(2))
	if l.Len() != 1 {
		t.Fatalf("expected a ceiling of 1, got %d events", l.Len())
	}
}

func TestReloadsAndClear(t *testing.T) {
	l := NewLog(1, nil)
	base := time.Unix(1700000000, 0)
	for i := 0; i < MaxReloads+20; i++ {
		l.AddReload(base.Add(time.Duration(i) * time.Second))
	}
	r := l.Reloads()
	if len(r) != MaxReloads {
		t.Fatalf("expected %d reloads, got %d", MaxReloads, len(r))
	}
	if !r[0].Equal(base.Add(20 * time.Second)) {
		t.Fatalf("expected the oldest 20 to be evicted, first is %v", r[0])
	}

	l.Add(ev(1))
	before := l.LastUpdated()
	l.Clear()
	if l.Len() != 0 || len(l.Reloads()) != 0 {
		t.Fatal("expected Clear to empty events and reloads")
	}
	if l.LastUpdated().Before(before) {
		t.Fatal("expected Clear to stamp lastUpdated")
	}
}

func TestRestoreDeduplicatesAndTrims(t *testing.T) {
	l := NewLog(1, func() int { return 2 })
	l.Restore([]event.CapturedEvent{ev(3), ev(3), ev(2), ev(1)}, nil, time.Time{})
	got := l.Events()
	if len(got) != 2 || got[0].ID != ev(3).ID || got[1].ID != ev(2).ID {
		t.Fatalf("unexpected restored log %+v", got)
	}
}

func TestRestoreKeepsStoredLastUpdated(t *testing.T) {
	stored := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLog(1, func() int { return 5 })
	l.Restore([]event.CapturedEvent{ev(3), ev(2), ev(1)}, []time.Time{stored}, stored)
	if !l.LastUpdated().Equal(stored) {
		t.Fatalf("expected lastUpdated %v, got %v", stored, l.LastUpdated())
	}

	l.limit = func() int { return 1 }
	if !l.Trim() {
		t.Fatal("expected Trim to drop entries")
	}
	if !l.LastUpdated().Equal(stored) {
		t.Fatalf("Trim must not stamp lastUpdated, got %v", l.LastUpdated())
	}

	l.AddReload(stored.Add(time.Hour))
	if !l.LastUpdated().After(stored) {
		t.Fatal("expected a new reload to stamp lastUpdated")
	}
}

func TestRegistryGetOrCreateIsAtomic(t *testing.T) {
	r := NewRegistry(nil)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		logs    = make(map[*Log]bool)
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, isNew := r.GetOrCreate(9)
			mu.Lock()
			logs[l] = true
			if isNew {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if created != 1 || len(logs) != 1 {
		t.Fatalf("expected exactly one log, created=%d distinct=%d", created, len(logs))
	}

	r.GetOrCreate(3)
	if got := r.Tabs(); len(got) != 2 || got[0] != 3 || got[1] != 9 {
		t.Fatalf("unexpected tabs %v", got)
	}
	if !r.Drop(9) || r.Drop(9) {
		t.Fatal("expected Drop to report presence once")
	}
}

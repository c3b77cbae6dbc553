package tablog

import (
	"sort"
	"sync"
)

// Registry is the single owner of the tab to log table. GetOrCreate never
// yields two logs for the same tab.
type Registry struct {
	limit func() int

	mu   sync.Mutex
	logs map[int]*Log
}

// NewRegistry creates logs that read their ceiling from limit.
func NewRegistry(limit func() int) *Registry {
	return &Registry{limit: limit, logs: make(map[int]*Log)}
}

// GetOrCreate returns the log for tabID, creating it if absent. The bool is
// true when the log was created by this call.
func (r *Registry) GetOrCreate(tabID int) (*Log, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.logs[tabID]; ok {
		return l, false
	}
	l := NewLog(tabID, r.limit)
	r.logs[tabID] = l
	return l, true
}

func (r *Registry) Get(tabID int) (*Log, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[tabID]
	return l, ok
}

// Drop forgets tabID's log and reports whether one existed.
func (r *Registry) Drop(tabID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.logs[tabID]
	delete(r.logs, tabID)
	return ok
}

// Tabs lists the tab ids that have a log, ascending.
func (r *Registry) Tabs() []int {
	r.mu.Lock()
	ids := make([]int, 0, len(r.logs))
	for id := range r.logs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Ints(ids)
	return ids
}

// Each calls fn for every log outside the registry lock.
func (r *Registry) Each(fn func(*Log)) {
	r.mu.Lock()
	logs := make([]*Log, 0, len(r.logs))
	for _, l := range r.logs {
		logs = append(logs, l)
	}
	r.mu.Unlock()
	for _, l := range logs {
		fn(l)
	}
}

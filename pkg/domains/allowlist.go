package domains

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sw33tLie/beaconscope/pkg/storage"
	"gopkg.in/yaml.v3"
)

// AllowList is the persisted, concurrency-safe allow-list. Entries are only
// removed by Remove.
type AllowList struct {
	store storage.Store

	mu      sync.RWMutex
	entries []AllowedDomain
}

func NewAllowList(store storage.Store) *AllowList {
	return &AllowList{store: store}
}

// Load replaces the in-memory entries with the persisted list. A missing key
// is an empty list.
func (l *AllowList) Load(ctx context.Context) error {
	var entries []AllowedDomain
	err := storage.GetJSON(ctx, l.store, storage.AllowedDomainsKey, &entries)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load allowed domains: %w", err)
	}
	l.mu.Lock()
	l.entries = dedupe(entries)
	l.mu.Unlock()
	return nil
}

func (l *AllowList) List() []AllowedDomain {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]AllowedDomain(nil), l.entries...)
}

func (l *AllowList) IsAllowed(domain string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return IsAllowed(domain, l.entries)
}

// AutoAllow applies the auto-allow rule and persists the list when it
// changed. The in-memory list keeps the change even if persisting fails.
func (l *AllowList) AutoAllow(ctx context.Context, domain string) (AutoAllowResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, next := AutoAllow(domain, l.entries)
	if res.Action != Updated && res.Action != Added {
		return res, nil
	}
	l.entries = next
	return res, l.persistLocked(ctx)
}

// Add inserts or updates an entry by explicit user action.
func (l *AllowList) Add(ctx context.Context, domain string, allowSubdomains bool) (AllowedDomain, error) {
	d := Normalize(domain)
	if d == "" {
		return AllowedDomain{}, errors.New("empty domain")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := AllowedDomain{Domain: d, AllowSubdomains: allowSubdomains}
	l.entries = upsert(l.entries, entry)
	return entry, l.persistLocked(ctx)
}

// Remove deletes the entry for domain. It reports false when there was none.
func (l *AllowList) Remove(ctx context.Context, domain string) (bool, error) {
	d := Normalize(domain)
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.Domain == d {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return true, l.persistLocked(ctx)
		}
	}
	return false, nil
}

// Import merges entries from a YAML document and returns how many entries
// were added or changed. See importEntry for the accepted shapes.
func (l *AllowList) Import(ctx context.Context, r io.Reader) (int, error) {
	var doc struct {
		Domains []importEntry `yaml:"domains"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("parse allow-list: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	changed := 0
	for _, ie := range doc.Domains {
		e := AllowedDomain(ie)
		if e.Domain == "" {
			continue
		}
		if i := indexOf(l.entries, e.Domain); i >= 0 && l.entries[i] == e {
			continue
		}
		l.entries = upsert(l.entries, e)
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, l.persistLocked(ctx)
}

func (l *AllowList) persistLocked(ctx context.Context) error {
	if err := storage.SetJSON(ctx, l.store, storage.AllowedDomainsKey, l.entries); err != nil {
		return fmt.Errorf("persist allowed domains: %w", err)
	}
	return nil
}

// importEntry accepts either a scalar or a mapping:
//
//	domains:
//	  - example.com
//	  - "*.preview.example.com"
//	  - domain: shop.example.com
//	    allow_subdomains: true
//
// A leading "*." on a scalar means subdomains are allowed.
type importEntry AllowedDomain

func (e *importEntry) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		s := strings.TrimSpace(value.Value)
		if rest, ok := strings.CutPrefix(s, "*."); ok {
			*e = importEntry{Domain: Normalize(rest), AllowSubdomains: true}
			return nil
		}
		*e = importEntry{Domain: Normalize(s)}
		return nil
	case yaml.MappingNode:
		var tmp AllowedDomain
		if err := value.Decode(&tmp); err != nil {
			return err
		}
		tmp.Domain = Normalize(tmp.Domain)
		*e = importEntry(tmp)
		return nil
	default:
		return fmt.Errorf("line %d: allow-list entry must be a string or a mapping", value.Line)
	}
}

func indexOf(list []AllowedDomain, domain string) int {
	for i, e := range list {
		if e.Domain == domain {
			return i
		}
	}
	return -1
}

func upsert(list []AllowedDomain, entry AllowedDomain) []AllowedDomain {
	if i := indexOf(list, entry.Domain); i >= 0 {
		list[i] = entry
		return list
	}
	return append(list, entry)
}

// dedupe normalizes persisted entries, keeping the widest flag per domain.
func dedupe(list []AllowedDomain) []AllowedDomain {
	out := make([]AllowedDomain, 0, len(list))
	for _, e := range list {
		e.Domain = Normalize(e.Domain)
		if e.Domain == "" {
			continue
		}
		if i := indexOf(out, e.Domain); i >= 0 {
			out[i].AllowSubdomains = out[i].AllowSubdomains || e.AllowSubdomains
			continue
		}
		out = append(out, e)
	}
	return out
}

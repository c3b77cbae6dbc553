package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const tabKeyPrefix = "tab_"

// Names of the per-tab keys.
const (
	KeyEvents         = "events"
	KeyReloads        = "reloads"
	KeyURL            = "url"
	KeyMeta           = "meta"
	KeySelectedEvent  = "selected_event"
	KeyExpandedEvents = "expanded_events"
)

// AllowedDomainsKey holds the domain allow-list.
const AllowedDomainsKey = "allowed_domains"

// UIStateKeys are the per-tab keys owned by the rendering layer that are
// reset when a tab's events are cleared.
var UIStateKeys = []string{KeySelectedEvent, KeyExpandedEvents}

// TabMeta is stored under tab_<id>_meta. The reaper ages tabs by it.
type TabMeta struct {
	LastUpdated time.Time `json:"lastUpdated"`
}

// TabKey namespaces name under the tab identifier: tab_<id>_<name>.
func TabKey(tabID int, name string) string {
	return fmt.Sprintf("%s%d_%s", tabKeyPrefix, tabID, name)
}

// ParseTabKey splits a tab-scoped key back into tab id and name.
func ParseTabKey(key string) (int, string, bool) {
	rest, ok := strings.CutPrefix(key, tabKeyPrefix)
	if !ok {
		return 0, "", false
	}
	idPart, name, ok := strings.Cut(rest, "_")
	if !ok || idPart == "" || name == "" {
		return 0, "", false
	}
	id, err := strconv.Atoi(idPart)
	if err != nil {
		return 0, "", false
	}
	return id, name, true
}

// TabStore is a Store view restricted to one tab's keys, so one tab's data
// can never be read as another's.
type TabStore struct {
	store Store
	tabID int
}

// Tab returns the tab-scoped view of store.
func Tab(store Store, tabID int) TabStore {
	return TabStore{store: store, tabID: tabID}
}

func (t TabStore) TabID() int { return t.tabID }

func (t TabStore) Get(ctx context.Context, name string) (string, error) {
	return t.store.GetItem(ctx, TabKey(t.tabID, name))
}

func (t TabStore) Set(ctx context.Context, name, value string) error {
	return t.store.SetItem(ctx, TabKey(t.tabID, name), value)
}

func (t TabStore) Remove(ctx context.Context, name string) error {
	return t.store.RemoveItem(ctx, TabKey(t.tabID, name))
}

func (t TabStore) GetJSON(ctx context.Context, name string, v any) error {
	return GetJSON(ctx, t.store, TabKey(t.tabID, name), v)
}

func (t TabStore) SetJSON(ctx context.Context, name string, v any) error {
	return SetJSON(ctx, t.store, TabKey(t.tabID, name), v)
}

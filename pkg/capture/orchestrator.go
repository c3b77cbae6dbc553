// Package capture wires intercepted requests through domain policy,
// normalization and the tab logs, and answers reads from the UI.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sw33tLie/beaconscope/pkg/domains"
	"github.com/sw33tLie/beaconscope/pkg/event"
	"github.com/sw33tLie/beaconscope/pkg/navigation"
	"github.com/sw33tLie/beaconscope/pkg/payload"
	"github.com/sw33tLie/beaconscope/pkg/storage"
	"github.com/sw33tLie/beaconscope/pkg/tablog"
)

// Stage names where a request left the pipeline.
type Stage string

const (
	StageNotReady  Stage = "not_ready"
	StageMethod    Stage = "method"
	StageEndpoint  Stage = "endpoint"
	StageDomain    Stage = "domain"
	StageEmptyBody Stage = "empty_body"
	StageDecode    Stage = "decode"
	StageParse     Stage = "parse"
	StageValidate  Stage = "validate"
	StageDuplicate Stage = "duplicate"

	// StageBroadcast is the successful terminal stage.
	StageBroadcast Stage = "broadcast"
)

// Request is one intercepted network request.
type Request struct {
	TabID  int
	Method string
	URL    string
	// DocumentURL is the page that issued the request, when the host knows it.
	DocumentURL string
	Body        [][]byte
	CapturedAt  time.Time
}

// Outcome describes what happened to a request. Discards are normal: most
// intercepted traffic is irrelevant.
type Outcome struct {
	Stage     Stage                 `json:"stage"`
	Discarded bool                  `json:"discarded"`
	TabID     int                   `json:"tabId"`
	Domain    string                `json:"domain,omitempty"`
	Events    []event.CapturedEvent `json:"events,omitempty"`
}

// TabResolver looks up the current URL of a tab from the host.
type TabResolver interface {
	TabURL(ctx context.Context, tabID int) (string, error)
}

type Options struct {
	Store     storage.Store
	AllowList *domains.AllowList
	// Tabs is optional; without it the document URL and the last navigation
	// are used to resolve a request's domain.
	Tabs       TabResolver
	MaxEvents  int
	QuotaBytes int64
	Logger     Logger
	Metrics    Metrics
}

// Orchestrator is the capture-and-storage engine.
type Orchestrator struct {
	store     storage.Store
	allow     *domains.AllowList
	tabs      TabResolver
	log       Logger
	metrics   Metrics
	quota     int64
	maxEvents atomic.Int64
	ready     atomic.Bool

	registry *tablog.Registry
	detector *navigation.Detector
	mirror   *mirror
	bc       *broadcaster
	now      func() time.Time
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("capture: store is required")
	}
	o := &Orchestrator{
		store:   opts.Store,
		allow:   opts.AllowList,
		tabs:    opts.Tabs,
		log:     opts.Logger,
		metrics: opts.Metrics,
		quota:   opts.QuotaBytes,
		bc:      newBroadcaster(),
		now:     time.Now,
	}
	if o.allow == nil {
		o.allow = domains.NewAllowList(opts.Store)
	}
	if o.log == nil {
		o.log = storage.NopLogger
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if opts.MaxEvents == 0 {
		opts.MaxEvents = tablog.DefaultMaxEvents
	}
	o.maxEvents.Store(int64(tablog.ClampMaxEvents(opts.MaxEvents)))

	o.registry = tablog.NewRegistry(o.MaxEvents)
	o.detector = navigation.NewDetector(o.store, o, o.log)
	o.mirror = newMirror(o.store, o.registry, o.log, o.metrics, o.quota)
	return o, nil
}

// Start hydrates every persisted tab log, then starts the persistence
// mirror and accepts captures. Requests captured before Start returns are
// discarded, so a rehydration can never overwrite a fresh capture.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.ready.Load() {
		return nil
	}
	if err := o.allow.Load(ctx); err != nil {
		o.log.Errorf("Failed to load allowed domains: %v", err)
	}

	n, err := o.recover(ctx)
	if err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}
	o.log.Infof("Recovered %d tab logs", n)

	o.mirror.start()
	o.ready.Store(true)
	return nil
}

func (o *Orchestrator) recover(ctx context.Context) (int, error) {
	keys, err := o.store.Keys(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[int]bool)
	recovered := 0
	for _, key := range keys {
		tabID, name, ok := storage.ParseTabKey(key)
		if !ok || seen[tabID] || (name != storage.KeyEvents && name != storage.KeyReloads) {
			continue
		}
		seen[tabID] = true
		st, err := o.readTab(ctx, tabID)
		if err != nil {
			// left for the reaper
			o.log.Warnf("Skipping unreadable log for tab %d: %v", tabID, err)
			continue
		}
		l, _ := o.registry.GetOrCreate(tabID)
		l.Restore(st.events, st.reloads, st.lastUpdated)
		recovered++
	}
	return recovered, nil
}

type storedTab struct {
	events      []event.CapturedEvent
	reloads     []time.Time
	lastUpdated time.Time
}

// readTab loads a tab's persisted log. It fails with storage.ErrNotFound
// only when neither events nor reloads are stored. An unreadable reload log
// or meta is logged and skipped.
func (o *Orchestrator) readTab(ctx context.Context, tabID int) (storedTab, error) {
	ts := storage.Tab(o.store, tabID)
	var st storedTab

	evErr := ts.GetJSON(ctx, storage.KeyEvents, &st.events)
	if evErr != nil && !errors.Is(evErr, storage.ErrNotFound) {
		return storedTab{}, evErr
	}
	if err := ts.GetJSON(ctx, storage.KeyReloads, &st.reloads); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			o.log.Warnf("Ignoring unreadable reload log for tab %d: %v", tabID, err)
		}
		st.reloads = nil
	}
	if evErr != nil && len(st.reloads) == 0 {
		return storedTab{}, evErr
	}

	var meta storage.TabMeta
	if err := ts.GetJSON(ctx, storage.KeyMeta, &meta); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			o.log.Warnf("Ignoring unreadable meta for tab %d: %v", tabID, err)
		}
	} else {
		st.lastUpdated = meta.LastUpdated
	}
	return st, nil
}

// Close flushes pending writes and stops the mirror and all subscriptions.
func (o *Orchestrator) Close() error {
	o.ready.Store(false)
	o.mirror.close()
	o.bc.close()
	return nil
}

func (o *Orchestrator) Ready() bool { return o.ready.Load() }

// Capture runs one intercepted request through the pipeline. It never
// fails; the outcome names the stage where the request stopped.
func (o *Orchestrator) Capture(ctx context.Context, req Request) Outcome {
	out := Outcome{TabID: req.TabID}
	if !o.ready.Load() {
		return o.discard(out, StageNotReady, "engine is not ready")
	}
	if !strings.EqualFold(req.Method, "POST") {
		return o.discard(out, StageMethod, req.Method)
	}
	if !payload.MatchesEndpoint(req.URL) {
		return o.discard(out, StageEndpoint, req.URL)
	}

	domain, ok := o.resolveDomain(ctx, req)
	out.Domain = domain
	if !ok || !o.allow.IsAllowed(domain) {
		return o.discard(out, StageDomain, domain)
	}

	capturedAt := req.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = o.now()
	}
	events, err := payload.Process(payload.Request{
		TabID:      req.TabID,
		URL:        req.URL,
		Body:       req.Body,
		CapturedAt: capturedAt,
	})
	if err != nil {
		return o.discard(out, stageFor(err), err.Error())
	}

	l, _ := o.registry.GetOrCreate(req.TabID)
	added := make([]event.CapturedEvent, 0, len(events))
	for _, ev := range events {
		if l.Add(ev) {
			added = append(added, ev)
		}
	}
	if len(added) == 0 {
		return o.discard(out, StageDuplicate, "all events already stored")
	}
	o.mirror.markDirty(req.TabID)
	o.metrics.EventsCaptured(string(added[0].Provider), len(added))

	if dropped := o.bc.publish(Notification{Type: NotificationEventsCaptured, TabID: req.TabID, Events: added}); dropped > 0 {
		o.log.Debugf("%d subscribers missed events for tab %d", dropped, req.TabID)
	}
	out.Stage = StageBroadcast
	out.Events = added
	return out
}

func (o *Orchestrator) discard(out Outcome, stage Stage, reason string) Outcome {
	o.log.Debugf("Discarded request for tab %d at %s: %s", out.TabID, stage, reason)
	o.metrics.RequestDiscarded(string(stage))
	out.Stage = stage
	out.Discarded = true
	return out
}

func stageFor(err error) Stage {
	switch {
	case errors.Is(err, payload.ErrEmptyBody):
		return StageEmptyBody
	case errors.Is(err, payload.ErrUndecodableBody):
		return StageDecode
	case errors.Is(err, payload.ErrMalformedPayload):
		return StageParse
	default:
		return StageValidate
	}
}

// resolveDomain asks the host first, then falls back to the document URL
// and finally to the last navigation seen for the tab.
func (o *Orchestrator) resolveDomain(ctx context.Context, req Request) (string, bool) {
	if o.tabs != nil {
		u, err := o.tabs.TabURL(ctx, req.TabID)
		if err != nil {
			o.log.Debugf("Tab lookup failed for tab %d: %v", req.TabID, err)
		} else if d, ok := domains.ExtractDomain(u); ok {
			return d, true
		}
	}
	if d, ok := domains.ExtractDomain(req.DocumentURL); ok {
		return d, true
	}
	if u, ok := o.detector.LastURL(ctx, req.TabID); ok {
		return domains.ExtractDomain(u)
	}
	return "", false
}

// GetEvents returns a tab's events newest first. A tab not held in memory
// is hydrated from the store.
func (o *Orchestrator) GetEvents(ctx context.Context, tabID int) []event.CapturedEvent {
	return o.logFor(ctx, tabID).Events()
}

func (o *Orchestrator) GetEventCount(ctx context.Context, tabID int) int {
	return o.logFor(ctx, tabID).Len()
}

// Reloads returns the reload timestamps of a tab, oldest first.
func (o *Orchestrator) Reloads(ctx context.Context, tabID int) []time.Time {
	return o.logFor(ctx, tabID).Reloads()
}

func (o *Orchestrator) logFor(ctx context.Context, tabID int) *tablog.Log {
	if l, ok := o.registry.Get(tabID); ok {
		return l
	}
	st, err := o.readTab(ctx, tabID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		o.log.Warnf("Failed to read stored log for tab %d: %v", tabID, err)
	}
	l, created := o.registry.GetOrCreate(tabID)
	if created && err == nil {
		l.Restore(st.events, st.reloads, st.lastUpdated)
	}
	return l
}

// ClearEvents empties a tab's log and reload log and resets its UI state.
func (o *Orchestrator) ClearEvents(ctx context.Context, tabID int) {
	l, _ := o.registry.GetOrCreate(tabID)
	l.Clear()
	o.mirror.markDirty(tabID)

	ts := storage.Tab(o.store, tabID)
	for _, name := range storage.UIStateKeys {
		if err := ts.Remove(ctx, name); err != nil {
			o.log.Errorf("Failed to reset %s for tab %d: %v", name, tabID, err)
		}
	}
}

func (o *Orchestrator) IsDomainAllowed(domain string) bool {
	return o.allow.IsAllowed(domain)
}

func (o *Orchestrator) AutoAllowDomain(ctx context.Context, domain string) (domains.AutoAllowResult, error) {
	return o.allow.AutoAllow(ctx, domain)
}

// AllowList exposes the allow-list for explicit user edits.
func (o *Orchestrator) AllowList() *domains.AllowList { return o.allow }

func (o *Orchestrator) MaxEvents() int {
	return int(o.maxEvents.Load())
}

// SetMaxEvents changes the per-tab ceiling. Lowering it trims every held
// log at once and re-persists the trimmed logs.
func (o *Orchestrator) SetMaxEvents(n int) error {
	if n < tablog.MinMaxEvents || n > tablog.MaxMaxEvents {
		return fmt.Errorf("max events must be between %d and %d, got %d", tablog.MinMaxEvents, tablog.MaxMaxEvents, n)
	}
	old := o.maxEvents.Swap(int64(n))
	if int64(n) >= old {
		return nil
	}
	o.registry.Each(func(l *tablog.Log) {
		if l.Trim() {
			o.mirror.markDirty(l.TabID())
		}
	})
	o.log.Infof("Max events lowered from %d to %d", old, n)
	return nil
}

// TabUpdated feeds a tab lifecycle notification to the reload detector.
func (o *Orchestrator) TabUpdated(ctx context.Context, tabID int, url, status string) navigation.Classification {
	return o.detector.Observe(ctx, tabID, url, status)
}

// RecordReload appends a reload to the tab's log.
func (o *Orchestrator) RecordReload(tabID int, ts time.Time) {
	l, _ := o.registry.GetOrCreate(tabID)
	l.AddReload(ts)
	o.mirror.markDirty(tabID)
	o.metrics.ReloadDetected()
}

// TabClosed persists what is pending for the tab and drops its in-memory
// state. The stored data is left to the reaper.
func (o *Orchestrator) TabClosed(ctx context.Context, tabID int) {
	if err := o.mirror.flush(ctx); err != nil {
		o.log.Warnf("Flush before closing tab %d: %v", tabID, err)
	}
	o.Forget(tabID)
}

// Forget drops in-memory state for a tab without persisting it. It returns
// once a write of the tab already under way has finished, so keys removed
// after Forget stay removed.
func (o *Orchestrator) Forget(tabID int) {
	o.registry.Drop(tabID)
	o.detector.Forget(tabID)
	if err := o.mirror.flush(context.Background()); err != nil {
		o.log.Debugf("Flush after forgetting tab %d: %v", tabID, err)
	}
}

// Flush blocks until every change made before the call is persisted.
func (o *Orchestrator) Flush(ctx context.Context) error {
	return o.mirror.flush(ctx)
}

// Subscribe returns a channel of capture notifications and a cancel func.
// Slow subscribers miss notifications rather than stall the pipeline.
func (o *Orchestrator) Subscribe() (<-chan Notification, func()) {
	return o.bc.subscribe()
}

// StorageUsage computes the current quota snapshot.
func (o *Orchestrator) StorageUsage(ctx context.Context) (storage.QuotaSnapshot, error) {
	snap, err := storage.Snapshot(ctx, o.store, o.quota)
	if err == nil {
		o.metrics.StorageUsage(snap.TotalBytes)
	}
	return snap, err
}

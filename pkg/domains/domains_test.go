package domains

import (
	"context"
	"strings"
	"testing"

	"github.com/sw33tLie/beaconscope/pkg/storage"
)

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://www.Example.com:8443/path?q=1", "example.com", true},
		{"http://app.example.com", "app.example.com", true},
		{"https://example.com./", "example.com", true},
		{"chrome://extensions", "", false},
		{"chrome-extension://abc/popup.html", "", false},
		{"about:blank", "", false},
		{"file:///tmp/index.html", "", false},
		{"not a url", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractDomain(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExtractDomain(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		domain, allowed string
		sub             bool
		want            bool
	}{
		{"app.example.com", "example.com", true, true},
		{"app.example.com", "example.com", false, false},
		{"www.example.com", "example.com", false, true},
		{"WWW.Example.com", "example.com", false, true},
		{"example.com", "example.com", true, true},
		{"badexample.com", "example.com", true, false},
		{"example.com", "", true, false},
	}
	for _, tt := range tests {
		if got := Matches(tt.domain, tt.allowed, tt.sub); got != tt.want {
			t.Errorf("Matches(%q, %q, %v) = %v; want %v", tt.domain, tt.allowed, tt.sub, got, tt.want)
		}
	}
}

func TestAutoAllowWidensExistingEntry(t *testing.T) {
	list := []AllowedDomain{{Domain: "example.com"}}
	res, next := AutoAllow("app.example.com", list)

	if res.Action != Updated {
		t.Fatalf("expected action %q, got %q", Updated, res.Action)
	}
	if len(next) != 1 || next[0] != (AllowedDomain{Domain: "example.com", AllowSubdomains: true}) {
		t.Fatalf("expected a single widened entry, got %+v", next)
	}
	if list[0].AllowSubdomains {
		t.Fatal("input list must not be modified")
	}
}

func TestAutoAllowActions(t *testing.T) {
	list := []AllowedDomain{{Domain: "example.com", AllowSubdomains: true}}

	res, next := AutoAllow("shop.example.com", list)
	if res.Action != AlreadyAllowed || len(next) != 1 {
		t.Fatalf("expected already_allowed, got %+v %+v", res, next)
	}

	res, next = AutoAllow("www.other.org", list)
	if res.Action != Added || res.Domain != "other.org" || res.AllowSubdomains {
		t.Fatalf("expected exact entry for other.org, got %+v", res)
	}
	if len(next) != 2 {
		t.Fatalf("expected two entries, got %+v", next)
	}

	res, _ = AutoAllow("", list)
	if res.Action != Rejected || res.IsAllowed {
		t.Fatalf("expected rejected for empty domain, got %+v", res)
	}
}

func TestAutoAllowDoesNotWidenPublicSuffix(t *testing.T) {
	list := []AllowedDomain{{Domain: "github.io"}}
	res, next := AutoAllow("alice.github.io", list)

	if res.Action != Added {
		t.Fatalf("expected a new exact entry, got %q", res.Action)
	}
	if len(next) != 2 || next[0].AllowSubdomains {
		t.Fatalf("public suffix entry must stay exact, got %+v", next)
	}
}

func TestAllowListPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(storage.Options{})

	l := NewAllowList(store)
	if err := l.Load(ctx); err != nil {
		t.Fatalf("Load on empty store: %v", err)
	}
	if _, err := l.AutoAllow(ctx, "example.com"); err != nil {
		t.Fatalf("AutoAllow: %v", err)
	}
	if _, err := l.AutoAllow(ctx, "app.example.com"); err != nil {
		t.Fatalf("AutoAllow: %v", err)
	}

	reloaded := NewAllowList(store)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := reloaded.List()
	if len(got) != 1 || !got[0].AllowSubdomains {
		t.Fatalf("expected widened entry after reload, got %+v", got)
	}
	if !reloaded.IsAllowed("deep.app.example.com") {
		t.Fatal("expected subdomain to be allowed")
	}

	removed, err := reloaded.Remove(ctx, "www.example.com")
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if reloaded.IsAllowed("example.com") {
		t.Fatal("expected example.com to be removed")
	}
}

func TestAllowListImport(t *testing.T) {
	ctx := context.Background()
	l := NewAllowList(storage.NewMemory(storage.Options{}))
	if _, err := l.Add(ctx, "example.com", false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	doc := `
domains:
  - example.com
  - "*.preview.dev"
  - domain: WWW.Shop.io
    allow_subdomains: true
`
	n, err := l.Import(ctx, strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 changed entries, got %d", n)
	}
	if !l.IsAllowed("pr-12.preview.dev") || !l.IsAllowed("eu.shop.io") {
		t.Fatalf("expected imported wildcard entries, got %+v", l.List())
	}

	if _, err := l.Import(ctx, strings.NewReader("domains:\n  - [nested]\n")); err == nil {
		t.Fatal("expected an error for a sequence entry")
	}
}

func TestAllowListKeepsChangeWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(storage.Options{})
	store.FailWrites(storage.ErrQuotaExceeded)

	l := NewAllowList(store)
	res, err := l.AutoAllow(ctx, "example.com")
	if err == nil {
		t.Fatal("expected persist error")
	}
	if res.Action != Added || !l.IsAllowed("example.com") {
		t.Fatalf("expected in-memory entry despite failure, got %+v", res)
	}
}

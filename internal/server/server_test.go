package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sw33tLie/beaconscope/internal/metrics"
	"github.com/sw33tLie/beaconscope/pkg/capture"
	"github.com/sw33tLie/beaconscope/pkg/event"
	"github.com/sw33tLie/beaconscope/pkg/navigation"
	"github.com/sw33tLie/beaconscope/pkg/storage"
	"github.com/sw33tLie/beaconscope/pkg/tabs"
)

const segmentBatch = `{"batch":[{"type":"track","event":"Signed Up","messageId":"m1"},{"type":"page","name":"Home","messageId":"m2"}],"sentAt":"2024-01-01T00:00:00Z"}`

func setupTestServer(t *testing.T, user, pass string) (*Server, *httptest.Server) {
	t.Helper()
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	tracker := tabs.NewTracker()
	engine, err := capture.New(capture.Options{
		Store:   storage.NewMemory(storage.Options{}),
		Tabs:    tracker,
		Metrics: metrics.New(reg),
	})
	if err != nil {
		t.Fatalf("capture.New: %v", err)
	}
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := engine.AllowList().Add(ctx, "example.com", true); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s := New(engine, tracker, user, pass)
	s.Gatherer = reg
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		engine.Close()
	})
	return s, ts
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func openTab(t *testing.T, base string, id int, url string) {
	t.Helper()
	resp := do(t, "POST", base+"/api/tabs/lifecycle", LifecycleRequest{TabID: id, Event: LifecycleOpened, URL: url, Status: navigation.StatusLoading})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lifecycle: status %d", resp.StatusCode)
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	_, ts := setupTestServer(t, "", "")
	openTab(t, ts.URL, 4, "https://app.example.com/signup")

	resp := do(t, "POST", ts.URL+"/api/capture", CaptureRequest{
		TabID:  4,
		Method: "POST",
		URL:    "https://api.segment.io/v1/batch",
		Body:   [][]byte{[]byte(segmentBatch[:20]), []byte(segmentBatch[20:])},
	})
	var out capture.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if out.Discarded || len(out.Events) != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	resp = do(t, "GET", ts.URL+"/api/tabs/4/events", nil)
	var events []event.CapturedEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 2 || events[0].Name != "Page: Home" || events[1].Name != "Signed Up" {
		t.Fatalf("unexpected events %+v", events)
	}

	resp = do(t, "GET", ts.URL+"/api/tabs/4/count", nil)
	var count map[string]int
	json.NewDecoder(resp.Body).Decode(&count)
	if count["count"] != 2 {
		t.Fatalf("expected count 2, got %v", count)
	}

	if resp := do(t, "DELETE", ts.URL+"/api/tabs/4/events", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear: status %d", resp.StatusCode)
	}
	resp = do(t, "GET", ts.URL+"/api/tabs/4/count", nil)
	json.NewDecoder(resp.Body).Decode(&count)
	if count["count"] != 0 {
		t.Fatalf("expected count 0 after clear, got %v", count)
	}
}

func TestLifecycleReload(t *testing.T) {
	_, ts := setupTestServer(t, "", "")
	openTab(t, ts.URL, 1, "https://a.example.com/page")

	resp := do(t, "POST", ts.URL+"/api/tabs/lifecycle", LifecycleRequest{TabID: 1, Event: LifecycleUpdated, URL: "https://a.example.com/page/", Status: navigation.StatusLoading})
	var lr LifecycleResponse
	json.NewDecoder(resp.Body).Decode(&lr)
	if lr.Classification != navigation.Reload {
		t.Fatalf("expected reload, got %q", lr.Classification)
	}

	resp = do(t, "GET", ts.URL+"/api/tabs/1/reloads", nil)
	var reloads []time.Time
	json.NewDecoder(resp.Body).Decode(&reloads)
	if len(reloads) != 1 {
		t.Fatalf("expected one reload, got %v", reloads)
	}

	if resp := do(t, "POST", ts.URL+"/api/tabs/lifecycle", LifecycleRequest{TabID: 1, Event: "exploded"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown event, got %d", resp.StatusCode)
	}
}

func TestDomainRoutes(t *testing.T) {
	_, ts := setupTestServer(t, "", "")

	resp := do(t, "POST", ts.URL+"/api/domains/auto-allow", DomainRequest{Domain: "shop.io"})
	var res map[string]any
	json.NewDecoder(resp.Body).Decode(&res)
	if res["action"] != "added" {
		t.Fatalf("expected added, got %v", res)
	}

	resp = do(t, "POST", ts.URL+"/api/domains/auto-allow", DomainRequest{Domain: "eu.shop.io"})
	json.NewDecoder(resp.Body).Decode(&res)
	if res["action"] != "updated" {
		t.Fatalf("expected updated, got %v", res)
	}

	resp = do(t, "GET", ts.URL+"/api/domains/check?domain=deep.eu.shop.io", nil)
	var check map[string]any
	json.NewDecoder(resp.Body).Decode(&check)
	if check["allowed"] != true {
		t.Fatalf("expected allowed, got %v", check)
	}

	resp = do(t, "DELETE", ts.URL+"/api/domains", DomainRequest{Domain: "shop.io"})
	var removed map[string]bool
	json.NewDecoder(resp.Body).Decode(&removed)
	if !removed["removed"] {
		t.Fatal("expected shop.io to be removed")
	}

	if resp := do(t, "POST", ts.URL+"/api/domains", DomainRequest{Domain: " "}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty domain, got %d", resp.StatusCode)
	}
}

func TestConfigStorageAndHealth(t *testing.T) {
	_, ts := setupTestServer(t, "", "")

	resp := do(t, "GET", ts.URL+"/api/config", nil)
	var cfg map[string]int
	json.NewDecoder(resp.Body).Decode(&cfg)
	if cfg["maxEvents"] != 500 {
		t.Fatalf("unexpected config %v", cfg)
	}

	resp = do(t, "GET", ts.URL+"/api/storage", nil)
	var snap storage.QuotaSnapshot
	json.NewDecoder(resp.Body).Decode(&snap)
	if snap.QuotaBytes != storage.DefaultQuotaBytes || snap.TotalBytes == 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if resp := do(t, "GET", ts.URL+"/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	if resp := do(t, "GET", ts.URL+"/metrics", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	_, ts := setupTestServer(t, "admin", "secret")

	if resp := do(t, "GET", ts.URL+"/api/config", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	req, _ := http.NewRequest("GET", ts.URL+"/api/config", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", resp.StatusCode)
	}
	if resp := do(t, "GET", ts.URL+"/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz must not require auth, got %d", resp.StatusCode)
	}
}

func TestStream(t *testing.T) {
	s, ts := setupTestServer(t, "", "")
	openTab(t, ts.URL, 2, "https://example.com/")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream?tabId=2"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	// the subscription is registered after the upgrade; retry until a
	// notification arrives
	deadline := time.Now().Add(3 * time.Second)
	got := make(chan capture.Notification, 1)
	go func() {
		var n capture.Notification
		if err := ws.ReadJSON(&n); err == nil {
			got <- n
		}
	}()
	for i := 0; ; i++ {
		body := []byte(`{"type":"track","event":"Ping","messageId":"p` + string(rune('a'+i%26)) + strings.Repeat("x", i/26) + `"}`)
		s.Engine.Capture(context.Background(), capture.Request{TabID: 2, Method: "POST", URL: "https://api.segment.io/v1/track", Body: [][]byte{body}})
		select {
		case n := <-got:
			if n.Type != capture.NotificationEventsCaptured || n.TabID != 2 || len(n.Events) != 1 {
				t.Fatalf("unexpected notification %+v", n)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("no notification received")
		}
	}
}

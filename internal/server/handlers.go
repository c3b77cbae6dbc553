package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sw33tLie/beaconscope/pkg/capture"
	"github.com/sw33tLie/beaconscope/pkg/navigation"
)

const maxRequestBody = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func tabID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		http.Error(w, "invalid tab id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// CaptureRequest is posted by the browser shim for every intercepted
// request. Body parts are base64 encoded.
type CaptureRequest struct {
	TabID       int      `json:"tabId"`
	Method      string   `json:"method"`
	URL         string   `json:"url"`
	DocumentURL string   `json:"documentUrl"`
	Body        [][]byte `json:"body"`
	// CapturedAt is the host's interception time in unix milliseconds.
	CapturedAt int64 `json:"capturedAt"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	creq := capture.Request{
		TabID:       req.TabID,
		Method:      req.Method,
		URL:         req.URL,
		DocumentURL: req.DocumentURL,
		Body:        req.Body,
	}
	if req.CapturedAt > 0 {
		creq.CapturedAt = time.UnixMilli(req.CapturedAt)
	}
	writeJSON(w, http.StatusOK, s.Engine.Capture(r.Context(), creq))
}

const (
	LifecycleOpened  = "opened"
	LifecycleUpdated = "updated"
	LifecycleClosed  = "closed"
)

type LifecycleRequest struct {
	TabID  int    `json:"tabId"`
	Event  string `json:"event"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

type LifecycleResponse struct {
	Classification navigation.Classification `json:"classification,omitempty"`
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	var req LifecycleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	var resp LifecycleResponse
	switch req.Event {
	case LifecycleOpened:
		s.Tabs.Opened(req.TabID, req.URL)
		if req.URL != "" {
			resp.Classification = s.Engine.TabUpdated(ctx, req.TabID, req.URL, req.Status)
		}
	case LifecycleUpdated:
		s.Tabs.Updated(req.TabID, req.URL)
		resp.Classification = s.Engine.TabUpdated(ctx, req.TabID, req.URL, req.Status)
	case LifecycleClosed:
		s.Tabs.Closed(req.TabID)
		s.Engine.TabClosed(ctx, req.TabID)
	default:
		http.Error(w, "unknown lifecycle event "+strconv.Quote(req.Event), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type SyncTabsRequest struct {
	Tabs []int `json:"tabs"`
}

func (s *Server) handleSyncTabs(w http.ResponseWriter, r *http.Request) {
	var req SyncTabsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.Tabs.Sync(req.Tabs)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Engine.GetEvents(r.Context(), id))
}

func (s *Server) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	s.Engine.ClearEvents(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": s.Engine.GetEventCount(r.Context(), id)})
}

func (s *Server) handleReloads(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Engine.Reloads(r.Context(), id))
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.AllowList().List())
}

func (s *Server) handleCheckDomain(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		http.Error(w, "missing domain", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domain":  domain,
		"allowed": s.Engine.IsDomainAllowed(domain),
	})
}

type DomainRequest struct {
	Domain          string `json:"domain"`
	AllowSubdomains bool   `json:"allowSubdomains"`
}

func (s *Server) handleAutoAllow(w http.ResponseWriter, r *http.Request) {
	var req DomainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.Engine.AutoAllowDomain(r.Context(), req.Domain)
	if err != nil {
		// the in-memory list already changed; report it with the failure
		s.Log.Errorf("Auto-allow %s: %v", req.Domain, err)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAddDomain(w http.ResponseWriter, r *http.Request) {
	var req DomainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := s.Engine.AllowList().Add(r.Context(), req.Domain, req.AllowSubdomains)
	if err != nil {
		status := http.StatusInternalServerError
		if entry.Domain == "" {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRemoveDomain(w http.ResponseWriter, r *http.Request) {
	var req DomainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	removed, err := s.Engine.AllowList().Remove(r.Context(), req.Domain)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"maxEvents": s.Engine.MaxEvents()})
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Engine.StorageUsage(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if !s.Engine.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"ready": status == http.StatusOK})
}

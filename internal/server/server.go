package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sw33tLie/beaconscope/internal/utils"
	"github.com/sw33tLie/beaconscope/pkg/capture"
	"github.com/sw33tLie/beaconscope/pkg/tabs"
)

// Server is the local bridge between the browser shim, the rendering layer
// and the engine.
type Server struct {
	Engine   *capture.Orchestrator
	Tabs     *tabs.Tracker
	Username string
	Password string
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Log      *logrus.Entry
}

func New(engine *capture.Orchestrator, tracker *tabs.Tracker, user, pass string) *Server {
	return &Server{
		Engine:   engine,
		Tabs:     tracker,
		Username: user,
		Password: pass,
		Log:      utils.Component("server"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Host feed
	mux.HandleFunc("POST /api/capture", s.basicAuth(s.handleCapture))
	mux.HandleFunc("POST /api/tabs/lifecycle", s.basicAuth(s.handleLifecycle))
	mux.HandleFunc("PUT /api/tabs", s.basicAuth(s.handleSyncTabs))

	// UI reads and writes
	mux.HandleFunc("GET /api/tabs/{id}/events", s.basicAuth(s.handleEvents))
	mux.HandleFunc("DELETE /api/tabs/{id}/events", s.basicAuth(s.handleClearEvents))
	mux.HandleFunc("GET /api/tabs/{id}/count", s.basicAuth(s.handleCount))
	mux.HandleFunc("GET /api/tabs/{id}/reloads", s.basicAuth(s.handleReloads))
	mux.HandleFunc("GET /api/domains", s.basicAuth(s.handleListDomains))
	mux.HandleFunc("GET /api/domains/check", s.basicAuth(s.handleCheckDomain))
	mux.HandleFunc("POST /api/domains/auto-allow", s.basicAuth(s.handleAutoAllow))
	mux.HandleFunc("POST /api/domains", s.basicAuth(s.handleAddDomain))
	mux.HandleFunc("DELETE /api/domains", s.basicAuth(s.handleRemoveDomain))
	mux.HandleFunc("GET /api/config", s.basicAuth(s.handleConfig))
	mux.HandleFunc("GET /api/storage", s.basicAuth(s.handleStorage))
	mux.HandleFunc("GET /api/stream", s.basicAuth(s.handleStream))

	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", s.basicAuthMiddleware(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Infof("Starting bridge on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) authorized(r *http.Request) bool {
	if s.Username == "" && s.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == s.Username && pass == s.Password
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return s.basicAuth(next.ServeHTTP)
}

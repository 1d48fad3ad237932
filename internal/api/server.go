// Package api serves the graftd control API over a local unix socket.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/graftfs/graft/internal/config"
	"github.com/graftfs/graft/internal/daemon"
)

// Server is the graftd HTTP API server.
type Server struct {
	cfg    *config.Config
	daemon *daemon.Daemon
	log    zerolog.Logger
	mux    *http.ServeMux
	server *http.Server
	ln     net.Listener
}

// NewServer creates a new API server around a daemon.
func NewServer(cfg *config.Config, d *daemon.Daemon, log zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		daemon: d,
		log:    log,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	s.server = &http.Server{Handler: s.mux}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /v1/status", s.handleStatus)
	s.mux.HandleFunc("GET /v1/plan", s.handlePlan)
	s.mux.HandleFunc("POST /v1/mount", s.handleMount)
	s.mux.HandleFunc("POST /v1/unmount", s.handleUnmount)
	s.mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	s.mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	s.mux.HandleFunc("GET /v1/modules", s.handleListModules)
	s.mux.HandleFunc("POST /v1/modules", s.handleInstallModule)
	s.mux.HandleFunc("DELETE /v1/modules/{id}", s.handleRemoveModule)
	s.mux.HandleFunc("POST /v1/modules/{id}/enable", s.handleEnableModule)
	s.mux.HandleFunc("POST /v1/modules/{id}/disable", s.handleDisableModule)
	s.mux.HandleFunc("GET /v1/trust", s.handleGetTrust)
	s.mux.HandleFunc("POST /v1/trust", s.handleTrust)
	s.mux.HandleFunc("POST /v1/gc", s.handleSweep)
}

// Start begins listening on the unix socket.
func (s *Server) Start() error {
	// Remove stale socket
	os.Remove(s.cfg.SocketPath)

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.ln = ln

	os.Chmod(s.cfg.SocketPath, 0600)

	s.log.Info().Str("socket", s.cfg.SocketPath).Msg("API listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pathParam extracts a path parameter from the request.
// For Go 1.22+ with "GET /v1/runs/{id}" patterns.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// isValidID checks if a module ID from the URL is safe to hand to the
// store.
func isValidID(id string) bool {
	if len(id) == 0 || len(id) > 128 {
		return false
	}
	for _, c := range id {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.') {
			return false
		}
	}
	return !strings.Contains(id, "..")
}

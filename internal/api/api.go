package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sokolink/sokolink/internal/models"
	"github.com/sokolink/sokolink/internal/registry"
	"github.com/sokolink/sokolink/internal/store"
	"github.com/sokolink/sokolink/internal/sweeper"
)

// DefaultAddr is the default listen address for the admin API.
const DefaultAddr = ":8080"

// Server is the admin HTTP server. It exposes read access to sessions,
// a manual sweep trigger, and flow introspection; it never serves user
// traffic (that arrives over the chat channel).
type Server struct {
	store    store.SessionStore
	registry *registry.Registry
	sweeper  *sweeper.Sweeper
	extra    map[string]http.HandlerFunc
	httpSrv  *http.Server
}

// NewServer creates an admin API server over the given components.
func NewServer(st store.SessionStore, reg *registry.Registry, sw *sweeper.Sweeper) *Server {
	return &Server{store: st, registry: reg, sweeper: sw, extra: make(map[string]http.HandlerFunc)}
}

// Mount attaches an additional handler, e.g. a channel webhook. Must be
// called before Run.
func (s *Server) Mount(pattern string, handler http.HandlerFunc) {
	s.extra[pattern] = handler
}

// Routes builds the request mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/session", s.sessionHandler)
	mux.HandleFunc("/sweep", s.sweepHandler)
	mux.HandleFunc("/flows", s.flowsHandler)
	for pattern, handler := range s.extra {
		mux.HandleFunc(pattern, handler)
	}
	return mux
}

// Run starts the server on addr and blocks until ListenAndServe
// returns. Use Shutdown for graceful termination.
func (s *Server) Run(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Admin API listening", "addr", addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"health": "up"}))
}

// sessionHandler serves GET (inspect) and DELETE (force reset) on a
// single user's session.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing user parameter"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, err := s.store.Load(user)
		if err != nil {
			slog.Error("Admin API session load failed", "error", err, "user", user)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
			return
		}
		if sess == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No session for user"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(sess))

	case http.MethodDelete:
		if err := s.store.Delete(user); err != nil {
			slog.Error("Admin API session delete failed", "error", err, "user", user)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete session"))
			return
		}
		slog.Info("Admin API deleted session", "user", user)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted", nil))

	default:
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

// sweepHandler triggers one sweep pass immediately.
func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	expired, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		slog.Error("Admin API manual sweep failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Sweep failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"expired": expired}))
}

// flowsHandler lists the registered flows and their step graphs.
func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	flows := make([]models.FlowDefinition, 0)
	for _, id := range s.registry.FlowIDs() {
		def, err := s.registry.Resolve(id)
		if err != nil {
			continue
		}
		flows = append(flows, *def)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(flows))
}

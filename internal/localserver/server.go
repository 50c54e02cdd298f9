// Package localserver implements spec component B: a pluggable local HTTP
// server that multiplexes OAuth2 redirect callbacks and streaming-proxy
// endpoints for many provider instances on a single loopback listener,
// routing by the "state" query parameter (the "dispatch callback" of
// spec.md §4.B). Routing is built on chi.Router, the way ManuGH-xg2g's
// internal/api package composes its HTTP surface, generalized here to a
// two-table dispatch instead of a fixed route tree.
package localserver

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/rolledback/cloudkit/internal/xlog"
)

// AuthHandler answers the OAuth redirect/login endpoints for one state.
type AuthHandler interface {
	// HandleRedirect serves GET /?state=...&code=...  or ?error=...
	HandleRedirect(w http.ResponseWriter, r *http.Request, code, errorParam string)
	// LoginPage serves GET /login?state=... for credential-string providers.
	LoginPage(w http.ResponseWriter, r *http.Request)
	// HandleLoginPost serves POST /login?state=..., where credential-string
	// providers receive the posted username/password form.
	HandleLoginPost(w http.ResponseWriter, r *http.Request)
}

// FileHandler answers the streaming-proxy endpoint for one state.
type FileHandler interface {
	// ServeFile serves GET /?state=...&file=...  (optionally with Range).
	ServeFile(w http.ResponseWriter, r *http.Request, fileID string)
}

// Factory constructs Servers; injectable per spec §4.H's http_server_factory
// hint so tests and alternative deployments can substitute their own.
type Factory func() (*Server, error)

// DefaultFactory binds an ephemeral loopback port, per SPEC_FULL.md's open
// question #1 decision (one port per instance, not a fixed 12345/12346).
func DefaultFactory() (*Server, error) {
	return New("127.0.0.1:0")
}

// Server is a single loopback HTTP listener shared by every provider
// instance that registers a handler on it.
type Server struct {
	listener net.Listener
	http     *http.Server
	mu       sync.RWMutex
	auth     map[string]AuthHandler
	files    map[string]FileHandler
}

// New creates and starts a Server bound to addr ("host:port"; port 0 picks
// an ephemeral one).
func New(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: ln,
		auth:     make(map[string]AuthHandler),
		files:    make(map[string]FileHandler),
	}
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Get("/login", s.handleLogin)
	r.Post("/login", s.handleLoginPost)
	s.http = &http.Server{Handler: r}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			xlog.L().Error().Err(err).Msg("localserver: serve exited")
		}
	}()
	return s, nil
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns "host:port" of the listener.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// RegisterAuth installs h under state. Returns a deregistration func that
// MUST be called when the owning provider/flow ends (spec.md §4.B:
// "a handler is removed when its owning flow ends").
func (s *Server) RegisterAuth(state string, h AuthHandler) (unregister func()) {
	s.mu.Lock()
	s.auth[state] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.auth, state)
		s.mu.Unlock()
	}
}

// RegisterFile installs h under state for the streaming-proxy endpoint.
func (s *Server) RegisterFile(state string, h FileHandler) (unregister func()) {
	s.mu.Lock()
	s.files[state] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.files, state)
		s.mu.Unlock()
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	if state == "" {
		http.Error(w, "missing state", http.StatusBadRequest)
		return
	}

	if fileID := q.Get("file"); fileID != "" {
		s.mu.RLock()
		fh, ok := s.files[state]
		s.mu.RUnlock()
		if !ok {
			http.Error(w, "unknown state", http.StatusForbidden)
			return
		}
		fh.ServeFile(w, r, fileID)
		return
	}

	s.mu.RLock()
	ah, ok := s.auth[state]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown state", http.StatusBadRequest)
		return
	}
	ah.HandleRedirect(w, r, q.Get("code"), q.Get("error"))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	s.mu.RLock()
	ah, ok := s.auth[state]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown state", http.StatusBadRequest)
		return
	}
	ah.LoginPage(w, r)
}

func (s *Server) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	s.mu.RLock()
	ah, ok := s.auth[state]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown state", http.StatusBadRequest)
		return
	}
	ah.HandleLoginPost(w, r)
}

// Close shuts the listener down and waits for in-flight requests to finish,
// returning ctx's error if ctx ends first.
func (s *Server) Close(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Package registry implements spec component H: a name -> factory -> typed
// async instance registry, generalizing rolledback-pwsafe-service's
// provider.Registry.Discover (which scanned a directory of provider
// packages) into an explicit in-process registration table plus the
// InitData struct spec.md §4.H names field-for-field.
package registry

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rolledback/cloudkit/cloud"
	"github.com/rolledback/cloudkit/internal/auth"
	"github.com/rolledback/cloudkit/internal/httpengine"
	"github.com/rolledback/cloudkit/internal/localserver"
)

// Factory builds one adapter instance for a registered provider name.
type Factory func() (cloud.Adapter, error)

// InitData carries every shared resource and seed an instance needs to
// start, per spec.md §4.H.
type InitData struct {
	Token             cloud.Token
	Permission        string // e.g. "read", "read_write" — informational, adapters may ignore
	HTTPEngine        *httpengine.Engine
	HTTPServerFactory localserver.Factory
	ThreadPool        *rate.Limiter // per-instance request throttle; nil disables it
	AuthCallback      auth.Callback
	Hints             map[string]string
}

// Registry is a process-wide table of provider factories.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Factory
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{m: make(map[string]Factory)}
}

// Register installs factory under name, replacing any prior registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[name] = factory
}

// Names lists every registered provider name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.m))
	for n := range r.m {
		names = append(names, n)
	}
	return names
}

// Create builds a running *Facade for name using init, wiring the auth
// machine and request pool. Registering redirect or streaming-proxy
// handlers on a loopback server is left to the caller.
func (r *Registry) Create(name string, init InitData) (*Facade, error) {
	r.mu.RLock()
	factory, ok := r.m[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown provider %q", name)
	}

	adapter, err := factory()
	if err != nil {
		return nil, err
	}

	eng := init.HTTPEngine
	if eng == nil {
		eng = httpengine.New()
	}

	tok := init.Token
	if tok.AccessToken == "" && init.Hints["access_token"] != "" {
		tok.AccessToken = init.Hints["access_token"]
	}
	machine := auth.New(adapter, eng, tok, init.AuthCallback)
	return newFacade(adapter, eng, machine, init), nil
}

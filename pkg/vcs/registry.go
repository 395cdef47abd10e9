package vcs

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/srcscan/srcscan/pkg/model"
)

// Registry resolves backends for VCS pointers. Backends are consulted in
// registration order.
type Registry struct {
	mu       sync.RWMutex
	backends []Backend
}

// NewRegistry returns a registry holding backends.
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{}
	for _, b := range backends {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds b. Registering two backends with the same type is an error.
func (r *Registry) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.backends {
		if strings.EqualFold(existing.Type(), b.Type()) {
			return fmt.Errorf("registering %s backend: another backend is already registered for this type", b.Type())
		}
	}
	r.backends = append(r.backends, b)
	return nil
}

// Resolve finds the backend for v: first by type name, then, when the type is
// blank or unclaimed, by URL.
func (r *Registry) Resolve(v model.VcsInfo) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if strings.TrimSpace(v.Type) != "" {
		for _, b := range r.backends {
			if b.ClaimsType(v.Type) {
				return b, true
			}
		}
	}

	if v.HasURL() {
		for _, b := range r.backends {
			if b.ClaimsURL(v.URL) {
				return b, true
			}
		}
	}
	return nil, false
}

// Types returns the sorted type names of all registered backends.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.backends))
	for _, b := range r.backends {
		types = append(types, b.Type())
	}
	sort.Strings(types)
	return types
}

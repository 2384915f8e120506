package registry

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/user/gosec-playbooks/pkg/finding"
	"github.com/user/gosec-playbooks/pkg/playbook"
)

// Handle publishes the current Registry to concurrent readers. Readers call
// Load (or Resolve) without locking and always see a fully built registry.
// Writers are serialized and must not mutate a registry after publishing it.
type Handle struct {
	current atomic.Pointer[Registry]
	mu      sync.Mutex // single writer
}

// NewHandle returns a handle publishing r. A nil r publishes an empty registry.
func NewHandle(r *Registry) *Handle {
	if r == nil {
		r = New()
	}
	h := &Handle{}
	h.current.Store(r)
	return h
}

// Load returns the registry currently published.
func (h *Handle) Load() *Registry {
	return h.current.Load()
}

// Publish replaces the published registry with r.
func (h *Handle) Publish(r *Registry) {
	if r == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current.Store(r)
}

// Update builds a new registry from the current one and publishes it if fn
// succeeds. fn must not modify the registry it receives.
func (h *Handle) Update(fn func(*Registry) (*Registry, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next, err := fn(h.current.Load())
	if err != nil {
		return err
	}
	if next == nil {
		return errors.New("registry update produced no registry")
	}
	h.current.Store(next)
	return nil
}

// Add publishes a copy of the current registry extended with d.
func (h *Handle) Add(d playbook.Descriptor) error {
	return h.Update(func(r *Registry) (*Registry, error) {
		return r.With(d)
	})
}

// Resolve resolves f against the registry currently published.
func (h *Handle) Resolve(f finding.Finding) (playbook.Descriptor, bool, error) {
	return h.Load().Resolve(f)
}

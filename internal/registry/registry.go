// Package registry tracks the set of active mounts (spec.md §6.11 / C11),
// the way the teacher's OCIFS tracks its ImageMounts, generalized to an
// insertion-ordered table with idempotent re-registration and a
// process-wide singleton guard: a second Registry in one process is a
// programmer error, not a runtime condition to recover from silently.
package registry

import (
	"errors"
	"sync"

	"github.com/kxvfs/convergefs/internal/mountsvc"
)

// ErrAlreadyConstructed is returned by New when a Registry already exists
// in this process.
var ErrAlreadyConstructed = errors.New("registry: a registry already exists in this process")

var (
	singletonMu sync.Mutex
	singleton   *Registry
)

// Registry is an insertion-ordered table of mounts keyed by id.
type Registry struct {
	mu     sync.Mutex
	order  []string
	mounts map[string]*mountsvc.Mount
}

// New constructs the process's Registry. Calling it twice (without the
// package tests' resetSingleton in between) is a programmer error and
// returns ErrAlreadyConstructed.
func New() (*Registry, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return nil, ErrAlreadyConstructed
	}
	r := &Registry{mounts: make(map[string]*mountsvc.Mount)}
	singleton = r
	return r, nil
}

// Register adds or replaces the mount stored under id. Re-registering an
// existing id removes it from its old position and appends it at the end,
// so the registry never holds the same id twice.
func (r *Registry) Register(id string, m *mountsvc.Mount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.mounts[id]; exists {
		for i, k := range r.order {
			if k == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.order = append(r.order, id)
	r.mounts[id] = m
}

// Get returns the mount registered under id, if any.
func (r *Registry) Get(id string) (*mountsvc.Mount, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mounts[id]
	return m, ok
}

// Unregister removes id from the registry. A no-op if id isn't present.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mounts[id]; !ok {
		return
	}
	delete(r.mounts, id)
	for i, k := range r.order {
		if k == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// List returns the registered ids in insertion order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

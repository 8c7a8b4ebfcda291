// Package escrow maps node identifiers to the principal holding their
// escrow. Entries are written once and never change.
package escrow

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrExists is returned when adding an id that is already registered.
	ErrExists = errors.New("escrow already registered")

	// ErrNotFound is returned when looking up an unknown id.
	ErrNotFound = errors.New("escrow not found")
)

// Entry is one id → owner mapping.
type Entry struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

// Registry is an insert-once id → owner store.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]string)}
}

// Add records owner for id. It fails with ErrExists, leaving the stored
// owner untouched, if id is already present.
func (r *Registry) Add(id, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("add escrow %q: %w", id, ErrExists)
	}
	r.entries[id] = owner
	return nil
}

// Get returns the owner recorded for id.
func (r *Registry) Get(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.entries[id]
	if !ok {
		return "", fmt.Errorf("get escrow %q: %w", id, ErrNotFound)
	}
	return owner, nil
}

// List returns all entries ordered by id.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for id, owner := range r.entries {
		out = append(out, Entry{ID: id, Owner: owner})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

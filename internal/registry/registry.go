package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/nodegraph/internal/graph"
)

// ErrUnknownType is returned by Create when no factory is registered for a type id.
var ErrUnknownType = errors.New("unknown node type")

// Factory builds a fresh, unattached node carrying the given label.
type Factory func(label string) *graph.Node

// Registry maps node type ids to their factories.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Panics on duplicate type to surface misconfiguration early.
func (r *Registry) Register(typeID string, f Factory) {
	if f == nil {
		panic(fmt.Sprintf("node registry: nil factory for %q", typeID))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeID]; exists {
		panic(fmt.Sprintf("node registry: duplicate type %q", typeID))
	}
	r.factories[typeID] = f
}

// Unregister removes a factory and reports whether one was registered.
func (r *Registry) Unregister(typeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typeID]; !ok {
		return false
	}
	delete(r.factories, typeID)
	return true
}

func (r *Registry) Get(typeID string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typeID]
	return f, ok
}

// Create builds a node of the given type. The node's type id is always set
// to typeID, whatever the factory did.
func (r *Registry) Create(typeID, label string) (*graph.Node, error) {
	f, ok := r.Get(typeID)
	if !ok {
		return nil, fmt.Errorf("create %q: %w", typeID, ErrUnknownType)
	}
	n := f(label)
	if n == nil {
		return nil, fmt.Errorf("create %q: factory returned no node", typeID)
	}
	n.SetTypeID(typeID)
	return n, nil
}

// Types returns all registered type ids, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

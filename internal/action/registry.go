package action

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an idle action bound to a listener.
type Factory func(l Listener, opts Options) Action

// Registry maps action types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Type]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Type]Factory)}
}

// DefaultRegistry returns a registry holding every built-in action.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeConnect, func(l Listener, opts Options) Action {
		return NewConnectAction(l, opts)
	})
	r.Register(TypeRadioCalibration, func(l Listener, opts Options) Action {
		return NewRadioCalibAction(l, opts)
	})
	return r
}

// Register adds or replaces the factory for t.
func (r *Registry) Register(t Type, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

// New builds an action of type t.
func (r *Registry) New(t Type, l Listener, opts Options) (Action, error) {
	r.mu.RLock()
	f, ok := r.factories[t]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return f(l, opts), nil
}

// Types lists registered types in ascending order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]Type, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

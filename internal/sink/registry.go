// Package sink holds reply sinks: their generation options and the runtime
// scheduling state the scheduler drives.
package sink

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
)

var (
	// ErrDuplicateSink is returned when a sink name is registered twice.
	ErrDuplicateSink = errors.New("sink already registered")
	// ErrUnknownSink is returned when a sink name was never registered.
	ErrUnknownSink = errors.New("unknown sink")
)

// Config is the per-sink configuration. Options are forwarded verbatim to the generator.
type Config struct {
	Options map[string]any `json:"options"`
}

// Registry holds all registered sinks. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]*State
	order []string
}

// NewRegistry creates an empty sink registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]*State)}
}

// Register adds a sink and returns the handle to its scheduling state.
func (r *Registry) Register(name string, cfg Config) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sinks[name]; ok {
		return nil, fmt.Errorf("register %q: %w", name, ErrDuplicateSink)
	}
	st := &State{name: name, options: maps.Clone(cfg.Options)}
	r.sinks[name] = st
	r.order = append(r.order, name)
	return st, nil
}

// Lookup returns the state handle of a registered sink.
func (r *Registry) Lookup(name string) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.sinks[name]
	if !ok {
		return nil, fmt.Errorf("lookup %q: %w", name, ErrUnknownSink)
	}
	return st, nil
}

// Names returns sink names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Snapshot returns a copy of every sink's state, sorted by name.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	states := make([]*State, 0, len(r.sinks))
	for _, st := range r.sinks {
		states = append(states, st)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(states))
	for _, st := range states {
		out = append(out, st.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

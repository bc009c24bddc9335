package node

import (
	"errors"
	"sync"
)

// Registry holds the State of every node instance a host runs, keyed by
// the host's node identifier. A State is created on first access and lives
// until Release or Close.
type Registry struct {
	mu     sync.Mutex
	opts   Options
	states map[string]*State
}

// NewRegistry creates a registry whose states are built with opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, states: make(map[string]*State)}
}

// State returns the state for key, creating it on first access.
func (r *Registry) State(key string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[key]
	if !ok {
		st = NewState(r.opts)
		r.states[key] = st
	}
	return st
}

// Len returns the number of live states.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Release tears down the state for key. The next State call for the same
// key starts from a fresh frame counter and socket, as after a hot reload.
func (r *Registry) Release(key string) error {
	r.mu.Lock()
	st, ok := r.states[key]
	delete(r.states, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return st.Close()
}

// Close releases every state.
func (r *Registry) Close() error {
	r.mu.Lock()
	states := r.states
	r.states = make(map[string]*State)
	r.mu.Unlock()

	var errs []error
	for _, st := range states {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package assets

import (
	"sync"

	"github.com/seantiz/fluxd/internal/model"
)

// Registry holds the installation state of each asset by name. It is safe
// for concurrent use.
type Registry struct {
	mu     sync.Mutex
	states map[string]string
}

// NewRegistry creates an empty registry. Unknown names report
// model.AssetNotInstalled.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]string)}
}

// Status returns the state of name.
func (r *Registry) Status(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[name]; ok {
		return s
	}
	return model.AssetNotInstalled
}

// BeginInstall moves name to installing unless it is already installing or
// installed. It reports whether the caller now owns the install.
func (r *Registry) BeginInstall(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.states[name] {
	case model.AssetInstalling, model.AssetInstalled:
		return false
	}
	r.states[name] = model.AssetInstalling
	return true
}

// Set records the state of name.
func (r *Registry) Set(name, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state == model.AssetNotInstalled {
		delete(r.states, name)
		return
	}
	r.states[name] = state
}

// Remove clears name unless it is installing. It reports whether the state
// was cleared.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[name] == model.AssetInstalling {
		return false
	}
	delete(r.states, name)
	return true
}

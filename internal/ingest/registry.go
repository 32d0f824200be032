package ingest

import "sync"

// Registry is the static + dynamic plugin discovery mechanism named in
// spec §4.4 step 1. Plugins register themselves from an init() (static) or
// are added at runtime by a caller that constructs one from live config
// (dynamic) — both paths funnel through Register.
type Registry struct {
	mu      sync.Mutex
	plugins map[string]Plugin
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds or replaces a plugin by name.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.plugins[p.Name()] = p
}

// Get returns the plugin registered under name, if any.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns every registered plugin with "git" first (per §4.4 step 3's
// ordering requirement) and the rest in registration order.
func (r *Registry) All() []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Plugin, 0, len(r.order))
	if git, ok := r.plugins["git"]; ok {
		out = append(out, git)
	}
	for _, name := range r.order {
		if name == "git" {
			continue
		}
		out = append(out, r.plugins[name])
	}
	return out
}

package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// UnknownPluginError reports a part declaring a plugin that is not
// registered.
type UnknownPluginError struct {
	Name string
}

func (e *UnknownPluginError) Error() string {
	return fmt.Sprintf("unknown plugin %q", e.Name)
}

// Registry maps plugin names to implementations. The zero value is not
// usable, construct with NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry returns a registry pre-loaded with the built-in plugins.
func NewRegistry() *Registry {
	r := &Registry{plugins: map[string]Plugin{}}
	r.Register(&nilPlugin{})
	r.Register(&dumpPlugin{})
	r.Register(&makePlugin{})
	r.Register(&goPlugin{})
	return r
}

// Register adds a plugin, replacing any previous registration under the
// same name.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Name()] = p
}

// Resolve returns the plugin registered under name. The empty name
// resolves to the nil plugin.
func (r *Registry) Resolve(name string) (Plugin, error) {
	if name == "" {
		name = "nil"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok {
		return nil, &UnknownPluginError{Name: name}
	}
	return p, nil
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

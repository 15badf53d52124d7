// Package plugin keeps a registry of speech and language providers. Provider
// packages register themselves from init; a call's providers are then built
// by name from its configuration.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Provider kinds.
const (
	KindSTT = "stt"
	KindLLM = "llm"
	KindTTS = "tts"
)

// ErrNotFound is returned when no plugin is registered under a kind and name.
var ErrNotFound = errors.New("plugin not found")

// Factory creates a new provider instance from configuration.
// The returned value is an stt.STT, llm.LLM or tts.TTS depending on the
// plugin's kind.
type Factory func(cfg map[string]any) (any, error)

// Plugin represents a registered plugin with its metadata.
type Plugin struct {
	Kind        string         // "stt", "tts" or "llm"
	Name        string         // Plugin name (e.g., "openai", "gemini")
	Factory     Factory        // Factory function to create instances
	Description string         // Human-readable description
	Version     string         // Plugin version
	Config      map[string]any // Configuration keys and what they mean
}

// Registry manages plugin registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin // [kind][name] -> Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]map[string]*Plugin)}
}

var globalRegistry = NewRegistry()

// Default returns the registry provider packages register into.
func Default() *Registry {
	return globalRegistry
}

// Register adds a plugin to the global registry.
// This function is typically called from init() functions in plugin packages.
// Panics if a plugin with the same kind and name is already registered.
func Register(kind, name string, factory Factory) {
	globalRegistry.Register(kind, name, factory)
}

// RegisterWithMetadata adds a plugin with additional metadata to the global registry.
func RegisterWithMetadata(plugin *Plugin) {
	globalRegistry.RegisterWithMetadata(plugin)
}

// Get retrieves a plugin factory from the global registry.
func Get(kind, name string) (Factory, bool) {
	return globalRegistry.Get(kind, name)
}

// List returns all registered plugins of a specific kind.
// If kind is empty, returns all plugins.
func List(kind string) []*Plugin {
	return globalRegistry.List(kind)
}

// Register adds a plugin to this registry instance.
// Panics if a plugin with the same kind and name is already registered.
func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{
		Kind:    kind,
		Name:    name,
		Factory: factory,
	})
}

// RegisterWithMetadata adds a plugin with metadata to this registry instance.
// Panics if a plugin with the same kind and name is already registered.
func (r *Registry) RegisterWithMetadata(plugin *Plugin) {
	switch plugin.Kind {
	case KindSTT, KindLLM, KindTTS:
	case "":
		panic("plugin kind cannot be empty")
	default:
		panic(fmt.Sprintf("unknown plugin kind %q", plugin.Kind))
	}
	if plugin.Name == "" {
		panic("plugin name cannot be empty")
	}
	if plugin.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[plugin.Kind] == nil {
		r.plugins[plugin.Kind] = make(map[string]*Plugin)
	}
	if existing, exists := r.plugins[plugin.Kind][plugin.Name]; exists {
		panic(fmt.Sprintf("plugin %s/%s already registered (existing version: %s, new version: %s)",
			plugin.Kind, plugin.Name, existing.Version, plugin.Version))
	}
	r.plugins[plugin.Kind][plugin.Name] = plugin
}

// Get retrieves a plugin factory from this registry instance.
// Returns the factory and true if found, nil and false otherwise.
func (r *Registry) Get(kind, name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugin, exists := r.plugins[kind][name]
	if !exists {
		return nil, false
	}
	return plugin.Factory, true
}

// List returns all registered plugins of a specific kind.
// If kind is empty, returns all plugins sorted by kind then name.
func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var plugins []*Plugin
	for k, kindMap := range r.plugins {
		if kind != "" && k != kind {
			continue
		}
		for _, plugin := range kindMap {
			plugins = append(plugins, plugin)
		}
	}

	sort.Slice(plugins, func(i, j int) bool {
		if plugins[i].Kind != plugins[j].Kind {
			return plugins[i].Kind < plugins[j].Kind
		}
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// create runs the named factory and checks the result has type T.
func create[T any](r *Registry, kind, name string, cfg map[string]any) (T, error) {
	var zero T
	factory, ok := r.Get(kind, name)
	if !ok {
		return zero, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, name)
	}
	instance, err := factory(cfg)
	if err != nil {
		return zero, fmt.Errorf("create %s/%s: %w", kind, name, err)
	}
	provider, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("plugin %s/%s returned %T, which is not a %s provider", kind, name, instance, kind)
	}
	return provider, nil
}

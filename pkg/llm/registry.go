package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// AdapterConfig carries adapter construction parameters.
type AdapterConfig struct {
	APIKey string
	Model  string
}

// AdapterFactory builds a Client from its configuration.
type AdapterFactory func(cfg AdapterConfig) (Client, error)

// Registry maps adapter names to factories. The closed set of recognized
// adapters is whatever has been registered.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]AdapterFactory
}

// NewRegistry returns a registry with the built-in adapters registered.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]AdapterFactory{}}
	r.Register("anthropic", func(cfg AdapterConfig) (Client, error) {
		return NewAnthropicClientFromAPIKey(cfg.APIKey, cfg.Model)
	})
	r.Register("openai", func(cfg AdapterConfig) (Client, error) {
		return NewOpenAIClientFromAPIKey(cfg.APIKey, cfg.Model)
	})
	r.Register("mock", func(cfg AdapterConfig) (Client, error) {
		return NewMockClient(), nil
	})
	return r
}

// Register adds or replaces a named factory.
func (r *Registry) Register(name string, factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the adapter registered under name.
func (r *Registry) New(name string, cfg AdapterConfig) (Client, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown AI adapter %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return factory(cfg)
}

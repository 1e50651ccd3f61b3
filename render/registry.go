package render

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultName is the name the standard processor is registered under.
const DefaultName = "audio-processor"

// Factory builds a processor for one audio session.
type Factory func(config Config, sources ...Source) (*Processor, error)

// Registry maps stable names to processor factories so a host can
// instantiate a processor per session by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the standard processor under
// DefaultName.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories[DefaultName] = NewProcessor
	return r
}

// Register adds a factory. Names must be unique.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("processor name is empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("processor %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// New instantiates the processor registered under name.
func (r *Registry) New(name string, config Config, sources ...Source) (*Processor, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("processor %q is not registered", name)
	}
	return factory(config, sources...)
}

// Names returns the registered names in sorted order.
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

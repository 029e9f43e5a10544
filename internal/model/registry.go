package model

import (
	"fmt"
	"sort"
	"sync"
)

// Config selects and parameterizes a backend.
type Config struct {
	Backend     string
	ModelPath   string
	WeightsPath string
	InputWidth  int
	InputHeight int
	Threads     int
	Norm        Normalization
}

// BackendFactory creates a backbone from configuration and the loaded weights.
type BackendFactory func(cfg Config, weights *Weights) (Backbone, error)

// BackendRegistry maps backend names to factories.
type BackendRegistry struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}

// NewBackendRegistry creates an empty registry.
func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{factories: make(map[string]BackendFactory)}
}

// DefaultRegistry holds the backends linked into the binary.
var DefaultRegistry = NewBackendRegistry()

// Register adds a factory under name.
func (r *BackendRegistry) Register(name string, factory BackendFactory) error {
	if name == "" {
		return fmt.Errorf("backend name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("backend factory cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("backend %s is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// IsRegistered reports whether a backend with that name exists.
func (r *BackendRegistry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered backend names in sorted order.
func (r *BackendRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds a backbone with the named factory.
func (r *BackendRegistry) Create(name string, cfg Config, weights *Weights) (Backbone, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model backend %q (registered: %v)", name, r.Names())
	}
	return factory(cfg, weights)
}

func newNativeBackbone(cfg Config, weights *Weights) (Backbone, error) {
	if len(weights.Backbone) == 0 {
		return nil, fmt.Errorf("native backend requires backbone layers in the weights file")
	}
	return NewConvBackbone(weights.Backbone, cfg.InputHeight, cfg.InputWidth)
}

func init() {
	if err := DefaultRegistry.Register("native", newNativeBackbone); err != nil {
		panic(fmt.Sprintf("failed to register native backend: %v", err))
	}
}

package adapters

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/codetrail/collector/internal/hierarchy"
)

// Registry is the name→adapter lookup shared by the backfill engine,
// the watcher, and the ingestion front-end.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its name.
func (r *Registry) Register(adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %s already registered", name)
	}

	r.adapters[name] = adapter
	return nil
}

// Get retrieves an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[name]
	if !exists {
		return nil, fmt.Errorf("adapter %s not found", name)
	}

	return adapter, nil
}

// List returns all registered adapter names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}

	return names
}

// Detect returns the first adapter whose format sniff accepts the
// sample.
func (r *Registry) Detect(sample string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, adapter := range r.adapters {
		if adapter.SupportsFormat(sample) {
			return adapter, nil
		}
	}

	return nil, fmt.Errorf("no adapter recognizes the log format")
}

// Default creates a registry with all vendor adapters registered.
func Default(legacyProjectID string, cache *hierarchy.Cache, log *zap.Logger) *Registry {
	registry := NewRegistry()

	registry.Register(NewClaudeAdapter(legacyProjectID, cache, log))
	registry.Register(NewCursorAdapter(legacyProjectID, cache, log))
	registry.Register(NewCopilotAdapter(legacyProjectID, cache, log))

	return registry
}

package storage

import (
	"fmt"
	"sync"
)

// Builder constructs a Provider from a backend-specific options map. Each
// concrete backend package registers a Builder under its type name
// ("file", "s3", "s8k", "azure", "gcs", "oci", "ais") from an init()
// function, replacing the source's runtime reflection over
// fully-qualified class names with compile-time registration.
type Builder func(options map[string]interface{}) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Builder{}
)

// Register adds a Builder for the given storage_provider.type name. It
// panics on duplicate registration, the idiomatic Go pattern for
// init()-time registry collisions (mirrors database/sql.Register).
func Register(typeName string, builder Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[typeName]; exists {
		panic(fmt.Sprintf("storage: Register called twice for type %q", typeName))
	}
	registry[typeName] = builder
}

// New constructs a Provider for the given storage_provider.type using the
// Builder registered under that name.
func New(typeName string, options map[string]interface{}) (Provider, error) {
	registryMu.RLock()
	builder, ok := registry[typeName]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown provider type %q", typeName)
	}
	return builder(options)
}

// Types returns the currently registered provider type names, useful for
// config validation error messages.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

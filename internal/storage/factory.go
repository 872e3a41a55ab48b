// factory.go implements the archive backend registry and factory, mapping backend
// type strings (local, s3) to constructor functions and dispatching NewBackend calls.
package storage

import (
	"fmt"

	"github.com/audit-sentinel/audit-sentinel/internal/config"
)

// Factory function type for creating archive backends
type FactoryFunc func(*config.Config) (Backend, error)

var factories = make(map[string]FactoryFunc)

// Register registers an archive backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewBackend creates a new archive backend based on configuration
func NewBackend(cfg *config.Config) (Backend, error) {
	factory, ok := factories[cfg.Archive.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %s (must be 'local' or 's3')", cfg.Archive.Backend)
	}

	return factory(cfg)
}

// Package storage defines the Backend interface and common types for archive
// storage backends. Before the retention job deletes expired audit entries it
// uploads them as NDJSON snapshots through a Backend, so an expired trail can
// still be consulted offline.
//
// New backends are added by implementing the Backend interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Backend, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
// This means adding a new backend requires no changes to the factory or main
// package — only a blank import in cmd/server/main.go.
package storage

import (
	"context"
	"io"
)

// Backend defines the interface for archive storage backends.
// Implementations must support upload, download, and existence checks.
type Backend interface {
	// Upload stores an archive object and returns the result with path and checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download retrieves an archive object and returns a reader
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists checks if an archive object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult contains information about an uploaded archive object
type UploadResult struct {
	// Path is the storage path where the object was stored
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string
}

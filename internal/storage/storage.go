// Package storage abstracts the object store the serving core reads
// assets from and the retention engine deletes from. Per §1 this is a
// non-goal external collaborator; the interface below is what callers
// depend on. A local-disk reference implementation is provided for tests
// and single-node deployments.
package storage

import (
	"context"
	"io"
)

// Gateway is the storage capability consumed by the serving core.
type Gateway interface {
	// Upload writes data to key, replacing any existing object.
	Upload(ctx context.Context, key string, data io.Reader, size int64) error
	// Download returns a reader for key's contents. Callers must Close it.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes a single object. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object whose key starts with prefix, used
	// by the retention engine for full-commit deletion.
	DeletePrefix(ctx context.Context, prefix string) error
	// GetURL returns a URL assets can be fetched from directly (e.g. for a
	// CDN origin pull), if the backend supports it.
	GetURL(ctx context.Context, key string) (string, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

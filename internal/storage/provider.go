// Package storage defines the blob storage abstraction used to archive
// exported bacpac files. Backends live in the gcs, local, and memory
// subpackages so callers stay independent of where artifacts land.
package storage

import (
	"context"
	"io"
)

// BlobStore persists a stream under an object path and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Discard is a BlobStore that reads and drops content, useful for dry runs.
type Discard struct{}

// PutObject drains r and returns a discard:// URI.
func (Discard) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err //nolint:wrapcheck
	}
	return "discard://" + path, nil
}

// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to write into GCS.
type Config struct {
	Bucket string
	// VerifyBucket fetches bucket attributes at construction to fail fast on
	// misconfiguration or missing permissions.
	VerifyBucket bool
	// ChunkSize is the resumable upload chunk in bytes. Zero keeps the
	// client default.
	ChunkSize int
}

// BlobStore uploads artifacts to a configured GCS bucket.
type BlobStore struct {
	client    *storage.Client
	bucket    string
	chunkSize int
}

// New creates a GCS-backed blob store.
func New(ctx context.Context, client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.VerifyBucket {
		if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
			return nil, fmt.Errorf("get bucket %q attributes: %w", cfg.Bucket, err)
		}
	}
	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk size must be >= 0, got %d", cfg.ChunkSize)
	}
	return &BlobStore{client: client, bucket: cfg.Bucket, chunkSize: cfg.ChunkSize}, nil
}

// PutObject streams r into the bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if s.chunkSize > 0 {
		writer.ChunkSize = s.chunkSize
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Package artifact archives finished bacpac files to a blob store.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/hash/sha256"
	"github.com/JakeFAU/bacpac-orchestrator/internal/storage"
)

// ContentType is the media type recorded for uploaded bacpacs.
const ContentType = "application/zip"

// Artifact describes an uploaded file.
type Artifact struct {
	URI    string `json:"uri"`
	Key    string `json:"key"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size_bytes"`
}

// Uploader copies local files into a BlobStore under prefix/run-id/name.
type Uploader struct {
	store  storage.BlobStore
	prefix string
	hasher *sha256.Hasher
	logger *zap.Logger
}

// NewUploader constructs an Uploader.
func NewUploader(store storage.BlobStore, prefix string, logger *zap.Logger) (*Uploader, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		hasher: sha256.New(),
		logger: logger.Named("artifact"),
	}, nil
}

// Key returns the object key used for a run's file.
func (u *Uploader) Key(runID uuid.UUID, localPath string) string {
	return path.Join(u.prefix, runID.String(), filepath.Base(localPath))
}

// Upload digests localPath and streams it to the store.
func (u *Uploader) Upload(ctx context.Context, runID uuid.UUID, localPath string) (Artifact, error) {
	digest, size, err := u.hasher.HashFile(localPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("digest artifact: %w", err)
	}

	// #nosec G304 -- path is an artifact produced by this process.
	f, err := os.Open(localPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := u.Key(runID, localPath)
	uri, err := u.store.PutObject(ctx, key, ContentType, f)
	if err != nil {
		return Artifact{}, fmt.Errorf("upload artifact: %w", err)
	}
	u.logger.Info("artifact uploaded",
		zap.String("run_id", runID.String()),
		zap.String("uri", uri),
		zap.String("size", humanize.IBytes(uint64(max(size, 0)))),
		zap.String("sha256", digest),
	)
	return Artifact{URI: uri, Key: key, SHA256: digest, Size: size}, nil
}

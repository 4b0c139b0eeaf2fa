// Package sha256 provides streaming SHA-256 digests for artifact files.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Hasher computes hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashReader streams r through the digest and reports the bytes consumed.
func (h *Hasher) HashReader(r io.Reader) (string, int64, error) {
	digest := sha256.New()
	n, err := io.Copy(digest, r)
	if err != nil {
		return "", n, fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(digest.Sum(nil)), n, nil
}

// HashFile digests the file at path without loading it into memory.
func (h *Hasher) HashFile(path string) (string, int64, error) {
	// #nosec G304 -- path is an artifact produced by this process.
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return h.HashReader(f)
}

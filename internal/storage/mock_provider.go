package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore is a testify mock of BlobStore. It drains the reader before
// recording the call so expectations can match on the uploaded bytes.
type MockBlobStore struct {
	mock.Mock
}

// PutObject records the call with the content read from r.
func (m *MockBlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

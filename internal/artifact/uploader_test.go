package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bacpac-orchestrator/internal/hash/sha256"
	"github.com/JakeFAU/bacpac-orchestrator/internal/storage"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "Sales-20240101-0000.bacpac")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestUploadStreamsFile(t *testing.T) {
	t.Parallel()

	local := writeFile(t, "PK-bacpac")
	runID := uuid.MustParse("0190d4a0-0000-7000-8000-000000000001")
	store := &storage.MockBlobStore{}
	key := "backups/" + runID.String() + "/Sales-20240101-0000.bacpac"
	store.On("PutObject", mock.Anything, key, ContentType, []byte("PK-bacpac")).
		Return("gs://bucket/"+key, nil).Once()

	up, err := NewUploader(store, "/backups/", nil)
	require.NoError(t, err)

	art, err := up.Upload(context.Background(), runID, local)
	require.NoError(t, err)
	require.Equal(t, "gs://bucket/"+key, art.URI)
	require.Equal(t, key, art.Key)
	require.Equal(t, int64(len("PK-bacpac")), art.Size)

	want, _ := sha256.New().Hash([]byte("PK-bacpac"))
	require.Equal(t, want, art.SHA256)
	store.AssertExpectations(t)
}

func TestUploadPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	local := writeFile(t, "x")
	store := &storage.MockBlobStore{}
	boom := errors.New("bucket gone")
	store.On("PutObject", mock.Anything, mock.Anything, ContentType, []byte("x")).Return("", boom)

	up, err := NewUploader(store, "", nil)
	require.NoError(t, err)
	_, err = up.Upload(context.Background(), uuid.New(), local)
	require.ErrorIs(t, err, boom)
}

func TestUploadMissingFile(t *testing.T) {
	t.Parallel()

	up, err := NewUploader(storage.Discard{}, "p", nil)
	require.NoError(t, err)
	_, err = up.Upload(context.Background(), uuid.New(), filepath.Join(t.TempDir(), "nope.bacpac"))
	require.Error(t, err)
}

func TestNewUploaderRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := NewUploader(nil, "", nil)
	require.Error(t, err)
}

package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(context.Background(), client, Config{})
	require.Error(t, err)

	_, err = New(context.Background(), client, Config{Bucket: "b", ChunkSize: -1})
	require.ErrorContains(t, err, "chunk size")
}

func TestPutObjectUploadsContent(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/backups/o")
		assert.Equal(t, "runs/1/Sales.bacpac", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "bacpac-bytes")
		fmt.Fprintln(w, `{"name":"runs/1/Sales.bacpac","bucket":"backups"}`)
	})
	blobs, err := New(context.Background(), newTestClient(t, handler), Config{Bucket: "backups"})
	require.NoError(t, err)

	uri, err := blobs.PutObject(context.Background(), "runs/1/Sales.bacpac", "application/zip",
		strings.NewReader("bacpac-bytes"))
	require.NoError(t, err)
	require.Equal(t, "gs://backups/runs/1/Sales.bacpac", uri)
}

func TestPutObjectSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	blobs, err := New(context.Background(), newTestClient(t, handler), Config{Bucket: "backups"})
	require.NoError(t, err)

	_, err = blobs.PutObject(context.Background(), "runs/1/Sales.bacpac", "", strings.NewReader("x"))
	require.Error(t, err)

	_, err = blobs.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestNewVerifiesBucket(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"error":{"code":404,"message":"Not Found"}}`)
	})
	_, err := New(context.Background(), newTestClient(t, handler), Config{Bucket: "missing", VerifyBucket: true})
	require.Error(t, err)
}

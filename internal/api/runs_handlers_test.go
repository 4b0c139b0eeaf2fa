package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bacpac-orchestrator/internal/config"
	"github.com/JakeFAU/bacpac-orchestrator/internal/storage/memory"
	"github.com/JakeFAU/bacpac-orchestrator/internal/store"
)

func seedRuns(t *testing.T) (*memory.RunStore, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo := memory.NewRunStore()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	done := uuid.MustParse("0190b5a4-7f00-7000-8000-000000000001")
	running := uuid.MustParse("0190b5a4-7f00-7000-8000-000000000002")
	require.NoError(t, repo.UpsertRunStart(ctx, done, "backup", "Sales", t0))
	artifact := "gs://bucket/bacpacs/Sales.bacpac"
	require.NoError(t, repo.CompleteRun(ctx, done, t0.Add(time.Minute), store.RunSuccess, &artifact, nil))
	require.NoError(t, repo.UpsertRunStart(ctx, running, "restore", "Inventory", t0.Add(time.Hour)))
	require.NoError(t, repo.UpdateRunProgress(ctx, running, 42.5, "Processing Import...", t0.Add(time.Hour)))
	return repo, done, running
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	repo, done, running := seedRuns(t)
	rec := serve(newTestServer(newFakeOps(), repo, config.Config{}), http.MethodGet, "/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	require.Equal(t, running.String(), body.Runs[0].ID)
	require.InDelta(t, 42.5, body.Runs[0].Percent, 0.001)
	require.Equal(t, done.String(), body.Runs[1].ID)
	require.NotNil(t, body.Runs[1].Artifact)
}

func TestListRunsFiltersAndPages(t *testing.T) {
	t.Parallel()

	repo, done, _ := seedRuns(t)
	server := newTestServer(newFakeOps(), repo, config.Config{})

	rec := serve(server, http.MethodGet, "/v1/runs?status=success", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), done.String())
	require.NotContains(t, rec.Body.String(), "Inventory")

	rec = serve(server, http.MethodGet, "/v1/runs?limit=1&offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), done.String())

	for _, query := range []string{"status=paused", "limit=0", "limit=abc", "offset=-1"} {
		rec = serve(server, http.MethodGet, "/v1/runs?"+query, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	repo, done, _ := seedRuns(t)
	server := newTestServer(newFakeOps(), repo, config.Config{})

	rec := serve(server, http.MethodGet, "/v1/runs/"+done.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"success"`)

	rec = serve(server, http.MethodGet, "/v1/runs/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(server, http.MethodGet, "/v1/runs/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsUnavailableWithoutRepository(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeOps(), nil, config.Config{})
	require.Equal(t, http.StatusServiceUnavailable, serve(server, http.MethodGet, "/v1/runs", "").Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(server, http.MethodGet, "/v1/runs/"+uuid.NewString(), "").Code)
}

func TestRunsRepositoryFailure(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeOps(), failingRuns{}, config.Config{})
	require.Equal(t, http.StatusInternalServerError, serve(server, http.MethodGet, "/v1/runs", "").Code)
	require.Equal(t, http.StatusInternalServerError, serve(server, http.MethodGet, "/v1/runs/"+uuid.NewString(), "").Code)
}

type failingRuns struct{ store.RunRepository }

func (failingRuns) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, errors.New("connection reset")
}

func (failingRuns) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, errors.New("connection reset")
}

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/bacpac"
	"github.com/JakeFAU/bacpac-orchestrator/internal/config"
	"github.com/JakeFAU/bacpac-orchestrator/internal/connstr"
	"github.com/JakeFAU/bacpac-orchestrator/internal/metrics"
	"github.com/JakeFAU/bacpac-orchestrator/internal/operation"
	"github.com/JakeFAU/bacpac-orchestrator/internal/store"
)

func TestServerHealthAndReady(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeOps(), nil, config.Config{})
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := serve(server, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServerReadyFailsWithoutSession(t *testing.T) {
	t.Parallel()

	ops := newFakeOps()
	ops.viewErr = errors.New("session closed")
	rec := serve(newTestServer(ops, nil, config.Config{}), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerMetricsExposeRegistry(t *testing.T) {
	t.Parallel()

	reg := metrics.NewRegistry()
	httpMetrics, err := metrics.NewHTTP(reg)
	require.NoError(t, err)
	server := NewServer(newFakeOps(), nil, config.Config{}, reg, httpMetrics, zap.NewNop())

	serve(server, http.MethodGet, "/v1/operations/backup", "")
	rec := serve(server, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `route="/v1/operations/{kind}`)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := newTestServer(newFakeOps(), nil, cfg)

	rec := serve(server, http.MethodGet, "/v1/operations/backup", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/operations/backup", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodGet, "/v1/operations/backup?api_key=secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeOps(), nil, config.Config{})
	rec := serve(server, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	ops := newFakeOps()
	ops.panicOnView = true
	rec := serve(newTestServer(ops, nil, config.Config{}), http.MethodGet, "/v1/operations/restore", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func newTestServer(ops Operations, runs store.RunRepository, cfg config.Config) *Server {
	return NewServer(ops, runs, cfg, prometheus.NewRegistry(), nil, zap.NewNop())
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeOps struct {
	mu          sync.Mutex
	views       map[operation.Kind]operation.View
	viewErr     error
	panicOnView bool

	startErr  error
	started   []operation.Request
	canceled  bool
	resetOK   bool
	databases []string
	dbErr     error
	dbCreds   connstr.Credentials
	testErr   error
	testConn  string
	summary   bacpac.Summary
	previewEr error
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		views: map[operation.Kind]operation.View{
			operation.KindBackup:  {Kind: operation.KindBackup, State: operation.StateIdle, Status: "Ready"},
			operation.KindRestore: {Kind: operation.KindRestore, State: operation.StateIdle, Status: "Ready"},
		},
	}
}

func (f *fakeOps) View(kind operation.Kind) (operation.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnView {
		panic("view exploded")
	}
	if f.viewErr != nil {
		return operation.View{}, f.viewErr
	}
	return f.views[kind], nil
}

func (f *fakeOps) Start(_ context.Context, kind operation.Kind, req operation.Request) (operation.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.views[kind], f.startErr
	}
	f.started = append(f.started, req)
	v := f.views[kind]
	v.State = operation.StateRunning
	v.RunID = "0190b5a4-7f00-7000-8000-000000000001"
	f.views[kind] = v
	return v, nil
}

func (f *fakeOps) Cancel(context.Context, operation.Kind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled, nil
}

func (f *fakeOps) Reset(context.Context, operation.Kind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resetOK, nil
}

func (f *fakeOps) LoadDatabases(_ context.Context, _ operation.Kind, creds connstr.Credentials) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dbCreds = creds
	return f.databases, f.dbErr
}

func (f *fakeOps) TestConnection(_ context.Context, _ operation.Kind, connectionString string, _ connstr.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testConn = connectionString
	return f.testErr
}

func (f *fakeOps) Preview(context.Context, string) (bacpac.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary, f.previewEr
}

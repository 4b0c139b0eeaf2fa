// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/app"
	"github.com/JakeFAU/bacpac-orchestrator/internal/config"
	"github.com/JakeFAU/bacpac-orchestrator/internal/connstr"
	"github.com/JakeFAU/bacpac-orchestrator/internal/engine/scripted"
	"github.com/JakeFAU/bacpac-orchestrator/internal/operation"
	memorypublisher "github.com/JakeFAU/bacpac-orchestrator/internal/publisher/memory"
	memorystorage "github.com/JakeFAU/bacpac-orchestrator/internal/storage/memory"
	"github.com/JakeFAU/bacpac-orchestrator/internal/store"
)

// MockCatalog mocks the app.Catalog interface.
type MockCatalog struct {
	mock.Mock
}

// ListUserDatabases satisfies the app.Catalog interface for the mock.
func (m *MockCatalog) ListUserDatabases(ctx context.Context, creds connstr.Credentials) ([]string, error) {
	args := m.Called(ctx, creds)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

// TestConnection satisfies the app.Catalog interface for the mock.
func (m *MockCatalog) TestConnection(ctx context.Context, dsn string) error {
	args := m.Called(ctx, dsn)
	return args.Error(0)
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Server.Port = 8080
	cfg.Engine.Driver = config.EngineScripted
	cfg.Progress.FlushInterval = 5 * time.Millisecond
	cfg.Progress.BatchSize = 10
	cfg.Progress.DrainTimeout = time.Second
	cfg.Activity.Capacity = 100
	cfg.Quiescence.Poll = time.Millisecond
	cfg.Quiescence.Quiet = 5 * time.Millisecond
	cfg.Quiescence.Cap = 50 * time.Millisecond
	cfg.Events.MaxBatchWait = 5 * time.Millisecond
	cfg.Storage.Backend = config.StorageNone
	cfg.Storage.Prefix = "bacpacs"
	cfg.Storage.UploadTimeout = 5 * time.Second
	return cfg
}

func quickEngine() *scripted.Engine {
	lines := []string{"Processing Export. 50% done.", "Processing Export. 100% done."}
	return scripted.New(
		scripted.Script{Lines: lines},
		scripted.Script{Lines: []string{"Processing Import. 100% done."}},
	)
}

func build(t *testing.T, cfg config.Config, opts app.Options) *app.App {
	t.Helper()
	if opts.Engine == nil {
		opts.Engine = quickEngine()
	}
	a, err := app.Build(context.Background(), cfg, zap.NewNop(), opts)
	require.NoError(t, err)
	return a
}

func closeApp(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}

func TestBuildDefaultsToInMemoryBackends(t *testing.T) {
	t.Parallel()

	a := build(t, testConfig(), app.Options{Catalog: &MockCatalog{}})
	defer closeApp(t, a)

	assert.IsType(t, &memorystorage.RunStore{}, a.Runs())
	assert.IsType(t, &memorypublisher.Publisher{}, a.Publisher())
	assert.NotNil(t, a.Registry())
	assert.NotNil(t, a.Handler())

	for _, kind := range []operation.Kind{operation.KindBackup, operation.KindRestore} {
		v, err := a.Session().View(kind)
		require.NoError(t, err)
		assert.Equal(t, operation.StateIdle, v.State)
	}
}

func TestBuildRejectsBadLocalStorage(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Backend = config.StorageLocal
	_, err := app.Build(context.Background(), cfg, zap.NewNop(), app.Options{Engine: quickEngine(), Catalog: &MockCatalog{}})
	require.Error(t, err)
}

func TestBackupRecordsRunAndUploadsArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "sales.bacpac")
	require.NoError(t, os.WriteFile(out, []byte("archive"), 0o600))

	runs := memorystorage.NewRunStore()
	pub := memorypublisher.New()
	blobs := memorystorage.NewBlobStore()
	a := build(t, testConfig(), app.Options{
		Catalog:   &MockCatalog{},
		Runs:      runs,
		Publisher: pub,
		BlobStore: blobs,
	})

	ctx := context.Background()
	v, err := a.Session().Start(ctx, operation.KindBackup, operation.Request{
		OutputPath: out,
		Server:     "sql01",
		Username:   "sa",
		Password:   "pw",
		Database:   "sales",
	})
	require.NoError(t, err)
	require.NotEmpty(t, v.RunID)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := a.Session().Wait(waitCtx, operation.KindBackup)
	require.NoError(t, err)
	require.Equal(t, operation.StateCompleted, final.State)
	assert.Equal(t, "Backup created at: "+out, final.CompletionMessage)

	closeApp(t, a)

	runID, err := uuid.Parse(v.RunID)
	require.NoError(t, err)
	run, err := runs.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, run.Status)
	assert.Equal(t, "backup", run.Kind)
	require.NotNil(t, run.Artifact)
	assert.Contains(t, *run.Artifact, runID.String())

	data, _, ok := blobs.Object("bacpacs/" + runID.String() + "/sales.bacpac")
	require.True(t, ok)
	assert.Equal(t, "archive", string(data))
	assert.NotEmpty(t, pub.Messages())
}

func TestRestoreFailureIsRecorded(t *testing.T) {
	t.Parallel()

	eng := scripted.New(
		scripted.Script{},
		scripted.Script{Lines: []string{"Processing Import. 10% done."}, Err: errors.New("login failed")},
	)
	runs := memorystorage.NewRunStore()
	a := build(t, testConfig(), app.Options{Engine: eng, Catalog: &MockCatalog{}, Runs: runs})

	ctx := context.Background()
	v, err := a.Session().Start(ctx, operation.KindRestore, operation.Request{
		BacpacPath: filepath.Join(t.TempDir(), "in.bacpac"),
		Server:     "sql01",
		Username:   "sa",
		Password:   "pw",
		Database:   "sales",
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := a.Session().Wait(waitCtx, operation.KindRestore)
	require.NoError(t, err)
	assert.Equal(t, operation.StateFailed, final.State)
	assert.Equal(t, "Restore failed", final.Status)

	closeApp(t, a)

	run, err := runs.GetRun(ctx, uuid.MustParse(v.RunID))
	require.NoError(t, err)
	assert.Equal(t, store.RunError, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "login failed")
}

func TestStartValidationLeavesControllerIdle(t *testing.T) {
	t.Parallel()

	a := build(t, testConfig(), app.Options{Catalog: &MockCatalog{}})
	defer closeApp(t, a)

	v, err := a.Session().Start(context.Background(), operation.KindRestore, operation.Request{
		BacpacPath: "in.bacpac",
		Server:     "sql01",
		Username:   "sa",
		Password:   "pw",
	})
	var verr *operation.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Target database required", verr.Status)
	assert.Equal(t, operation.StateIdle, v.State)
}

func TestCancelAndResetRunningBackup(t *testing.T) {
	t.Parallel()

	eng := scripted.New(
		scripted.Script{Lines: []string{"Processing Export. 5% done."}, WaitForCancel: true},
		scripted.Script{},
	)
	a := build(t, testConfig(), app.Options{Engine: eng, Catalog: &MockCatalog{}})
	defer closeApp(t, a)

	ctx := context.Background()
	_, err := a.Session().Start(ctx, operation.KindBackup, operation.Request{
		OutputPath: filepath.Join(t.TempDir(), "x.bacpac"),
		Server:     "sql01",
		Username:   "sa",
		Password:   "pw",
		Database:   "sales",
	})
	require.NoError(t, err)

	_, err = a.Session().Start(ctx, operation.KindBackup, operation.Request{})
	require.ErrorIs(t, err, operation.ErrBusy)

	reset, err := a.Session().Reset(ctx, operation.KindBackup)
	require.NoError(t, err)
	assert.False(t, reset, "active runs cannot be reset")

	canceled, err := a.Session().Cancel(ctx, operation.KindBackup)
	require.NoError(t, err)
	require.True(t, canceled)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := a.Session().Wait(waitCtx, operation.KindBackup)
	require.NoError(t, err)
	assert.Equal(t, operation.StateCanceled, final.State)

	reset, err = a.Session().Reset(ctx, operation.KindBackup)
	require.NoError(t, err)
	assert.True(t, reset)
	v, err := a.Session().View(operation.KindBackup)
	require.NoError(t, err)
	assert.Equal(t, operation.StateIdle, v.State)
}

func TestSessionLoadDatabases(t *testing.T) {
	t.Parallel()

	creds := connstr.Credentials{Server: "sql01", User: "sa", Password: "pw"}
	cat := &MockCatalog{}
	cat.On("ListUserDatabases", mock.Anything, creds).Return([]string{"hr", "sales"}, nil).Once()

	a := build(t, testConfig(), app.Options{Catalog: cat})
	defer closeApp(t, a)

	names, err := a.Session().LoadDatabases(context.Background(), operation.KindRestore, creds)
	require.NoError(t, err)
	assert.Equal(t, []string{"hr", "sales"}, names)
	cat.AssertExpectations(t)

	require.Eventually(t, func() bool {
		v, _ := a.Session().View(operation.KindRestore)
		return v.Status == "2 database(s) ready"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionLoadDatabasesValidatesCredentials(t *testing.T) {
	t.Parallel()

	cat := &MockCatalog{}
	a := build(t, testConfig(), app.Options{Catalog: cat})
	defer closeApp(t, a)

	_, err := a.Session().LoadDatabases(context.Background(), operation.KindBackup, connstr.Credentials{User: "sa"})
	var verr *operation.ValidationError
	require.ErrorAs(t, err, &verr)
	cat.AssertNotCalled(t, "ListUserDatabases", mock.Anything, mock.Anything)
}

func TestSessionLoadDatabasesFailure(t *testing.T) {
	t.Parallel()

	creds := connstr.Credentials{Server: "sql01", User: "sa", Password: "pw"}
	cat := &MockCatalog{}
	cat.On("ListUserDatabases", mock.Anything, creds).Return(nil, errors.New("network down")).Once()

	a := build(t, testConfig(), app.Options{Catalog: cat})
	defer closeApp(t, a)

	_, err := a.Session().LoadDatabases(context.Background(), operation.KindRestore, creds)
	require.ErrorContains(t, err, "network down")

	require.Eventually(t, func() bool {
		v, _ := a.Session().View(operation.KindRestore)
		return v.Status == "Database load failed"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionTestConnectionUsesRawString(t *testing.T) {
	t.Parallel()

	cat := &MockCatalog{}
	cat.On("TestConnection", mock.Anything, "sqlserver://sa:pw@sql01?database=sales").Return(nil).Once()

	a := build(t, testConfig(), app.Options{Catalog: cat})
	defer closeApp(t, a)

	err := a.Session().TestConnection(context.Background(), operation.KindBackup,
		"sqlserver://sa:pw@sql01?database=sales", connstr.Credentials{})
	require.NoError(t, err)
	cat.AssertExpectations(t)
}

func TestSessionTestConnectionBuildsMasterDSN(t *testing.T) {
	t.Parallel()

	creds := connstr.Credentials{Server: "sql01", User: "sa", Password: "pw"}
	cat := &MockCatalog{}
	cat.On("TestConnection", mock.Anything, connstr.DriverDSN(creds, "master")).Return(errors.New("login failed")).Once()

	a := build(t, testConfig(), app.Options{Catalog: cat})
	defer closeApp(t, a)

	err := a.Session().TestConnection(context.Background(), operation.KindRestore, "", creds)
	require.ErrorContains(t, err, "login failed")
	cat.AssertExpectations(t)
}

func TestSessionPreviewRequiresPath(t *testing.T) {
	t.Parallel()

	a := build(t, testConfig(), app.Options{Catalog: &MockCatalog{}})
	defer closeApp(t, a)

	_, err := a.Session().Preview(context.Background(), "  ")
	var verr *operation.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Select a bacpac file first.", verr.Message)
}

func TestSessionShutdownCancelsActiveRuns(t *testing.T) {
	t.Parallel()

	eng := scripted.New(
		scripted.Script{},
		scripted.Script{Lines: []string{"Processing Import. 5% done."}, WaitForCancel: true},
	)
	a := build(t, testConfig(), app.Options{Engine: eng, Catalog: &MockCatalog{}})

	_, err := a.Session().Start(context.Background(), operation.KindRestore, operation.Request{
		BacpacPath: "in.bacpac",
		Server:     "sql01",
		Username:   "sa",
		Password:   "pw",
		Database:   "sales",
	})
	require.NoError(t, err)

	closeApp(t, a)

	v, err := a.Session().View(operation.KindRestore)
	require.NoError(t, err)
	assert.Equal(t, operation.StateCanceled, v.State)
}

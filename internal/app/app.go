// Package app composes the long-lived services of the orchestrator: the
// consumer loop, both operation controllers, the lifecycle hub and its sinks,
// run history, artifact storage, notifications and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/activity"
	"github.com/JakeFAU/bacpac-orchestrator/internal/api"
	"github.com/JakeFAU/bacpac-orchestrator/internal/artifact"
	"github.com/JakeFAU/bacpac-orchestrator/internal/catalog"
	"github.com/JakeFAU/bacpac-orchestrator/internal/clock/system"
	"github.com/JakeFAU/bacpac-orchestrator/internal/config"
	"github.com/JakeFAU/bacpac-orchestrator/internal/consumer"
	"github.com/JakeFAU/bacpac-orchestrator/internal/engine"
	"github.com/JakeFAU/bacpac-orchestrator/internal/engine/scripted"
	"github.com/JakeFAU/bacpac-orchestrator/internal/engine/sqlpackage"
	"github.com/JakeFAU/bacpac-orchestrator/internal/events"
	"github.com/JakeFAU/bacpac-orchestrator/internal/events/sinks"
	idgen "github.com/JakeFAU/bacpac-orchestrator/internal/id/uuid"
	"github.com/JakeFAU/bacpac-orchestrator/internal/metrics"
	"github.com/JakeFAU/bacpac-orchestrator/internal/operation"
	"github.com/JakeFAU/bacpac-orchestrator/internal/progress"
	"github.com/JakeFAU/bacpac-orchestrator/internal/publisher"
	memorypublisher "github.com/JakeFAU/bacpac-orchestrator/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/bacpac-orchestrator/internal/publisher/pubsub"
	"github.com/JakeFAU/bacpac-orchestrator/internal/quiesce"
	blobstorage "github.com/JakeFAU/bacpac-orchestrator/internal/storage"
	gcsstorage "github.com/JakeFAU/bacpac-orchestrator/internal/storage/gcs"
	localstorage "github.com/JakeFAU/bacpac-orchestrator/internal/storage/local"
	memorystorage "github.com/JakeFAU/bacpac-orchestrator/internal/storage/memory"
	pgstore "github.com/JakeFAU/bacpac-orchestrator/internal/storage/postgres"
	"github.com/JakeFAU/bacpac-orchestrator/internal/store"
)

const defaultShutdownTimeout = 30 * time.Second

// Options override collaborators that Build would otherwise derive from the
// configuration. Zero values keep the configured behavior.
type Options struct {
	Engine         engine.Engine
	Catalog        Catalog
	Publisher      publisher.Publisher
	BlobStore      blobstorage.BlobStore
	Runs           store.RunRepository
	BackupDisplay  operation.Display
	RestoreDisplay operation.Display
	Clock          operation.Clock
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	loop      *consumer.Loop
	hub       *events.Hub
	session   *Session
	runs      store.RunRepository
	publisher publisher.Publisher
	apiServer *api.Server

	backup  *operation.Controller
	restore *operation.Controller

	pgRuns       *pgstore.RunStore
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
	gcsClient    *storage.Client
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building application dependencies", zap.String("engine", cfg.Engine.Driver))

	a.registry = metrics.NewRegistry()
	httpMetrics, err := metrics.NewHTTP(a.registry)
	if err != nil {
		return nil, fmt.Errorf("http metrics init failed: %w", err)
	}

	if err := a.setupRuns(ctx, opts.Runs); err != nil {
		return nil, a.abort(err)
	}
	if err := a.setupPublisher(ctx, opts.Publisher); err != nil {
		return nil, a.abort(err)
	}
	blobs, err := a.setupStorage(ctx, opts.BlobStore)
	if err != nil {
		return nil, a.abort(err)
	}

	a.loop = consumer.New(logger.Named("consumer"))
	if err := a.setupHub(ctx, blobs); err != nil {
		return nil, a.abort(err)
	}

	eng := opts.Engine
	if eng == nil {
		eng = a.newEngine()
	}
	if err := a.setupControllers(eng, opts); err != nil {
		return nil, a.abort(err)
	}

	cat := opts.Catalog
	if cat == nil {
		cat = catalog.New(logger)
	}
	a.session, err = NewSession(a.loop, a.backup, a.restore, cat, logger)
	if err != nil {
		return nil, a.abort(err)
	}

	a.apiServer = api.NewServer(a.session, a.runs, cfg, a.registry, httpMetrics, logger.Named("api"))
	return a, nil
}

// Session returns the operation session.
func (a *App) Session() *Session {
	return a.session
}

// Runs returns the run history repository.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Publisher returns the completion notification publisher.
func (a *App) Publisher() publisher.Publisher {
	return a.publisher
}

// Registry returns the Prometheus registry served on /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the HTTP API and blocks until ctx is canceled or a signal
// arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("serve http: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close cancels active operations, flushes lifecycle sinks, stops the
// consumer loop and releases clients. Sinks flush before the loop stops so
// upload callbacks still reach the controllers.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.session != nil {
		if err := a.session.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session shutdown: %w", err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.loop != nil {
		if err := a.loop.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgRuns != nil {
		a.pgRuns.Close()
	}
}

// abort releases whatever Build created before failing.
func (a *App) abort(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.hub != nil {
		_ = a.hub.Close(ctx)
	}
	if a.loop != nil {
		_ = a.loop.Close(ctx)
	}
	a.closeInfrastructure()
	return err
}

func (a *App) setupRuns(ctx context.Context, override store.RunRepository) error {
	if override != nil {
		a.runs = override
		return nil
	}
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no db.dsn configured, keeping run history in memory")
		a.runs = memorystorage.NewRunStore()
		return nil
	}
	pg, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.pgRuns = pg
	if a.cfg.DB.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("run store schema failed: %w", err)
		}
	}
	a.logger.Info("postgres run store initialized")
	a.runs = pg
	return nil
}

func (a *App) setupPublisher(ctx context.Context, override publisher.Publisher) error {
	if override != nil {
		a.publisher = override
		return nil
	}
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubTopic = client.Topic(a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	a.publisher = gcppublisher.New(a.pubsubTopic)
	return nil
}

// setupStorage returns nil when uploads are disabled.
func (a *App) setupStorage(ctx context.Context, override blobstorage.BlobStore) (blobstorage.BlobStore, error) {
	if override != nil {
		return override, nil
	}
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(ctx, client, gcsstorage.Config{
			Bucket:       a.cfg.Storage.GCS.Bucket,
			VerifyBucket: a.cfg.Storage.GCS.VerifyBucket,
			ChunkSize:    a.cfg.Storage.GCS.ChunkSize,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS artifact storage", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		return blobs, nil
	case config.StorageLocal:
		blobs, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local artifact storage", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return blobs, nil
	case config.StorageMemory:
		a.logger.Info("using in-memory artifact storage")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("artifact upload disabled")
		return nil, nil
	}
}

func (a *App) setupHub(ctx context.Context, blobs blobstorage.BlobStore) error {
	var sinkList []events.Sink
	if a.cfg.Events.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("events")))
	}
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList,
		promSink,
		sinks.NewStoreSink(a.runs, a.logger.Named("run_store")),
		sinks.NewPublishSink(a.publisher, a.cfg.PubSub.TopicName, a.logger.Named("notify")),
	)
	if blobs != nil {
		uploader, err := artifact.NewUploader(blobs, a.cfg.Storage.Prefix, a.logger)
		if err != nil {
			return fmt.Errorf("artifact uploader init failed: %w", err)
		}
		// Runs after the store sink so the completion row exists first.
		sinkList = append(sinkList, sinks.NewArtifactSink(uploader, sinks.ArtifactSinkConfig{
			Runs:       a.runs,
			OnUploaded: a.recordArtifact,
			Timeout:    a.cfg.Storage.UploadTimeout,
		}, a.logger.Named("artifact")))
	}

	hubCfg := events.Config{
		BufferSize:     a.cfg.Events.BufferSize,
		MaxBatchEvents: a.cfg.Events.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Events.MaxBatchWait,
		SinkTimeout:    a.cfg.Events.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("event_hub"),
	}
	a.hub = events.NewHub(hubCfg, sinkList...)
	a.logger.Info("event hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) recordArtifact(runID uuid.UUID, uploaded artifact.Artifact) {
	a.loop.Post(func() {
		a.backup.SetArtifact(runID, uploaded.URI)
	})
}

func (a *App) newEngine() engine.Engine {
	if a.cfg.Dry() {
		a.logger.Info("using scripted dry-run engine", zap.Duration("interval", a.cfg.Engine.Scripted.Interval))
		return scripted.Demo(a.cfg.Engine.Scripted.Interval)
	}
	a.logger.Info("using sqlpackage engine", zap.String("binary", a.cfg.Engine.SQLPackage.Binary))
	return sqlpackage.New(a.cfg.Engine.SQLPackage, a.logger)
}

func (a *App) setupControllers(eng engine.Engine, opts Options) error {
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	detector := quiesce.NewPolling(a.cfg.Quiescence.Poll, a.cfg.Quiescence.Quiet, a.cfg.Quiescence.Cap)
	ctrlOpts := operation.Options{
		Buffer: progress.Config{
			FlushInterval: a.cfg.Progress.FlushInterval,
			BatchSize:     a.cfg.Progress.BatchSize,
		},
		Activity: activity.Options{
			Capacity:       a.cfg.Activity.Capacity,
			DedupeAdjacent: a.cfg.Activity.DedupeAdjacent,
			Clock:          system.NewIn(nil),
		},
		DrainTimeout: a.cfg.Progress.DrainTimeout,
	}
	deps := func(display operation.Display) operation.Deps {
		return operation.Deps{
			Engine:    eng,
			Deliverer: a.loop,
			Detector:  detector,
			Emitter:   a.hub,
			IDs:       idgen.New(),
			Clock:     clock,
			Logger:    a.logger,
			Display:   display,
		}
	}

	var err error
	a.backup, err = operation.New(operation.KindBackup, deps(opts.BackupDisplay), ctrlOpts)
	if err != nil {
		return fmt.Errorf("backup controller init failed: %w", err)
	}
	a.restore, err = operation.New(operation.KindRestore, deps(opts.RestoreDisplay), ctrlOpts)
	if err != nil {
		return fmt.Errorf("restore controller init failed: %w", err)
	}
	return nil
}

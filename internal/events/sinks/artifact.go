package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/artifact"
	"github.com/JakeFAU/bacpac-orchestrator/internal/events"
	"github.com/JakeFAU/bacpac-orchestrator/internal/store"
)

const defaultUploadTimeout = 30 * time.Minute

// ArtifactUploader is the subset of artifact.Uploader the sink needs.
type ArtifactUploader interface {
	Upload(ctx context.Context, runID uuid.UUID, localPath string) (artifact.Artifact, error)
}

// UploadedFunc is told about each finished upload.
type UploadedFunc func(runID uuid.UUID, a artifact.Artifact)

// ArtifactSink uploads the bacpac of every completed backup. Uploads run in
// the background so a slow bucket never stalls the event hub; Close waits
// for them.
type ArtifactSink struct {
	uploader ArtifactUploader
	runs     store.RunRepository
	onDone   UploadedFunc
	timeout  time.Duration
	logger   *zap.Logger

	wg sync.WaitGroup
}

// ArtifactSinkConfig wires optional collaborators.
type ArtifactSinkConfig struct {
	// Runs, when set, receives the artifact URI for the finished run.
	Runs store.RunRepository
	// OnUploaded is called after a successful upload.
	OnUploaded UploadedFunc
	// Timeout bounds one upload (default 30m).
	Timeout time.Duration
}

// NewArtifactSink constructs an ArtifactSink.
func NewArtifactSink(uploader ArtifactUploader, cfg ArtifactSinkConfig, logger *zap.Logger) *ArtifactSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultUploadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactSink{
		uploader: uploader,
		runs:     cfg.Runs,
		onDone:   cfg.OnUploaded,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Name implements events.Named.
func (s *ArtifactSink) Name() string { return "artifact" }

// Consume starts an upload for each completed backup in the batch.
func (s *ArtifactSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.uploader == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != events.StageCompleted || evt.Kind != "backup" || evt.Target == "" {
			continue
		}
		// The hub's per-sink deadline must not cut the upload short.
		uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer cancel()
			s.upload(uploadCtx, evt)
		}()
	}
	return nil
}

func (s *ArtifactSink) upload(ctx context.Context, evt events.Event) {
	runID := evt.RunUUID()
	art, err := s.uploader.Upload(ctx, runID, evt.Target)
	if err != nil {
		s.logger.Warn("artifact upload failed", zap.String("run_id", runID.String()), zap.Error(err))
		return
	}
	if s.runs != nil {
		uri := art.URI
		if err := s.runs.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, &uri, nil); err != nil {
			s.logger.Warn("record artifact failed", zap.String("run_id", runID.String()), zap.Error(err))
		}
	}
	if s.onDone != nil {
		s.onDone(runID, art)
	}
}

// Close waits for in-flight uploads or ctx.
func (s *ArtifactSink) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for artifact uploads: %w", ctx.Err())
	}
}

// Package engine defines the boundary to the external data-transfer engine
// that performs bacpac exports and imports.
package engine

import (
	"context"
	"errors"
	"time"
)

// ErrCanceled reports that a transfer stopped because its context was
// canceled. Adapters wrap it so callers can tell cancellation from failure.
var ErrCanceled = errors.New("transfer canceled")

// ProgressFunc receives one diagnostic line. Adapters may call it from
// several goroutines at once and must not call it after returning.
type ProgressFunc func(line string)

// Result describes a finished transfer.
type Result struct {
	// Path is the absolute bacpac path written or read.
	Path string
	// Database is the source (export) or target (import) database.
	Database string
	// Duration is how long the engine call took.
	Duration time.Duration
}

// Engine performs exports and imports.
type Engine interface {
	Export(ctx context.Context, connection, targetPath string, progress ProgressFunc) (Result, error)
	Import(ctx context.Context, sourcePath, connection string, progress ProgressFunc) (Result, error)
}

// IsCanceled reports whether err signals cancellation rather than failure.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

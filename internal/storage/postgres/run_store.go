// Package postgres provides Postgres-backed persistence for operation run
// history.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/bacpac-orchestrator/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	pool pool
}

// NewRunStore connects a pool using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the operation_runs table and indexes when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertRunStart inserts a running row or refreshes kind/target on replay.
func (s *RunStore) UpsertRunStart(ctx context.Context, id uuid.UUID, kind, target string, startedAt time.Time) error {
	query := `
		INSERT INTO operation_runs (id, kind, target, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET kind = EXCLUDED.kind, target = EXCLUDED.target, updated_at = now();
	`
	if _, err := s.pool.Exec(ctx, query, id, kind, target, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// UpdateRunProgress applies the latest percent without moving it backwards.
func (s *RunStore) UpdateRunProgress(ctx context.Context, id uuid.UUID, percent float64, phase string, at time.Time) error {
	query := `
		UPDATE operation_runs
		SET percent = GREATEST(percent, $1), phase = $2, updated_at = $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, percent, phase, at, id)
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteRun marks the run finished with a status, artifact, and error.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	artifact, errMsg *string,
) error {
	query := `
		UPDATE operation_runs
		SET finished_at = $1, status = $2, artifact = $3, error_message = $4,
			percent = CASE WHEN $2 = 'success' THEN 100 ELSE percent END,
			updated_at = $1
		WHERE id = $5;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, artifact, errMsg, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const runColumns = `id, kind, target, started_at, finished_at, status, percent, phase, artifact, error_message`

// GetRun loads a run by ID.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM operation_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first with an optional status filter.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM operation_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Target,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Percent,
		&run.Phase,
		&run.Artifact,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.Run{}, err //nolint:wrapcheck
	}
	run.Status = store.RunStatus(status)
	return run, nil
}

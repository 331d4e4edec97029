// Package postgres implements store.OutcomeRepository on Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/urlcrawl/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTablePrefix = "crawl"

// Config controls the connection pool and table names. Tables are
// <prefix>_runs and <prefix>_outcomes.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// OutcomeStore writes run and outcome rows.
type OutcomeStore struct {
	pool     pool
	runs     string
	outcomes string
}

// New connects to Postgres.
func New(ctx context.Context, cfg Config) (*OutcomeStore, error) {
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.TablePrefix)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool builds a store on an existing pool (used by tests).
func NewWithPool(p pool, tablePrefix string) (*OutcomeStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if tablePrefix == "" {
		tablePrefix = defaultTablePrefix
	}
	if !validTableName.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", tablePrefix)
	}
	return &OutcomeStore{
		pool:     p,
		runs:     tablePrefix + "_runs",
		outcomes: tablePrefix + "_outcomes",
	}, nil
}

// Close releases the pool.
func (s *OutcomeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run and outcome tables when missing.
func (s *OutcomeStore) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	session TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	pending INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
)`, s.runs),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id UUID NOT NULL REFERENCES %s (id),
	recorded_at TIMESTAMPTZ NOT NULL,
	group_name TEXT NOT NULL,
	url TEXT NOT NULL,
	outcome TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	novel INTEGER,
	items INTEGER,
	elapsed_ms BIGINT NOT NULL,
	note TEXT NOT NULL DEFAULT ''
)`, s.outcomes, s.runs),
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// StartRun implements store.OutcomeRepository.
func (s *OutcomeStore) StartRun(ctx context.Context, runID uuid.UUID, session string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, session, started_at, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`, s.runs)
	if _, err := s.pool.Exec(ctx, query, runID, session, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun implements store.OutcomeRepository.
func (s *OutcomeStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	counts store.RunCounts,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, completed = $3, failed = $4, pending = $5, error_message = $6
WHERE id = $7`, s.runs)
	tag, err := s.pool.Exec(ctx, query,
		finishedAt, status, counts.Completed, counts.Failed, counts.Pending, errMsg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// InsertOutcomes implements store.OutcomeRepository.
func (s *OutcomeStore) InsertOutcomes(ctx context.Context, outcomes []store.Outcome) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	recorded_at,
	group_name,
	url,
	outcome,
	status_code,
	location,
	novel,
	items,
	elapsed_ms,
	note
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, s.outcomes)
	for _, o := range outcomes {
		if _, err := s.pool.Exec(ctx, query,
			o.RunID,
			o.RecordedAt,
			o.Group,
			o.URL,
			o.Outcome,
			o.StatusCode,
			o.Location,
			o.Novel,
			o.Items,
			o.ElapsedMs,
			o.Note,
		); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.URL, err)
		}
	}
	return nil
}

// ListRuns implements store.OutcomeRepository.
func (s *OutcomeStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT id, session, started_at, finished_at, status, completed, failed, pending, error_message
FROM %s
ORDER BY started_at DESC
LIMIT $1`, s.runs)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var (
			run    store.Run
			status string
		)
		if err := rows.Scan(
			&run.ID,
			&run.Session,
			&run.StartedAt,
			&run.FinishedAt,
			&status,
			&run.Counts.Completed,
			&run.Counts.Failed,
			&run.Counts.Pending,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		run.Status = store.RunStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the crawl_runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning      RunStatus = "running"
	RunCompleted    RunStatus = "completed"
	RunStoppedEarly RunStatus = "stopped_early"
	RunError        RunStatus = "error"
)

// RunCounts is the ledger summary recorded when a run finishes.
type RunCounts struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Run models one crawl_runs row.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	Session      string     `json:"session"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	Counts       RunCounts  `json:"counts"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// Outcome models one crawl_outcomes row: the result of fetching one URL.
type Outcome struct {
	RunID      uuid.UUID `json:"run_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Group      string    `json:"group"`
	URL        string    `json:"url"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code"`
	Location   string    `json:"location,omitempty"`
	// Novel and Items are nil when no novelty check ran.
	Novel     *int   `json:"novel,omitempty"`
	Items     *int   `json:"items,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Note      string `json:"note,omitempty"`
}

// OutcomeRepository persists run lifecycle rows and per-URL outcomes.
type OutcomeRepository interface {
	// StartRun inserts a running row; repeating it for the same run is a no-op.
	StartRun(ctx context.Context, runID uuid.UUID, session string, startedAt time.Time) error
	// FinishRun records the final status and ledger counts.
	FinishRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		counts RunCounts,
		errMsg *string,
	) error
	// InsertOutcomes appends per-URL outcomes.
	InsertOutcomes(ctx context.Context, outcomes []Outcome) error
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

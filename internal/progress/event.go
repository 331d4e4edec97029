package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the run milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageFetchDone    Stage = "FETCH_DONE"
	StageGroupStopped Stage = "GROUP_STOPPED"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
)

// Outcome classifies a FETCH_DONE event.
type Outcome string

// Fetch outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeRetry   Outcome = "retry"
	OutcomeFailed  Outcome = "failed"
)

// Event is a single crawl milestone.
type Event struct {
	RunID   [16]byte
	TS      time.Time
	Stage   Stage
	Session string
	// Group is the descriptor name for FETCH_DONE and GROUP_STOPPED.
	Group      string
	URL        string
	Outcome    Outcome
	StatusCode int
	Location   string
	// Novel and Items are -1 when no novelty check ran.
	Novel int
	Items int
	Dur   time.Duration
	// Completed, Failed and Pending carry the ledger summary on RUN_DONE.
	Completed int
	Failed    int
	Pending   int
	// StoppedEarly is set on RUN_DONE when any group hit auto-stop.
	StoppedEarly bool
	Note         string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageFetchDone:
		if e.URL == "" {
			return errors.New("fetch done requires url")
		}
		switch e.Outcome {
		case OutcomeSuccess, OutcomeRetry, OutcomeFailed:
		default:
			return fmt.Errorf("fetch done has unknown outcome %q", e.Outcome)
		}
	case StageGroupStopped:
		if e.Group == "" {
			return errors.New("group stopped requires group")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// HasNovelty reports whether Novel and Items were measured.
func (e Event) HasNovelty() bool {
	return e.Novel >= 0 && e.Items >= 0
}

// Package progress streams job milestones from the runner to pluggable
// sinks. Emitting never blocks a crawl; events are batched on a background
// goroutine and dropped under backpressure.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names a milestone in a job's life.
type Stage string

// Supported stages.
const (
	StageJobStarted     Stage = "job_started"
	StageTargetsPlanned Stage = "targets_planned"
	StageTargetDone     Stage = "target_done"
	StageJobFinished    Stage = "job_finished"
)

// Target outcomes carried by StageTargetDone events.
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Event is one job milestone.
type Event struct {
	JobID string
	TS    time.Time
	Stage Stage
	// URL is the seed for job events and the detail page for target events.
	URL string
	// Index is the target position in discovery order.
	Index int
	// Count is the number of targets planned.
	Count int
	// Outcome is a target outcome or, for StageJobFinished, the job status.
	Outcome  string
	Attempts int
	Dur      time.Duration
	Note     string
}

// Validate rejects events a sink could not store.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	switch e.Stage {
	case StageJobStarted:
	case StageTargetsPlanned:
		if e.Count < 0 {
			return errors.New("targets planned requires count >= 0")
		}
	case StageTargetDone:
		switch e.Outcome {
		case OutcomeOK, OutcomePartial, OutcomeFailed:
		default:
			return fmt.Errorf("target done has unknown outcome %q", e.Outcome)
		}
	case StageJobFinished:
		if e.Outcome == "" {
			return errors.New("job finished requires an outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}

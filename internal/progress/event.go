package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the kind of milestone an Event reports.
type Stage string

// Supported stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageState      Stage = "STATE"
	StagePageDone   Stage = "PAGE_DONE"
	StageCheckpoint Stage = "CHECKPOINT"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Event is one crawl milestone.
type Event struct {
	// RunID identifies the crawl run in 16-byte UUID form.
	RunID [16]byte
	// TS is the emitter's timestamp.
	TS    time.Time
	Stage Stage
	// State is the machine state entered; set on STATE events.
	State string
	// Page is the listing page concerned, when any.
	Page int
	// Outcome is the fetch outcome of a PAGE_DONE event.
	Outcome    string
	Added      int
	Duplicates int
	Rejected   int
	Attempts   int
	// Bound is the page bound of the run once known.
	Bound int
	// Dur is the page fetch time, or the run time on RUN_DONE/RUN_ERROR.
	Dur  time.Duration
	Note string
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
	case StageRunStart, StageCheckpoint, StageRunDone, StageRunError:
	case StageState:
		if e.State == "" {
			return errors.New("state event requires state")
		}
	case StagePageDone:
		if e.Page < 1 {
			return errors.New("page event requires page")
		}
		if e.Outcome == "" {
			return errors.New("page event requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

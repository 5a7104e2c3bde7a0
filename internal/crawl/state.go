package crawl

import (
	"errors"
	"fmt"
)

// State is a node of the crawl state graph.
type State string

// Crawl states.
const (
	StateIdle             State = "idle"
	StateDeterminingBound State = "determining_bound"
	StateResuming         State = "resuming"
	StateFetching         State = "fetching"
	StateCheckpointing    State = "checkpointing"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Sentinel errors.
var (
	// ErrBoundDetermination means no page bound could be established.
	ErrBoundDetermination = errors.New("page bound determination failed")
	// ErrCheckpointFailed means progress could not be persisted.
	ErrCheckpointFailed = errors.New("checkpoint failed")
	// ErrInvalidTransition reports an edge missing from the state graph.
	ErrInvalidTransition = errors.New("invalid state transition")
)

var transitions = map[State][]State{
	StateIdle:             {StateDeterminingBound},
	StateDeterminingBound: {StateResuming, StateFetching},
	StateResuming:         {StateFetching},
	StateFetching:         {StateCheckpointing},
	StateCheckpointing:    {StateFetching, StateCompleted},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether the graph has an edge from -> to. Failed is
// reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

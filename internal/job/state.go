// Package job provides the durable job registry: status records, the
// monotone state machine governing them, and the stall sweeper that reaps
// silent jobs.
//
// Architecture:
//   - State machine (state.go): validates transitions before any write
//   - Registry (registry.go): performs all mutations through compare-and-set
//   - Sweeper (sweeper.go): promotes stalled running jobs to failed
//
// Every status mutation goes through the registry's compare-and-set loop, so
// observers always see a monotone sequence running* (complete|failed) and a
// concurrent retry can never roll a record back.
package job

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a job.
type State string

// Job lifecycle states.
const (
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// Kind identifies the job family and determines the id prefix and the
// status key layout.
type Kind string

// Job kinds.
const (
	KindAnalysis Kind = "analysis"
	KindDataset  Kind = "dataset"
	KindReport   Kind = "report"
)

// Sentinel errors for state transition validation.
var (
	// ErrInvalidState indicates an unknown state value.
	ErrInvalidState = errors.New("invalid job state")

	// ErrTerminalStateImmutable indicates an attempt to transition out of a
	// terminal state.
	ErrTerminalStateImmutable = errors.New("terminal state is immutable")

	// ErrProgressRollback indicates a progress value lower than the one
	// already recorded.
	ErrProgressRollback = errors.New("progress cannot decrease")

	// ErrUnknownKind indicates an unrecognized job kind.
	ErrUnknownKind = errors.New("unknown job kind")
)

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// Valid reports whether the state is one of the known values.
func (s State) Valid() bool {
	switch s {
	case StateRunning, StateComplete, StateFailed:
		return true
	}

	return false
}

// Prefix returns the id prefix of the kind ("Analysis00000001",
// "Load00000001", ...).
func (k Kind) Prefix() (string, error) {
	switch k {
	case KindAnalysis:
		return "Analysis", nil
	case KindDataset:
		return "Load", nil
	case KindReport:
		return "Report", nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownKind, k)
}

// ValidateTransition validates a state transition.
//
// Valid transitions:
//   - running → {running, complete, failed}
//   - complete/failed → same state (idempotent retry)
//
// Invalid transitions:
//   - any transition out of a terminal state to a different state
func ValidateTransition(from, to State) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %s → %s", ErrInvalidState, from, to)
	}

	if from.IsTerminal() {
		if from != to {
			return fmt.Errorf("%w: %s → %s", ErrTerminalStateImmutable, from, to)
		}

		return nil // idempotent terminal state
	}

	return nil
}

// ValidateProgress enforces that progress is nondecreasing while running.
// Terminal transitions are exempt: complete forces 1.0 and failed retains
// the last value, both handled by the registry.
func ValidateProgress(from, to float64, toState State) error {
	if toState == StateRunning && to < from {
		return fmt.Errorf("%w: %.3f → %.3f", ErrProgressRollback, from, to)
	}

	return nil
}

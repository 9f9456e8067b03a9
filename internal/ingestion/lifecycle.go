// Package ingestion turns uploaded report files into validated dataset records.
//
// A file moves through a fixed state machine:
//
//	Received → Parsed → ColumnMapped → Validated → Persisted
//	    └─────────┴───────────┴─────────────┴──────→ Rejected
//
// Rejected and Persisted are terminal. The Pipeline records every transition so callers
// can report how far a rejected file got.
package ingestion

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of one ingest.
type State string

// Lifecycle states.
const (
	StateReceived     State = "received"
	StateParsed       State = "parsed"
	StateColumnMapped State = "column_mapped"
	StateValidated    State = "validated"
	StatePersisted    State = "persisted"
	StateRejected     State = "rejected"
)

var (
	// ErrInvalidTransition indicates a transition the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalStateImmutable indicates an attempt to leave Persisted or Rejected.
	ErrTerminalStateImmutable = errors.New("terminal state is immutable")
)

var nextState = map[State]State{
	StateReceived:     StateParsed,
	StateParsed:       StateColumnMapped,
	StateColumnMapped: StateValidated,
	StateValidated:    StatePersisted,
}

// IsTerminal reports whether s is Persisted or Rejected.
func (s State) IsTerminal() bool {
	return s == StatePersisted || s == StateRejected
}

// ValidateStateTransition checks a single transition.
//
// Valid transitions:
//   - each non-terminal state → its successor
//   - any non-terminal state → Rejected
//
// Terminal states never change.
func ValidateStateTransition(from, to State) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s → %s", ErrTerminalStateImmutable, from, to)
	}

	if to == StateRejected {
		return nil
	}

	if next, ok := nextState[from]; ok && next == to {
		return nil
	}

	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}

// lifecycle tracks the state of one ingest and the path it took.
type lifecycle struct {
	state State
	trail []State
}

func newLifecycle() *lifecycle {
	return &lifecycle{state: StateReceived, trail: []State{StateReceived}}
}

func (l *lifecycle) advance(to State) error {
	if err := ValidateStateTransition(l.state, to); err != nil {
		return err
	}

	l.state = to
	l.trail = append(l.trail, to)

	return nil
}

// reject moves to Rejected unless the ingest already finished.
func (l *lifecycle) reject() {
	if !l.state.IsTerminal() {
		l.state = StateRejected
		l.trail = append(l.trail, StateRejected)
	}
}

// Package taskstate provides the lifecycle state machine for a single tool
// invocation. Observers see exactly one start and one complete per
// invocation; the machine enforces that ordering.
package taskstate

import (
	"fmt"
	"sync"
)

// State represents an invocation's current state in its lifecycle.
type State string

const (
	// Pending indicates the invocation exists but nothing has been announced.
	Pending State = "pending"

	// Started indicates the start event has been emitted.
	Started State = "started"

	// Completed indicates the complete event has been emitted. It is used for
	// both successful and failed runs; the outcome lives in the tool output.
	Completed State = "completed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if the state is a final state (no further transitions).
func (s State) IsTerminal() bool {
	return s == Completed
}

// IsActive returns true if the invocation has started but not completed.
func (s State) IsActive() bool {
	return s == Started
}

// ValidTransitions defines the allowed state transitions.
var ValidTransitions = map[State][]State{
	Pending:   {Started},
	Started:   {Completed},
	Completed: {}, // Terminal
}

// CanTransition returns true if transitioning from 'from' to 'to' is valid.
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllStates returns all defined states.
func AllStates() []State {
	return []State{Pending, Started, Completed}
}

// Parse converts a string to a State, returning the state and whether it was valid.
func Parse(s string) (State, bool) {
	state := State(s)
	for _, valid := range AllStates() {
		if state == valid {
			return state, true
		}
	}
	return "", false
}

// TransitionError reports a rejected transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// Machine tracks one invocation. It is safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a machine in the Pending state.
func NewMachine() *Machine {
	return &Machine{state: Pending}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start moves Pending to Started.
func (m *Machine) Start() error {
	return m.transition(Started)
}

// Complete moves Started to Completed.
func (m *Machine) Complete() error {
	return m.transition(Completed)
}

func (m *Machine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.state, to) {
		return &TransitionError{From: m.state, To: to}
	}
	m.state = to
	return nil
}

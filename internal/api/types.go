// Package api defines shared types and constants for the toolstream service.
package api

import "sync"

// Component types identify the kind of component.
const (
	TypeToolstream = "toolstream"
)

// Interface names identify component capabilities.
const (
	InterfaceStatusable = "statusable"
	InterfaceStreamable = "streamable"
	InterfaceObservable = "observable"
)

// Error codes returned in JSON error bodies.
const (
	ErrorValidation      = "validation_error"
	ErrorNotFound        = "not_found"
	ErrorSessionLimit    = "session_limit"
	ErrorParser          = "parser_error"
	ErrorReplay          = "replay_error"
	ErrorShuttingDown    = "shutting_down"
	ErrorInvalidArgument = "invalid_argument"
)

// ToolEventKind is the phase reported to tool event observers.
type ToolEventKind string

const (
	ToolEventStart    ToolEventKind = "start"
	ToolEventComplete ToolEventKind = "complete"
)

// ToolEvent is the payload handed to OnToolEvent observers. Result is only
// set on complete events.
type ToolEvent struct {
	Tool   string        `json:"tool"`
	Event  ToolEventKind `json:"event"`
	Args   any           `json:"args,omitempty"`
	Result any           `json:"result,omitempty"`
}

// ToolEventFunc receives tool lifecycle events. Implementations shared across
// concurrent tool executions must be safe for concurrent use.
type ToolEventFunc func(ToolEvent)

// SerializedSink wraps fn so that concurrent callers never invoke it at the
// same time. A nil fn yields a no-op sink.
func SerializedSink(fn ToolEventFunc) ToolEventFunc {
	if fn == nil {
		return func(ToolEvent) {}
	}
	var mu sync.Mutex
	return func(ev ToolEvent) {
		mu.Lock()
		defer mu.Unlock()
		fn(ev)
	}
}

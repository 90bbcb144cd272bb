// Package toolerrors provides the error taxonomy shared by streaming argument
// parsers and the tools that consume them.
//
// Parsers report "the JSON is not complete yet" with IncompleteInputError. The
// coordinator swallows those for the current chunk and surfaces everything
// else, so genuine parser bugs are never mistaken for truncated input.
package toolerrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ToolError is a structured tool failure that keeps its causal chain across
// serialization boundaries such as sub-agent results.
type ToolError struct {
	Message string
	Cause   *ToolError
}

// New constructs a ToolError with the provided message.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// NewWithCause constructs a ToolError that wraps an underlying error.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{
		Message: message,
		Cause:   FromError(cause),
	}
}

// FromError converts an arbitrary error into a ToolError chain.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IncompleteInputError marks accumulated argument text that cannot be
// interpreted yet because more deltas are expected.
type IncompleteInputError struct {
	Tool   string
	Reason string
	Err    error
}

// Incomplete builds an IncompleteInputError for the given tool.
func Incomplete(tool, reason string, err error) *IncompleteInputError {
	return &IncompleteInputError{Tool: tool, Reason: reason, Err: err}
}

func (e *IncompleteInputError) Error() string {
	msg := "incomplete input"
	if e.Tool != "" {
		msg = e.Tool + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IncompleteInputError) Unwrap() error {
	return e.Err
}

// IsIncomplete reports whether err only signals that the input is not
// complete JSON yet. Standard library JSON syntax errors count as incomplete
// input; type mismatches and every other error do not.
func IsIncomplete(err error) bool {
	if err == nil {
		return false
	}
	var inc *IncompleteInputError
	if errors.As(err, &inc) {
		return true
	}
	var syntax *json.SyntaxError
	if errors.As(err, &syntax) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// ParserError is returned by the coordinator when a registered parser fails
// with something other than incomplete input.
type ParserError struct {
	Tool       string
	ToolCallID string
	Err        error
}

func (e *ParserError) Error() string {
	return fmt.Sprintf("streaming parser for %q (call %s): %v", e.Tool, e.ToolCallID, e.Err)
}

func (e *ParserError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking parser or agent.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return "panic: " + err.Error()
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

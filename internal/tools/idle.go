// Package tools holds the leaf tools and their streaming argument parsers.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "phobos.org.uk/toolstream/internal/tools"

// IdleToolName is the name the idle tool is registered and traced under.
const IdleToolName = "idle"

// IdleInput is the idle tool's input.
type IdleInput struct {
	FinalResponse string `json:"final_response"`
}

// Validate checks that a final response was given.
func (in IdleInput) Validate() error {
	if in.FinalResponse == "" {
		return errors.New("final_response must not be empty")
	}
	return nil
}

// IdleOutput is the idle tool's result.
type IdleOutput struct {
	Success bool `json:"success"`
}

// IdleTool ends an agent turn with a final response. It does no work beyond
// recording the call.
type IdleTool struct {
	tracer trace.Tracer
}

// NewIdleTool creates the idle tool. A nil tracer uses the global provider.
func NewIdleTool(tracer trace.Tracer) *IdleTool {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &IdleTool{tracer: tracer}
}

// Execute always succeeds for valid input.
func (t *IdleTool) Execute(ctx context.Context, in IdleInput) (IdleOutput, error) {
	_, span := t.tracer.Start(ctx, "tool."+IdleToolName,
		trace.WithAttributes(attribute.Int("tool.final_response.length", len(in.FinalResponse))),
	)
	defer span.End()

	if err := in.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid idle input")
		return IdleOutput{}, fmt.Errorf("%s: %w", IdleToolName, err)
	}
	return IdleOutput{Success: true}, nil
}

// IdleArgs is the streaming view of IdleInput. FinalResponse is nil until
// the value has started to arrive.
type IdleArgs struct {
	FinalResponse *string `json:"final_response,omitempty"`
}

var (
	finalResponseComplete = regexp.MustCompile(`"final_response"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	finalResponsePartial  = regexp.MustCompile(`"final_response"\s*:\s*"((?:[^"\\]|\\.)*)`)
)

// ParseIdleArgs extracts final_response from accumulated argument text.
// Complete JSON is decoded normally. While the JSON is still open the value
// is pulled out of the text directly, closed or not, so it can be shown as
// it is typed. It returns nil when the value has not started yet. Errors
// other than JSON syntax errors are returned.
func ParseIdleArgs(text string) (*IdleArgs, error) {
	return parseFinalResponse(IdleToolName, text)
}

func parseFinalResponse(tool, text string) (*IdleArgs, error) {
	var args IdleArgs
	err := json.Unmarshal([]byte(text), &args)
	if err == nil {
		return &args, nil
	}

	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return nil, fmt.Errorf("parse %s arguments: %w", tool, err)
	}

	if m := finalResponseComplete.FindStringSubmatch(text); m != nil {
		v := unescapeQuoted(m[1])
		return &IdleArgs{FinalResponse: &v}, nil
	}
	if m := finalResponsePartial.FindStringSubmatch(text); m != nil {
		v := unescapeQuoted(m[1])
		return &IdleArgs{FinalResponse: &v}, nil
	}
	return nil, nil
}

// unescapeQuoted reverses only the quote and backslash escapes.
func unescapeQuoted(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	return strings.ReplaceAll(s, `\\`, `\`)
}

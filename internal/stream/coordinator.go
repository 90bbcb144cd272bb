package stream

import (
	"encoding/json"
	"sort"
	"strings"

	"phobos.org.uk/toolstream/internal/toolerrors"
)

// StreamingResult is the best-effort view of one tool call's arguments after
// a delta. A new value is produced for every informative delta; results are
// never mutated once returned.
type StreamingResult struct {
	ToolName    string `json:"toolName"`
	ToolCallID  string `json:"toolCallId"`
	PartialArgs any    `json:"partialArgs"`
	// IsComplete reports that the accumulated text is complete JSON. It says
	// nothing about whether the arguments are valid for the tool.
	IsComplete bool `json:"isComplete"`
}

// ParserFunc extracts partial arguments from the full text accumulated so far
// for one call. It must be free of side effects. A nil result with a nil error
// means nothing can be extracted yet. Errors for which
// toolerrors.IsIncomplete holds are treated the same way; any other error is
// surfaced by ProcessChunk.
type ParserFunc func(accumulated string) (any, error)

// Typed adapts a parser returning a concrete pointer type. A nil pointer is
// reported as no result.
func Typed[T any](fn func(string) (*T, error)) ParserFunc {
	return func(text string) (any, error) {
		v, err := fn(text)
		if err != nil || v == nil {
			return nil, err
		}
		return v, nil
	}
}

// accumulator holds the raw argument text for one in-flight call.
type accumulator struct {
	toolName   string
	toolCallID string
	rawText    strings.Builder
}

// Coordinator routes chunks to per-call accumulators and runs the parser
// registered for each call's tool. It is not safe for concurrent use: chunks
// of one stream must be processed in arrival order, so each stream owns its
// own Coordinator.
type Coordinator struct {
	accumulators map[string]*accumulator
	parsers      map[string]ParserFunc
}

// NewCoordinator creates a coordinator with no parsers registered.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		accumulators: make(map[string]*accumulator),
		parsers:      make(map[string]ParserFunc),
	}
}

// RegisterParser installs the streaming parser for toolName, replacing any
// parser already registered under that name.
func (c *Coordinator) RegisterParser(toolName string, fn ParserFunc) {
	c.parsers[toolName] = fn
}

// ProcessChunk applies one chunk. It returns a result only for a delta that
// yields new information; every other chunk returns (nil, nil). The returned
// error is always a *toolerrors.ParserError.
func (c *Coordinator) ProcessChunk(chunk *Chunk) (*StreamingResult, error) {
	if chunk == nil {
		return nil, nil
	}

	switch chunk.Type {
	case ChunkToolCallStart:
		id := chunk.CallID()
		c.accumulators[id] = &accumulator{
			toolName:   string(chunk.ToolName),
			toolCallID: id,
		}
		return nil, nil

	case ChunkToolCallDelta:
		acc, ok := c.accumulators[chunk.CallID()]
		if !ok {
			return nil, nil
		}
		acc.rawText.WriteString(string(chunk.ArgsTextDelta))
		return c.parse(acc)

	case ChunkToolResult:
		delete(c.accumulators, chunk.CallID())
		return nil, nil

	default:
		return nil, nil
	}
}

func (c *Coordinator) parse(acc *accumulator) (*StreamingResult, error) {
	parser := c.parsers[acc.toolName]
	if parser == nil {
		return nil, nil
	}

	text := acc.rawText.String()
	partial, err := runParser(parser, text)
	if err != nil {
		if toolerrors.IsIncomplete(err) {
			return nil, nil
		}
		return nil, &toolerrors.ParserError{Tool: acc.toolName, ToolCallID: acc.toolCallID, Err: err}
	}
	if partial == nil {
		return nil, nil
	}

	return &StreamingResult{
		ToolName:    acc.toolName,
		ToolCallID:  acc.toolCallID,
		PartialArgs: partial,
		IsComplete:  IsJSONComplete(text),
	}, nil
}

// runParser converts a parser panic into an error so it propagates like any
// other parser bug.
func runParser(parser ParserFunc, text string) (partial any, err error) {
	defer func() {
		if r := recover(); r != nil {
			partial = nil
			err = &toolerrors.PanicError{Value: r}
		}
	}()
	return parser(text)
}

// IsJSONComplete reports whether text is complete, valid JSON.
func IsJSONComplete(text string) bool {
	return json.Valid([]byte(text))
}

// Clear drops every in-flight accumulator. Registered parsers are kept.
func (c *Coordinator) Clear() {
	c.accumulators = make(map[string]*accumulator)
}

// Pending returns the number of in-flight tool calls.
func (c *Coordinator) Pending() int {
	return len(c.accumulators)
}

// Tracking reports whether an accumulator exists for toolCallID.
func (c *Coordinator) Tracking(toolCallID string) bool {
	_, ok := c.accumulators[toolCallID]
	return ok
}

// Registered reports whether a parser is registered for toolName.
func (c *Coordinator) Registered(toolName string) bool {
	return c.parsers[toolName] != nil
}

// Tools lists the tool names with registered parsers, sorted.
func (c *Coordinator) Tools() []string {
	names := make([]string, 0, len(c.parsers))
	for name, fn := range c.parsers {
		if fn != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

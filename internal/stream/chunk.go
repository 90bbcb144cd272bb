// Package stream turns a model's tool-call chunk stream into incremental,
// best-effort argument updates.
package stream

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ChunkType discriminates the chunks a model stream yields.
type ChunkType string

const (
	// ChunkToolCallStart opens a tool call and names the tool.
	ChunkToolCallStart ChunkType = "tool-call-streaming-start"
	// ChunkToolCallDelta carries the next fragment of a call's argument text.
	ChunkToolCallDelta ChunkType = "tool-call-delta"
	// ChunkToolResult marks a call as finished.
	ChunkToolResult ChunkType = "tool-result"
	// ChunkTextDelta is assistant prose. The coordinator ignores it.
	ChunkTextDelta ChunkType = "text-delta"
)

// Chunk is one element of the model output stream. Only the fields relevant
// to its Type are populated; unknown types are carried through and ignored.
type Chunk struct {
	Type          ChunkType   `json:"type"`
	ToolCallID    looseString `json:"toolCallId,omitempty"`
	ToolName      looseString `json:"toolName,omitempty"`
	ArgsTextDelta looseString `json:"argsTextDelta,omitempty"`
	TextDelta     looseString `json:"textDelta,omitempty"`
}

// StartChunk builds a tool-call-streaming-start chunk.
func StartChunk(toolCallID, toolName string) *Chunk {
	return &Chunk{Type: ChunkToolCallStart, ToolCallID: looseString(toolCallID), ToolName: looseString(toolName)}
}

// DeltaChunk builds a tool-call-delta chunk.
func DeltaChunk(toolCallID, delta string) *Chunk {
	return &Chunk{Type: ChunkToolCallDelta, ToolCallID: looseString(toolCallID), ArgsTextDelta: looseString(delta)}
}

// ResultChunk builds a tool-result chunk.
func ResultChunk(toolCallID string) *Chunk {
	return &Chunk{Type: ChunkToolResult, ToolCallID: looseString(toolCallID)}
}

// CallID returns the correlation id as a plain string.
func (c *Chunk) CallID() string { return string(c.ToolCallID) }

// DecodeChunk decodes one wire chunk. JSON that is valid but not an object
// (null, arrays, scalars) yields a nil chunk and no error so callers can skip
// it like any other malformed stream element.
func DecodeChunk(data []byte) (*Chunk, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw = bytes.TrimSpace(raw); len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	var c Chunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UnmarshalJSON tolerates non-string discriminators, which then match no
// known type.
func (t *ChunkType) UnmarshalJSON(data []byte) error {
	var s looseString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	*t = ChunkType(s)
	return nil
}

// looseString accepts any JSON scalar and keeps its string form. Producers
// are not consistent about numeric call ids.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*s = ""
	case string:
		*s = looseString(t)
	case float64:
		*s = looseString(strconv.FormatFloat(t, 'f', -1, 64))
	case bool:
		*s = looseString(strconv.FormatBool(t))
	default:
		// Objects and arrays have no meaningful string form.
		*s = ""
	}
	return nil
}

package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"phobos.org.uk/toolstream/internal/optimistic"
)

// Tool names with built-in streaming parsers.
const (
	DoneToolName               = "doneTool"
	RespondWithoutAnalysisName = "respondWithoutAnalysis"
	SequentialThinkingName     = "sequentialThinking"
	ExecuteSQLName             = "executeSql"
	CreateMetricsName          = "createMetrics"
)

// ParseDoneArgs parses doneTool arguments, which share the idle tool's shape.
func ParseDoneArgs(text string) (*IdleArgs, error) {
	return parseFinalResponse(DoneToolName, text)
}

// ParseRespondArgs parses respondWithoutAnalysis arguments.
func ParseRespondArgs(text string) (*IdleArgs, error) {
	return parseFinalResponse(RespondWithoutAnalysisName, text)
}

// ThinkingArgs is the streaming view of a sequentialThinking call.
type ThinkingArgs struct {
	Thought           *string `json:"thought,omitempty"`
	NextThoughtNeeded *bool   `json:"nextThoughtNeeded,omitempty"`
	ThoughtNumber     *int    `json:"thoughtNumber,omitempty"`
	TotalThoughts     *int    `json:"totalThoughts,omitempty"`
}

func (a *ThinkingArgs) empty() bool {
	return a.Thought == nil && a.NextThoughtNeeded == nil && a.ThoughtNumber == nil && a.TotalThoughts == nil
}

// ParseThinkingArgs parses sequentialThinking arguments.
func ParseThinkingArgs(text string) (*ThinkingArgs, error) {
	var args ThinkingArgs
	done, err := decodeComplete(SequentialThinkingName, text, &args)
	if err != nil {
		return nil, err
	}
	if !done {
		values := optimistic.Parse(text).Values
		if v, ok := values["thought"].(string); ok {
			args.Thought = &v
		}
		if v, ok := values["nextThoughtNeeded"].(bool); ok {
			args.NextThoughtNeeded = &v
		}
		if _, ok := values["thoughtNumber"].(float64); ok {
			n := optimistic.Int(values, "thoughtNumber", 0)
			args.ThoughtNumber = &n
		}
		if _, ok := values["totalThoughts"].(float64); ok {
			n := optimistic.Int(values, "totalThoughts", 0)
			args.TotalThoughts = &n
		}
	}
	if args.empty() {
		return nil, nil
	}
	return &args, nil
}

// SQLArgs is the streaming view of an executeSql call. Statements is empty,
// not nil, once the array has opened.
type SQLArgs struct {
	Statements []string `json:"statements"`
}

// ParseSQLArgs parses executeSql arguments. A legacy single "sql" string is
// accepted as one statement. A complete document whose statements field is
// not an array yields no result.
func ParseSQLArgs(text string) (*SQLArgs, error) {
	var raw struct {
		Statements json.RawMessage `json:"statements"`
		SQL        *string         `json:"sql"`
	}
	done, err := decodeComplete(ExecuteSQLName, text, &raw)
	if err != nil {
		return nil, err
	}
	if done {
		if len(raw.Statements) > 0 && string(raw.Statements) != "null" {
			var stmts []string
			if err := json.Unmarshal(raw.Statements, &stmts); err != nil {
				// Not an array of strings.
				return nil, nil
			}
			return &SQLArgs{Statements: stmts}, nil
		}
		if raw.SQL != nil {
			return &SQLArgs{Statements: []string{*raw.SQL}}, nil
		}
		return nil, nil
	}

	values := optimistic.Parse(text).Values
	if items, ok := values["statements"].([]any); ok {
		stmts := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				stmts = append(stmts, s)
			}
		}
		return &SQLArgs{Statements: stmts}, nil
	}
	if s, ok := values["sql"].(string); ok {
		return &SQLArgs{Statements: []string{s}}, nil
	}
	return nil, nil
}

// MetricFile is one metric definition being created.
type MetricFile struct {
	Name       string `json:"name"`
	YMLContent string `json:"yml_content"`
}

// MetricsArgs is the streaming view of a createMetrics call.
type MetricsArgs struct {
	Files []MetricFile `json:"files"`
}

// ParseMetricsArgs parses createMetrics arguments. Partially streamed files
// are kept once their name is known.
func ParseMetricsArgs(text string) (*MetricsArgs, error) {
	var args struct {
		Files *[]MetricFile `json:"files"`
	}
	done, err := decodeComplete(CreateMetricsName, text, &args)
	if err != nil {
		return nil, err
	}
	if done {
		if args.Files == nil {
			return nil, nil
		}
		return &MetricsArgs{Files: *args.Files}, nil
	}

	items, ok := optimistic.Parse(text).Values["files"].([]any)
	if !ok {
		return nil, nil
	}
	files := make([]MetricFile, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, ok := obj["name"].(string)
		if !ok {
			continue
		}
		yml, _ := obj["yml_content"].(string)
		files = append(files, MetricFile{Name: name, YMLContent: yml})
	}
	return &MetricsArgs{Files: files}, nil
}

// decodeComplete decodes text into v when it is complete JSON. It reports
// false with no error on a syntax error so callers can fall back to partial
// extraction; any other decoding error is returned.
func decodeComplete(tool, text string, v any) (bool, error) {
	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return true, nil
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return false, nil
	}
	return false, fmt.Errorf("parse %s arguments: %w", tool, err)
}

package stream

import (
	"encoding/json"
	"errors"

	"phobos.org.uk/toolstream/internal/api"
	"phobos.org.uk/toolstream/internal/logging"
	"phobos.org.uk/toolstream/internal/toolerrors"
)

// ResultLogger logs streaming results and tool events with tool-specific
// formatting.
type ResultLogger struct {
	log *logging.ScopedLogger
}

// NewResultLogger creates a logger writing through log.
func NewResultLogger(log *logging.ScopedLogger) *ResultLogger {
	return &ResultLogger{log: log}
}

// LogResult logs one streaming result at debug level, scoped to its call.
func (l *ResultLogger) LogResult(result *StreamingResult) {
	if result == nil {
		return
	}
	log := l.log.WithToolCall(result.ToolCallID)
	args := fieldsOf(result.PartialArgs)

	fields := map[string]any{
		"tool":     result.ToolName,
		"complete": result.IsComplete,
	}
	switch result.ToolName {
	case "idle", "doneTool", "respondWithoutAnalysis":
		fields["response_chars"] = len([]rune(getString(args, "final_response")))
	case "sequentialThinking":
		fields["thought"] = getInt(args, "thoughtNumber")
		fields["next"] = args["nextThoughtNeeded"] == true
	case "executeSql":
		fields["statements"] = len(getArray(args, "statements"))
	case "createMetrics":
		files := getArray(args, "files")
		fields["files"] = len(files)
		if len(files) > 0 {
			if last, ok := files[len(files)-1].(map[string]any); ok {
				fields["current"] = getString(last, "name")
			}
		}
	case "subagentTool":
		fields["instructions"] = truncate(getString(args, "instructions"), 48)
	default:
		fields["arg_keys"] = len(args)
	}
	log.Debug("tool args", fields)
}

// LogToolEvent logs a start or complete notification from a tool executor.
func (l *ResultLogger) LogToolEvent(event api.ToolEvent) {
	switch event.Event {
	case api.ToolEventStart:
		l.log.Info("tool start", map[string]any{"tool": event.Tool})
	case api.ToolEventComplete:
		fields := map[string]any{"tool": event.Tool}
		result := fieldsOf(event.Result)
		if status := getString(result, "status"); status != "" {
			fields["status"] = status
		}
		if msg := getString(result, "error_message"); msg != "" {
			fields["error"] = truncate(msg, 64)
		}
		l.log.Info("tool complete", fields)
	default:
		l.log.Warn("unknown tool event", map[string]any{"tool": event.Tool, "event": string(event.Event)})
	}
}

// LogParserError logs a parser failure that aborted chunk processing.
func (l *ResultLogger) LogParserError(err error) {
	if err == nil {
		return
	}
	var perr *toolerrors.ParserError
	if errors.As(err, &perr) {
		l.log.WithToolCall(perr.ToolCallID).Error("streaming parser failed", map[string]any{
			"tool":  perr.Tool,
			"error": perr.Err.Error(),
		})
		return
	}
	l.log.Error("chunk processing failed", map[string]any{"error": err.Error()})
}

// fieldsOf views a typed value as a JSON object.
func fieldsOf(v any) map[string]any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return t
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(data, &m) != nil {
		return nil
	}
	return m
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func getArray(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

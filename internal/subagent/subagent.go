// Package subagent runs a nested agent as a tool. The nested agent gets a
// single instruction message; its narrated text becomes a bounded summary and
// every tool event it emits is collected into an ordered message log.
//
// Nesting is bounded by an integer depth carried both in the executor's
// Context and in the context.Context handed to the nested agent, so a
// factory that forgets to honour AgentOptions.IsSubagent still cannot recurse
// past MaxDepth.
package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"phobos.org.uk/toolstream/internal/api"
	"phobos.org.uk/toolstream/internal/logging"
	"phobos.org.uk/toolstream/internal/taskstate"
	"phobos.org.uk/toolstream/internal/toolerrors"
)

// ToolName is the name the executor reports in tool events.
const ToolName = "subagentTool"

const (
	// DefaultSummaryLimit caps the summary length in runes.
	DefaultSummaryLimit = 500
	// DefaultMaxDepth allows one level of nesting below a top-level agent.
	DefaultMaxDepth = 1
	// UserID identifies nested runs to the agent factory.
	UserID = "subagent"

	fallbackSummary    = "Sub-agent completed its task without producing a text response."
	fallbackErrMessage = "Unknown error occurred"
)

// ErrDepthExceeded is reported when running a nested agent would exceed the
// configured maximum depth.
var ErrDepthExceeded = errors.New("sub-agent depth limit reached")

// Input is the sub-agent tool input.
type Input struct {
	Instructions string `json:"instructions"`
}

// Message is one tool event emitted by the nested agent.
type Message struct {
	Tool   string            `json:"tool"`
	Event  api.ToolEventKind `json:"event"`
	Args   any               `json:"args,omitempty"`
	Result any               `json:"result,omitempty"`
}

// Status discriminates Output.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Output is the result of one sub-agent run. Summary and Messages are set
// for StatusSuccess, ErrorMessage for StatusError. Err keeps the failure's
// causal chain for the caller; it is never serialized.
type Output struct {
	Status       Status
	Summary      string
	Messages     []Message
	ErrorMessage string
	Err          *toolerrors.ToolError
}

type successJSON struct {
	Status   Status    `json:"status"`
	Summary  string    `json:"summary"`
	Messages []Message `json:"messages"`
}

type errorJSON struct {
	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// MarshalJSON encodes only the fields of the active variant.
func (o Output) MarshalJSON() ([]byte, error) {
	if o.Status == StatusError {
		return json.Marshal(errorJSON{Status: o.Status, ErrorMessage: o.ErrorMessage})
	}
	msgs := o.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(successJSON{Status: StatusSuccess, Summary: o.Summary, Messages: msgs})
}

// errorOutput reports err's own message. stage names the step that failed
// and only appears in the error chain.
func errorOutput(stage string, err error) Output {
	msg := fallbackErrMessage
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Output{Status: StatusError, ErrorMessage: msg, Err: toolerrors.NewWithCause(stage, err)}
}

// panicOutput reports a recovered value. Only error values carry a message.
func panicOutput(r any) Output {
	out := errorOutput("recover", &toolerrors.PanicError{Value: r})
	out.ErrorMessage = fallbackErrMessage
	if err, ok := r.(error); ok && err.Error() != "" {
		out.ErrorMessage = err.Error()
	}
	return out
}

// Context configures an Executor.
type Context struct {
	ProjectDirectory string
	// OnToolEvent receives the start and complete events of every run. It is
	// called from whichever goroutine runs Execute.
	OnToolEvent api.ToolEventFunc
	CreateAgent CreateAgentFunc
	// Depth is the nesting depth of the agent that owns this tool; zero for
	// a top-level agent.
	Depth int
	// MaxDepth is the deepest nested agent allowed. Defaults to DefaultMaxDepth.
	MaxDepth int
	// SummaryLimit defaults to DefaultSummaryLimit.
	SummaryLimit int
	Log          *logging.ScopedLogger
	Tracer       trace.Tracer
}

// Executor runs sub-agents. Concurrent Execute calls are independent; they
// share only the OnToolEvent sink.
type Executor struct {
	cfg Context
}

// NewExecutor creates an executor, filling in defaults.
func NewExecutor(cfg Context) *Executor {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.SummaryLimit <= 0 {
		cfg.SummaryLimit = DefaultSummaryLimit
	}
	if cfg.Log == nil {
		cfg.Log = logging.Discard().WithSession("")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("phobos.org.uk/toolstream/internal/subagent")
	}
	if cfg.OnToolEvent == nil {
		cfg.OnToolEvent = func(api.ToolEvent) {}
	}
	return &Executor{cfg: cfg}
}

// Execute runs one nested agent to completion. It never returns an error:
// every failure, including a panic in an event sink, becomes a StatusError
// output. Exactly one start and one complete event are emitted per call.
func (e *Executor) Execute(ctx context.Context, in Input) (out Output) {
	lifecycle := taskstate.NewMachine()
	depth := max(e.cfg.Depth, DepthFrom(ctx))

	defer func() {
		if r := recover(); r != nil {
			out = panicOutput(r)
			e.cfg.Log.Error("sub-agent panicked", map[string]any{"depth": depth, "error": out.Err.Cause.Error()})
		}
		if lifecycle.State().IsActive() {
			if err := lifecycle.Complete(); err == nil {
				e.cfg.OnToolEvent(api.ToolEvent{Tool: ToolName, Event: api.ToolEventComplete, Args: in, Result: out})
			}
		}
	}()

	if err := lifecycle.Start(); err != nil {
		return errorOutput("start", err)
	}
	e.cfg.OnToolEvent(api.ToolEvent{Tool: ToolName, Event: api.ToolEventStart, Args: in})

	ctx, span := e.cfg.Tracer.Start(ctx, "tool.subagent", trace.WithAttributes(
		attribute.Int("subagent.depth", depth),
		attribute.Int("subagent.max_depth", e.cfg.MaxDepth),
	))
	defer span.End()

	out = e.run(ctx, in, depth)
	if out.Status == StatusError {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.ErrorMessage)
		e.cfg.Log.Warn("sub-agent failed", map[string]any{
			"depth": depth,
			"stage": out.Err.Message,
			"error": out.ErrorMessage,
		})
	} else {
		span.SetAttributes(attribute.Int("subagent.messages", len(out.Messages)))
		e.cfg.Log.Info("sub-agent completed", map[string]any{
			"depth":         depth,
			"summary_chars": len([]rune(out.Summary)),
			"messages":      len(out.Messages),
		})
	}
	return out
}

func (e *Executor) run(ctx context.Context, in Input, depth int) (out Output) {
	defer func() {
		if r := recover(); r != nil {
			out = panicOutput(r)
		}
	}()

	if in.Instructions == "" {
		return errorOutput("validate", toolerrors.New("instructions must not be empty"))
	}
	if e.cfg.CreateAgent == nil {
		return errorOutput("validate", toolerrors.New("no agent factory configured"))
	}
	child := depth + 1
	if child > e.cfg.MaxDepth {
		return errorOutput("validate", fmt.Errorf("%w (depth %d, max %d)", ErrDepthExceeded, child, e.cfg.MaxDepth))
	}

	// Every return below stops the nested run.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var transcript messageLog
	ctx = WithDepth(ctx, child)
	agent, err := e.cfg.CreateAgent(ctx, AgentOptions{
		ProjectDirectory: e.cfg.ProjectDirectory,
		UserID:           UserID,
		SessionID:        uuid.NewString(),
		OnToolEvent:      transcript.append,
		IsSubagent:       true,
		Depth:            child,
		MaxDepth:         e.cfg.MaxDepth,
	})
	if err != nil {
		return errorOutput("create sub-agent", err)
	}
	if agent == nil {
		return errorOutput("create sub-agent", toolerrors.New("factory returned no agent"))
	}

	parts, err := agent.Stream(ctx, []AgentMessage{{Role: RoleUser, Content: in.Instructions}})
	if err != nil {
		return errorOutput("start sub-agent stream", err)
	}

	var full strings.Builder
	for {
		select {
		case <-ctx.Done():
			return errorOutput("stream sub-agent", ctx.Err())
		case part, ok := <-parts:
			if !ok {
				return Output{
					Status:   StatusSuccess,
					Summary:  summarize(full.String(), e.cfg.SummaryLimit),
					Messages: transcript.snapshot(),
				}
			}
			switch part.Type {
			case PartTextDelta:
				full.WriteString(part.TextDelta)
			case PartToolCall:
				// Tool activity reaches the transcript through OnToolEvent.
			case PartError:
				return errorOutput("stream sub-agent", part.Err)
			default:
			}
		}
	}
}

func summarize(text string, limit int) string {
	if text == "" {
		return fallbackSummary
	}
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit])
}

// messageLog collects nested tool events. The nested agent may report from
// several goroutines.
type messageLog struct {
	mu   sync.Mutex
	msgs []Message
}

func (l *messageLog) append(ev api.ToolEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, Message{Tool: ev.Tool, Event: ev.Event, Args: ev.Args, Result: ev.Result})
}

func (l *messageLog) snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

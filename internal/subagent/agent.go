package subagent

import (
	"context"

	"phobos.org.uk/toolstream/internal/api"
)

// RoleUser is the role of the instruction message handed to a nested agent.
const RoleUser = "user"

// AgentMessage is one conversation message.
type AgentMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PartType discriminates the parts of an agent output stream.
type PartType string

const (
	PartTextDelta PartType = "text-delta"
	PartToolCall  PartType = "tool-call"
	PartError     PartType = "error"
)

// Part is one element of an agent output stream.
type Part struct {
	Type       PartType
	TextDelta  string
	ToolName   string
	ToolCallID string
	Args       any
	Err        error
}

// Agent is a runnable agent instance. Stream starts a run over messages and
// returns its output; the channel is closed when the run ends. The run
// should stop when ctx is cancelled.
type Agent interface {
	Stream(ctx context.Context, messages []AgentMessage) (<-chan Part, error)
}

// AgentOptions is what the executor hands to the agent factory.
type AgentOptions struct {
	ProjectDirectory string
	UserID           string
	SessionID        string
	OnToolEvent      api.ToolEventFunc
	// IsSubagent tells the factory not to equip the agent with the
	// sub-agent tool.
	IsSubagent bool
	Depth      int
	MaxDepth   int
}

// CreateAgentFunc builds a nested agent.
type CreateAgentFunc func(ctx context.Context, opts AgentOptions) (Agent, error)

type depthKey struct{}

// WithDepth records the agent nesting depth on ctx.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// DepthFrom returns the nesting depth recorded on ctx, or zero.
func DepthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

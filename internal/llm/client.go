package llm

import (
	"context"
	"errors"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

var (
	// ErrUpstreamUnavailable means the model service could not be reached or
	// answered with an error.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedResponse means the service answered but the reply could not
	// be turned into a Message.
	ErrMalformedResponse = errors.New("malformed response")
)

// Message is one turn of a conversation. Assistant messages may carry tool
// calls; tool messages carry the ID of the call they answer.
type Message struct {
	Role       string     `json:"role"` // user, assistant, tool
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// IsFinal reports whether m is an assistant answer with no pending tool calls.
func (m Message) IsFinal() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) == 0
}

type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// ToolResult is the output of one dispatched ToolCall.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message wraps the result as a tool message for the history.
func (r ToolResult) Message() Message {
	return Message{Role: RoleTool, Content: r.Content, ToolCallID: r.ToolCallID, IsError: r.IsError}
}

type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Message converts the response into an assistant history entry.
func (r *Response) Message() Message {
	return Message{Role: RoleAssistant, Content: r.Content, ToolCalls: r.ToolCalls}
}

// Tool describes a capability the model may request by name.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

type Client interface {
	Chat(ctx context.Context, systemPrompt string, messages []Message, tools []Tool) (*Response, error)
}

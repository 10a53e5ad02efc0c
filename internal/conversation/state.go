// Package conversation holds the per-thread message history a turn reads
// and appends to.
//
// Invariant: every tool message answers exactly one earlier, still
// unanswered tool call from an assistant message in the same history.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chris/scout/internal/llm"
)

var (
	ErrInvalidThreadID = errors.New("thread id is required")
	// ErrOrphanToolResult is returned when a tool message has no matching,
	// unanswered tool call before it.
	ErrOrphanToolResult = errors.New("tool result without matching tool call")
	ErrInvalidMessage   = errors.New("invalid message")
)

// Sink receives messages after they are accepted into a State, for
// callers that mirror history somewhere else.
type Sink func(threadID string, msgs []llm.Message) error

// State is an append-only message history for one thread. It is safe for
// concurrent use, but callers must not run two turns on one thread at once.
type State struct {
	threadID string
	sink     Sink

	mu       sync.RWMutex
	messages []llm.Message
	pending  map[string]bool // unanswered tool call IDs
	answered map[string]bool
}

// New returns a State seeded with history. The history must already satisfy
// the pairing invariant.
func New(threadID string, history []llm.Message) (*State, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, ErrInvalidThreadID
	}
	s := &State{
		threadID: threadID,
		pending:  make(map[string]bool),
		answered: make(map[string]bool),
	}
	for i, m := range history {
		if err := s.check(m); err != nil {
			return nil, fmt.Errorf("history message %d: %w", i, err)
		}
		s.track(m)
		s.messages = append(s.messages, cloneMessage(m))
	}
	return s, nil
}

// WithSink sets the function that mirrors appended messages.
func (s *State) WithSink(sink Sink) *State {
	s.sink = sink
	return s
}

func (s *State) ThreadID() string {
	return s.threadID
}

// Messages returns a copy of the history.
func (s *State) Messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = cloneMessage(m)
	}
	return out
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Last returns the newest message.
func (s *State) Last() (llm.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return llm.Message{}, false
	}
	return cloneMessage(s.messages[len(s.messages)-1]), true
}

// PendingToolCalls returns tool calls from the history that have no result
// yet, in request order.
func (s *State) PendingToolCalls() []llm.ToolCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []llm.ToolCall
	for _, m := range s.messages {
		for _, tc := range m.ToolCalls {
			if s.pending[tc.ID] {
				out = append(out, tc)
			}
		}
	}
	return out
}

// Append validates and adds msgs as one batch. Either all are accepted or
// none are.
func (s *State) Append(msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate against a scratch copy of the bookkeeping so a bad message
	// late in the batch leaves the state untouched.
	scratch := &State{pending: copySet(s.pending), answered: copySet(s.answered)}
	for i, m := range msgs {
		if err := scratch.check(m); err != nil {
			return fmt.Errorf("append message %d: %w", i, err)
		}
		scratch.track(m)
	}

	if s.sink != nil {
		if err := s.sink(s.threadID, msgs); err != nil {
			return fmt.Errorf("mirroring messages: %w", err)
		}
	}

	s.pending, s.answered = scratch.pending, scratch.answered
	for _, m := range msgs {
		s.messages = append(s.messages, cloneMessage(m))
	}
	return nil
}

func (s *State) check(m llm.Message) error {
	switch m.Role {
	case llm.RoleUser:
		if len(m.ToolCalls) > 0 || m.ToolCallID != "" {
			return fmt.Errorf("%w: user message cannot carry tool data", ErrInvalidMessage)
		}
	case llm.RoleAssistant:
		if m.ToolCallID != "" {
			return fmt.Errorf("%w: assistant message cannot carry a tool call id", ErrInvalidMessage)
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == "" {
				return fmt.Errorf("%w: tool call without id", ErrInvalidMessage)
			}
			if s.pending[tc.ID] || s.answered[tc.ID] {
				return fmt.Errorf("%w: duplicate tool call id %q", ErrInvalidMessage, tc.ID)
			}
		}
	case llm.RoleTool:
		if !s.pending[m.ToolCallID] {
			return fmt.Errorf("%w: %q", ErrOrphanToolResult, m.ToolCallID)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	return nil
}

func (s *State) track(m llm.Message) {
	for _, tc := range m.ToolCalls {
		s.pending[tc.ID] = true
	}
	if m.Role == llm.RoleTool {
		delete(s.pending, m.ToolCallID)
		s.answered[m.ToolCallID] = true
	}
}

// Validate reports whether msgs satisfy the pairing invariant.
func Validate(msgs []llm.Message) error {
	s := &State{pending: make(map[string]bool), answered: make(map[string]bool)}
	for i, m := range msgs {
		if err := s.check(m); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		s.track(m)
	}
	return nil
}

func copySet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneMessage(m llm.Message) llm.Message {
	if len(m.ToolCalls) == 0 {
		return m
	}
	calls := make([]llm.ToolCall, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		params := make(map[string]any, len(tc.Params))
		for k, v := range tc.Params {
			params[k] = v
		}
		calls[i] = llm.ToolCall{ID: tc.ID, Name: tc.Name, Params: params}
	}
	m.ToolCalls = calls
	return m
}

package agent

import (
	"context"
	"errors"

	"github.com/chris/scout/internal/conversation"
	"github.com/chris/scout/internal/llm"
)

var (
	// ErrLoopLimitExceeded ends a turn whose model kept asking for tools
	// past the round cap. Partial progress stays in the history.
	ErrLoopLimitExceeded = errors.New("tool loop limit exceeded")
	ErrInvalidHistory    = errors.New("invalid conversation history")
	ErrEmptyConversation = errors.New("conversation has no messages")
)

// ErrorKind is a stable name for a class of turn failure, for UIs.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindMalformedResponse   ErrorKind = "malformed_response"
	KindLoopLimitExceeded   ErrorKind = "loop_limit_exceeded"
	KindInvalidHistory      ErrorKind = "invalid_history"
	KindCanceled            ErrorKind = "canceled"
	KindInternal            ErrorKind = "internal"
)

// Kind classifies an error returned by Run or Resume.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, llm.ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, llm.ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrLoopLimitExceeded):
		return KindLoopLimitExceeded
	case errors.Is(err, ErrInvalidHistory), errors.Is(err, ErrEmptyConversation),
		errors.Is(err, conversation.ErrOrphanToolResult), errors.Is(err, conversation.ErrInvalidMessage):
		return KindInvalidHistory
	default:
		return KindInternal
	}
}

// UserMessage renders err as a short line suitable for a chat reply.
func UserMessage(err error) string {
	switch Kind(err) {
	case KindNone:
		return ""
	case KindUpstreamUnavailable:
		return "The model service is unavailable right now. Try again in a moment."
	case KindMalformedResponse:
		return "The model sent a reply I couldn't understand. Try again?"
	case KindLoopLimitExceeded:
		return "I hit the maximum number of tool calls for one answer. Ask me to continue, or rephrase."
	case KindCanceled:
		return "That took too long, so I stopped. Try again?"
	case KindInvalidHistory:
		return "This conversation's history is inconsistent. Start a new thread."
	default:
		return "Something went wrong. Try again?"
	}
}

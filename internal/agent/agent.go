package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/chris/scout/internal/conversation"
	"github.com/chris/scout/internal/llm"
)

const DefaultMaxToolRounds = 10

// Dispatcher runs tool calls on behalf of the loop.
type Dispatcher interface {
	Specs() []llm.Tool
	DispatchAll(ctx context.Context, calls []llm.ToolCall, parallel bool) []llm.ToolResult
}

type Options struct {
	// MaxToolRounds caps Responder calls per turn.
	MaxToolRounds     int
	ParallelToolCalls bool
	SystemPrompt      string
	// MaxContextTokens bounds each request, system prompt and tool
	// definitions included. Zero disables trimming.
	MaxContextTokens int
}

type Agent struct {
	client       llm.Client
	dispatcher   Dispatcher
	systemPrompt string
	maxRounds    int
	parallel     bool
	budget       int // history tokens per request, 0 for unlimited
}

func New(client llm.Client, dispatcher Dispatcher, opts Options) *Agent {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Agent{
		client:       client,
		dispatcher:   dispatcher,
		systemPrompt: opts.SystemPrompt,
		maxRounds:    opts.MaxToolRounds,
		parallel:     opts.ParallelToolCalls,
		budget:       llm.MessageBudget(opts.MaxContextTokens, opts.SystemPrompt, dispatcher.Specs()),
	}
}

// Run adds userMessage to conv and loops between the model and the tools
// until the model answers without tool calls. It returns the answer text.
//
// If the model call fails, conv is left as it was so the same input can be
// retried. If the round cap is hit, everything produced so far is kept.
// An empty userMessage behaves like Resume.
func (a *Agent) Run(ctx context.Context, conv *conversation.State, userMessage string) (string, error) {
	if strings.TrimSpace(userMessage) == "" {
		return a.Resume(ctx, conv)
	}
	if len(conv.PendingToolCalls()) > 0 {
		return "", fmt.Errorf("%w: unanswered tool calls, resume the thread first", ErrInvalidHistory)
	}
	return a.runTurn(ctx, conv, StateAwaitingModel, []llm.Message{{Role: llm.RoleUser, Content: userMessage}})
}

// Resume continues conv without new user input. A conversation that already
// ends in a final answer returns that answer and makes no calls.
func (a *Agent) Resume(ctx context.Context, conv *conversation.State) (string, error) {
	last, ok := conv.Last()
	if !ok {
		return "", ErrEmptyConversation
	}
	if last.IsFinal() {
		return last.Content, nil
	}
	if len(conv.PendingToolCalls()) > 0 {
		return a.runTurn(ctx, conv, StateDispatchingTools, nil)
	}
	return a.runTurn(ctx, conv, StateAwaitingModel, nil)
}

func (a *Agent) runTurn(ctx context.Context, conv *conversation.State, initial string, staged []llm.Message) (string, error) {
	turnID := uuid.NewString()
	machine := newTurnMachine(turnID, initial)
	history := conv.Messages()
	specs := a.dispatcher.Specs()
	pending := conv.PendingToolCalls()

	log.Printf("agent[%s]: turn start thread=%s history=%d", turnID, conv.ThreadID(), len(history))

	commit := func() error {
		if err := conv.Append(staged...); err != nil {
			return fmt.Errorf("committing turn: %w", err)
		}
		return nil
	}

	rounds := 0
	var answer string
	for {
		switch machine.Current() {
		case StateAwaitingModel:
			if rounds >= a.maxRounds {
				if err := commit(); err != nil {
					return "", err
				}
				log.Printf("agent[%s]: giving up after %d rounds", turnID, rounds)
				return "", fmt.Errorf("%w: %d rounds", ErrLoopLimitExceeded, rounds)
			}
			rounds++

			msgs := append(append([]llm.Message(nil), history...), staged...)
			if err := conversation.Validate(msgs); err != nil {
				return "", fmt.Errorf("%w: %w", ErrInvalidHistory, err)
			}

			// Older turns give way as this turn's tool results pile up.
			if trimmed := llm.TrimMessages(msgs, a.budget); len(trimmed) < len(msgs) {
				log.Printf("agent[%s]: round %d trimmed %d -> %d messages", turnID, rounds, len(msgs), len(trimmed))
				msgs = trimmed
			}

			resp, err := a.client.Chat(ctx, a.systemPrompt, msgs, specs)
			if err != nil {
				log.Printf("agent[%s]: round %d: %v", turnID, rounds, err)
				return "", fmt.Errorf("round %d: %w", rounds, err)
			}
			if err := resp.Validate(); err != nil {
				return "", fmt.Errorf("round %d: %w", rounds, err)
			}

			reply := resp.Message()
			staged = append(staged, reply)
			if len(reply.ToolCalls) == 0 {
				answer = reply.Content
				if err := machine.Event(ctx, eventFinish); err != nil {
					return "", fmt.Errorf("finishing turn: %w", err)
				}
				continue
			}
			pending = reply.ToolCalls
			if err := machine.Event(ctx, eventToolCalls); err != nil {
				return "", fmt.Errorf("entering dispatch: %w", err)
			}

		case StateDispatchingTools:
			results := a.dispatcher.DispatchAll(ctx, pending, a.parallel)
			if err := matchResults(pending, results); err != nil {
				return "", err
			}
			for i, res := range results {
				log.Printf("agent[%s]: tool %s -> %s", turnID, pending[i].Name, truncate(res.Content, 200))
				staged = append(staged, res.Message())
			}
			pending = nil
			if err := machine.Event(ctx, eventToolsDone); err != nil {
				return "", fmt.Errorf("leaving dispatch: %w", err)
			}

		case StateDone:
			if err := commit(); err != nil {
				return "", err
			}
			log.Printf("agent[%s]: done in %d round(s)", turnID, rounds)
			return answer, nil
		}
	}
}

// matchResults checks that results answer calls one to one, in order.
func matchResults(calls []llm.ToolCall, results []llm.ToolResult) error {
	if len(results) != len(calls) {
		return fmt.Errorf("dispatcher returned %d results for %d calls", len(results), len(calls))
	}
	for i := range calls {
		if results[i].ToolCallID != calls[i].ID {
			return fmt.Errorf("%w: result %d has id %q, want %q", ErrInvalidHistory, i, results[i].ToolCallID, calls[i].ID)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

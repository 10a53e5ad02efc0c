// Package tools holds the tools the model may call and dispatches its
// tool-call requests to them.
//
// Failures never escape a dispatch as a Go error alone: the caller always
// gets a ToolResult whose payload describes what went wrong, so the model
// can react to it.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/chris/scout/internal/llm"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrToolExecution = errors.New("tool execution failed")
)

// Handler runs one tool call and returns its text payload.
type Handler func(ctx context.Context, params map[string]any) (string, error)

type entry struct {
	spec    llm.Tool
	handler Handler
}

// Registry maps tool names to their specs and handlers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(spec llm.Tool, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[spec.Name]; !ok {
		r.order = append(r.order, spec.Name)
	}
	r.entries[spec.Name] = entry{spec: spec, handler: h}
}

// Specs returns the registered tools in registration order.
func (r *Registry) Specs() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].spec)
	}
	return out
}

// Dispatch runs one tool call. The returned result always carries the
// request's ID; on failure it is flagged as an error and the returned error
// wraps ErrUnknownTool or ErrToolExecution.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) (llm.ToolResult, error) {
	r.mu.RLock()
	e, ok := r.entries[call.Name]
	r.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		return errorResult(call.ID, err), err
	}

	out, err := e.handler(ctx, call.Params)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrToolExecution, call.Name, err)
		return errorResult(call.ID, err), err
	}
	return llm.ToolResult{ToolCallID: call.ID, Content: out}, nil
}

// DispatchAll runs every call and returns the results in request order.
// With parallel set, calls run concurrently; the order of the returned
// slice does not depend on completion order.
func (r *Registry) DispatchAll(ctx context.Context, calls []llm.ToolCall, parallel bool) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))
	run := func(i int) {
		res, err := r.Dispatch(ctx, calls[i])
		if err != nil {
			log.Printf("tools: %s (%s) failed: %v", calls[i].Name, calls[i].ID, err)
		}
		results[i] = res
	}

	if !parallel || len(calls) < 2 {
		for i := range calls {
			run(i)
		}
		return results
	}

	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run(i)
		}(i)
	}
	wg.Wait()
	return results
}

func errorResult(id string, err error) llm.ToolResult {
	b, _ := json.Marshal(map[string]string{"error": err.Error()}) // string map always marshals
	return llm.ToolResult{ToolCallID: id, Content: string(b), IsError: true}
}

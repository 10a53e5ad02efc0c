package llm

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// decodeArguments parses a tool call's JSON argument payload. An empty
// payload is treated as an empty object.
func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: tool arguments are not valid JSON", ErrMalformedResponse)
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("%w: tool arguments must be a JSON object", ErrMalformedResponse)
	}
	params, ok := parsed.Value().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: tool arguments must be a JSON object", ErrMalformedResponse)
	}
	return params, nil
}

// Validate checks the shape every provider adapter must return: either a
// final answer with text, or one or more named tool calls with IDs.
func (r *Response) Validate() error {
	if len(r.ToolCalls) == 0 {
		if r.Content == "" {
			return fmt.Errorf("%w: empty reply with no tool calls", ErrMalformedResponse)
		}
		return nil
	}
	seen := make(map[string]bool, len(r.ToolCalls))
	for _, tc := range r.ToolCalls {
		if tc.ID == "" || tc.Name == "" {
			return fmt.Errorf("%w: tool call missing id or name", ErrMalformedResponse)
		}
		if seen[tc.ID] {
			return fmt.Errorf("%w: duplicate tool call id %q", ErrMalformedResponse, tc.ID)
		}
		seen[tc.ID] = true
	}
	return nil
}

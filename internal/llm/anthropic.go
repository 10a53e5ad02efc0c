package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

type AnthropicClient struct {
	client anthropic.Client
	model  string
}

func NewAnthropicClient(apiKey, model, baseURL string, extra ...option.RequestOption) *AnthropicClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), model: model}
}

func (c *AnthropicClient) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []Tool) (*Response, error) {
	anthTools := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if req, ok := t.Parameters["required"].([]string); ok {
			schema.Required = req
		}
		anthTools[i] = anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: schema,
		}}
	}

	// Anthropic has no tool role: results travel as tool_result blocks in a
	// user message, and consecutive results share one message.
	var anthMsgs []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(pendingResults) > 0 {
			anthMsgs = append(anthMsgs, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}
	for _, m := range messages {
		if m.Role == RoleTool {
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
			continue
		}
		flush()
		switch m.Role {
		case RoleUser:
			anthMsgs = append(anthMsgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Params
				if input == nil {
					input = map[string]any{} // the API rejects a null input
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			anthMsgs = append(anthMsgs, anthropic.NewAssistantMessage(blocks...))
		}
	}
	flush()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: anthropicMaxTokens,
		Messages:  anthMsgs,
		Tools:     anthTools,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic chat: %w", ErrUpstreamUnavailable, err)
	}

	result := &Response{}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Content += v.Text
		case anthropic.ToolUseBlock:
			params, err := decodeArguments(v.JSON.Input.Raw())
			if err != nil {
				return nil, fmt.Errorf("anthropic chat: tool %q: %w", v.Name, err)
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:     v.ID,
				Name:   v.Name,
				Params: params,
			})
		}
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}
	return result, nil
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds a Responder over the Chat Completions API. Extra
// request options are applied after the defaults; the SDK's own retry loop
// is disabled because a failed call ends the turn.
func NewOpenAIClient(apiKey, model, baseURL string, extra ...option.RequestOption) *OpenAIClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)
	client := openai.NewClient(opts...)
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &OpenAIClient{client: client, model: model}
}

func (c *OpenAIClient) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []Tool) (*Response, error) {
	oaiTools := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, t := range tools {
		oaiTools[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters),
		})
	}

	var oaiMsgs []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		oaiMsgs = append(oaiMsgs, openai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			oaiMsgs = append(oaiMsgs, openai.UserMessage(m.Content))
		case RoleTool:
			oaiMsgs = append(oaiMsgs, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				oaiMsgs = append(oaiMsgs, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallUnionParam, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Params) // params came from decoded JSON
				toolCalls[j] = openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(argsJSON),
						},
					},
				}
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if m.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: param.NewOpt(m.Content),
				}
			}
			oaiMsgs = append(oaiMsgs, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: oaiMsgs,
	}
	if len(oaiTools) > 0 {
		params.Tools = oaiTools
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: openai chat: %w", ErrUpstreamUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai chat: no choices", ErrMalformedResponse)
	}

	choice := resp.Choices[0]
	result := &Response{
		Content: choice.Message.Content,
	}

	for _, tc := range choice.Message.ToolCalls {
		ftc := tc.AsFunction()
		params, err := decodeArguments(ftc.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("openai chat: tool %q: %w", ftc.Function.Name, err)
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:     ftc.ID,
			Name:   ftc.Function.Name,
			Params: params,
		})
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	return result, nil
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ChatClient is the subset of the go-openai client used by the adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client over the Chat Completions API.
type OpenAIClient struct {
	chat         ChatClient
	defaultModel string
}

// NewOpenAIClient builds an adapter from an existing chat client.
func NewOpenAIClient(chat ChatClient, defaultModel string) (*OpenAIClient, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &OpenAIClient{chat: chat, defaultModel: defaultModel}, nil
}

// NewOpenAIClientFromAPIKey constructs the adapter with the default go-openai
// HTTP client.
func NewOpenAIClientFromAPIKey(apiKey, defaultModel string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return NewOpenAIClient(openai.NewClient(apiKey), defaultModel)
}

func (c *OpenAIClient) Name() string { return "openai" }

// Chat issues one chat completion and maps the first choice into the
// adapter-independent shape.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	request := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       encodeOpenAITools(req.Tools),
	}

	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	return translateOpenAIResponse(response), nil
}

func encodeOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			continue
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools
}

func translateOpenAIResponse(resp openai.ChatCompletionResponse) *ChatResponse {
	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	out.IsComplete = len(out.ToolCalls) == 0 && choice.FinishReason == openai.FinishReasonStop
	out.Usage = TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return out
}

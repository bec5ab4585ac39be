// Package llm defines the AI adapter surface: a narrow chat interface over
// provider SDKs, a registry keyed by adapter name, and a health checker used
// for graceful degradation when a backend is unreachable.
package llm

import (
	"context"
	"encoding/json"
)

// Role values for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation sent to an adapter.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition advertises one callable tool to the model. InputSchema is a
// JSON-schema object ({"type":"object","properties":{...}}).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// TokenUsage reports token consumption for one chat call.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// ChatRequest is a provider-independent chat completion request.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float32
}

// ChatResponse is the provider-independent result. IsComplete reports that
// the model finished its turn without requesting tools.
type ChatResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	StopReason string     `json:"stopReason,omitempty"`
	IsComplete bool       `json:"isComplete"`
	Usage      TokenUsage `json:"usage"`
}

// Client is the adapter interface. Implementations wrap one provider SDK.
type Client interface {
	// Name returns the adapter's registry name.
	Name() string
	// Chat sends the conversation and returns the model's reply. The context
	// deadline bounds the call.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Package llm defines the chat capability the coordination core consumes
// and an OpenAI-compatible HTTP implementation with retry-aware pacing.
// Prompt text lives with the callers; this package only moves messages.
package llm

import (
	"context"
)

// Message is one chat turn. Tool results reference the originating call
// through ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolDefinition describes a callable tool in provider-neutral form.
// Parameters is a JSON Schema fragment.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a tool invocation the model asked for.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Usage is the token accounting reported for one exchange.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the provider-neutral chat result.
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        Usage      `json:"usage"`
}

// SamplingOptions tunes a single exchange. Zero values defer to provider
// defaults.
type SamplingOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Seed        int64   `json:"seed,omitempty"`
}

// Client is the chat capability. Implementations must be safe for
// concurrent use; pacing and retries happen behind this interface so
// orchestration code never sees a 429.
type Client interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, options *SamplingOptions) (*Response, error)
}

// Package llm defines the chat-completion interface the call agent drives,
// including tool calls and tool results.
package llm

import (
	"context"

	"github.com/chriscow/livekit-call-agent/pkg/ai"
)

var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// MessageRole represents the role of a message in a chat conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message represents a single message in a chat conversation.
type Message struct {
	Role    MessageRole
	Content string
	Name    string

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall
	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded arguments
}

// ChatRequest contains parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
	TopP        float32
	Functions   []FunctionDefinition
}

// ChatResponse contains the response from a chat completion request.
// When ToolCalls is non-empty Message.Content is usually empty.
type ChatResponse struct {
	Message      Message
	ToolCalls    []ToolCall
	TokensUsed   int
	FinishReason string
}

// FunctionDefinition defines a function that the LLM can call.
type FunctionDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// LLMCapabilities describes the capabilities of an LLM provider.
type LLMCapabilities struct {
	SupportsFunctions  bool
	SupportsStreaming  bool
	MaxTokens          int
	SupportedModels    []string
	SupportsSystemRole bool
}

// LLM is the main interface for large language model providers.
type LLM interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Capabilities() LLMCapabilities
}

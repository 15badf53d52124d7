package openai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/livekit-call-agent/pkg/ai"
	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
)

// DefaultChatModel is used when no model is configured.
const DefaultChatModel = openai.GPT4oMini

// OpenAILLM implements the LLM interface using OpenAI chat completions.
type OpenAILLM struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewLLM creates a chat provider.
func NewLLM(c Config) *OpenAILLM {
	if c.Model == "" {
		c.Model = DefaultChatModel
	}
	return &OpenAILLM{
		client: newClient(c),
		model:  c.Model,
		logger: slog.Default().With(slog.String("provider", "openai"), slog.String("model", c.Model)),
	}
}

func newOpenAILLM(cfg map[string]any) (any, error) {
	c, err := configFrom(cfg, DefaultChatModel)
	if err != nil {
		return nil, err
	}
	return NewLLM(c), nil
}

// Chat performs one chat completion. Tool definitions are offered as
// functions and any requested tool calls are returned.
func (o *OpenAILLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	start := time.Now()

	completionReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    toMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Tools:       toTools(req.Functions),
	}

	resp, err := o.client.CreateChatCompletion(ctx, completionReq)
	if err != nil {
		return llm.ChatResponse{}, classify(fmt.Errorf("chat completion request failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, ai.NewRecoverableError(nil, "no chat completion choices returned")
	}

	choice := resp.Choices[0]
	result := llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: choice.Message.Content,
		},
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	result.Message.ToolCalls = result.ToolCalls

	o.logger.Debug("Chat completion",
		slog.Int("messages", len(req.Messages)),
		slog.Int("tool_calls", len(result.ToolCalls)),
		slog.Int("tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

func toMessages(msgs []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		m := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Role != llm.RoleTool {
			m.Name = msg.Name
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out[i] = m
	}
	return out
}

func toTools(fns []llm.FunctionDefinition) []openai.Tool {
	if len(fns) == 0 {
		return nil
	}
	tools := make([]openai.Tool, len(fns))
	for i, fn := range fns {
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		}
	}
	return tools
}

// Capabilities returns the OpenAI provider's capabilities
func (o *OpenAILLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{
		SupportsFunctions:  true,
		SupportsStreaming:  false,
		MaxTokens:          128000,
		SupportedModels:    []string{openai.GPT4oMini, openai.GPT4o, openai.GPT4Turbo},
		SupportsSystemRole: true,
	}
}

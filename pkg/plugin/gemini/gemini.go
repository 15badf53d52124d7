// Package gemini provides a Google Gemini chat provider with function calling.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/chriscow/livekit-call-agent/pkg/ai"
	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-call-agent/pkg/plugin"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// Config holds Gemini settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // empty means the public Gemini API
}

// LLM implements llm.LLM on the Gemini API.
type LLM struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// New creates a Gemini chat provider.
func New(ctx context.Context, c Config) (*LLM, error) {
	if c.APIKey == "" {
		return nil, errors.New("Gemini API key is required")
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	cc := &genai.ClientConfig{APIKey: c.APIKey, Backend: genai.BackendGeminiAPI}
	if c.BaseURL != "" {
		cc.HTTPOptions.BaseURL = c.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &LLM{
		client: client,
		model:  c.Model,
		logger: slog.Default().With(slog.String("provider", "gemini"), slog.String("model", c.Model)),
	}, nil
}

func newGeminiLLM(cfg map[string]any) (any, error) {
	c := Config{}
	c.APIKey, _ = cfg["api_key"].(string)
	c.Model, _ = cfg["model"].(string)
	c.BaseURL, _ = cfg["base_url"].(string)
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	return New(context.Background(), c)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "gemini",
		Factory:     newGeminiLLM,
		Description: "Google Gemini chat with function calling",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "Gemini API key (or set GEMINI_API_KEY env var)",
			"model":    DefaultModel,
			"base_url": "API base URL override",
		},
	})
}

// Chat sends the conversation to Gemini. System messages become the system
// instruction; tool results are sent back as function responses.
func (g *LLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	start := time.Now()
	system, contents, err := toContents(req.Messages)
	if err != nil {
		return llm.ChatResponse{}, ai.NewFatalError(err, "invalid conversation")
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: system,
		MaxOutputTokens:   int32(req.MaxTokens),
		Tools:             toTools(req.Functions),
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.TopP > 0 {
		config.TopP = genai.Ptr(req.TopP)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.ChatResponse{}, classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.ChatResponse{}, ai.NewRecoverableError(nil, "gemini returned no candidates")
	}

	candidate := resp.Candidates[0]
	result := llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant},
		FinishReason: strings.ToLower(string(candidate.FinishReason)),
	}
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return llm.ChatResponse{}, fmt.Errorf("encode function arguments: %w", err)
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", len(result.ToolCalls), part.FunctionCall.Name)
			}
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
		case part.Text != "" && !part.Thought:
			text.WriteString(part.Text)
		}
	}
	result.Message.Content = text.String()
	result.Message.ToolCalls = result.ToolCalls
	if resp.UsageMetadata != nil {
		result.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	g.logger.Debug("Chat completion",
		slog.Int("messages", len(req.Messages)),
		slog.Int("tool_calls", len(result.ToolCalls)),
		slog.Int("tokens", result.TokensUsed),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

func toContents(msgs []llm.Message) (*genai.Content, []*genai.Content, error) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case llm.RoleAssistant:
			c := &genai.Content{Role: string(genai.RoleModel)}
			if msg.Content != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				if strings.TrimSpace(tc.Arguments) != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return nil, nil, fmt.Errorf("tool call %s arguments: %w", tc.Name, err)
					}
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(c.Parts) > 0 {
				contents = append(contents, c)
			}
		case llm.RoleTool:
			contents = append(contents, &genai.Content{
				Role:  string(genai.RoleUser),
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.Name,
					Response: map[string]any{"output": msg.Content},
				}}},
			})
		default:
			return nil, nil, fmt.Errorf("unknown message role %q", msg.Role)
		}
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return instruction, contents, nil
}

func toTools(fns []llm.FunctionDefinition) []*genai.Tool {
	if len(fns) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(fns))
	for i, fn := range fns {
		decls[i] = &genai.FunctionDeclaration{
			Name:                 fn.Name,
			Description:          fn.Description,
			ParametersJsonSchema: fn.Parameters,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return ai.ClassifyStatus(apiErr.Code, fmt.Errorf("gemini request failed: %w", err))
	}
	return fmt.Errorf("gemini request failed: %w", err)
}

// Capabilities returns the Gemini provider's capabilities.
func (g *LLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{
		SupportsFunctions:  true,
		MaxTokens:          1048576,
		SupportedModels:    []string{"gemini-2.0-flash", "gemini-2.5-flash", "gemini-2.5-pro"},
		SupportsSystemRole: true,
	}
}

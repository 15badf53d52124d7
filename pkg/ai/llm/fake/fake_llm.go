// Package fake provides a scripted LLM for tests and offline simulation.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
)

// Step is one scripted reply. Exactly one of Text, ToolCalls or Err is used;
// Func, when set, overrides all of them.
type Step struct {
	Text      string
	ToolCalls []llm.ToolCall
	Err       error
	Func      func(req llm.ChatRequest) (llm.ChatResponse, error)
}

// Say is shorthand for a text step.
func Say(text string) Step { return Step{Text: text} }

// Call is shorthand for a step requesting one tool.
func Call(name, args string) Step {
	return Step{ToolCalls: []llm.ToolCall{{ID: "call_" + name, Name: name, Arguments: args}}}
}

// FakeLLM replays scripted steps in order. Once the script is exhausted it
// answers with a fixed acknowledgement that echoes the last user message.
type FakeLLM struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.ChatRequest
}

// NewFakeLLM creates a fake LLM provider that replays steps.
func NewFakeLLM(steps ...Step) *FakeLLM {
	return &FakeLLM{steps: steps}
}

// NewFakeLLMFromText creates a fake that replies with each text in turn.
func NewFakeLLMFromText(responses ...string) *FakeLLM {
	steps := make([]Step, len(responses))
	for i, r := range responses {
		steps[i] = Say(r)
	}
	return NewFakeLLM(steps...)
}

// Enqueue appends steps to the script.
func (f *FakeLLM) Enqueue(steps ...Step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, steps...)
}

// Requests returns a copy of every request received so far.
func (f *FakeLLM) Requests() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.ChatRequest(nil), f.requests...)
}

// Chat returns the next scripted step.
func (f *FakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatResponse{}, err
	}

	f.mu.Lock()
	req.Messages = append([]llm.Message(nil), req.Messages...)
	f.requests = append(f.requests, req)
	var step *Step
	if len(f.steps) > 0 {
		s := f.steps[0]
		f.steps = f.steps[1:]
		step = &s
	}
	f.mu.Unlock()

	if step == nil {
		return text(fmt.Sprintf("Okay. (You said: %s)", lastUser(req.Messages))), nil
	}
	switch {
	case step.Func != nil:
		return step.Func(req)
	case step.Err != nil:
		return llm.ChatResponse{}, step.Err
	case len(step.ToolCalls) > 0:
		return llm.ChatResponse{
			Message:      llm.Message{Role: llm.RoleAssistant, ToolCalls: step.ToolCalls},
			ToolCalls:    step.ToolCalls,
			TokensUsed:   50,
			FinishReason: "tool_calls",
		}, nil
	default:
		return text(step.Text), nil
	}
}

func text(s string) llm.ChatResponse {
	return llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: s},
		TokensUsed:   len(strings.Fields(s)) + 10,
		FinishReason: "stop",
	}
}

func lastUser(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// Capabilities returns the fake LLM capabilities.
func (f *FakeLLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{
		SupportsFunctions:  true,
		MaxTokens:          4096,
		SupportedModels:    []string{"fake-model"},
		SupportsSystemRole: true,
	}
}

package finalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
)

// sentimentSample bounds how many characters of transcript are sent for
// classification.
const sentimentSample = 800

var sentimentLabels = map[string]bool{
	"positive":   true,
	"neutral":    true,
	"negative":   true,
	"frustrated": true,
}

// LLMClassifier asks a chat model for a one-word sentiment label.
type LLMClassifier struct {
	LLM llm.LLM
}

func (c LLMClassifier) Classify(ctx context.Context, transcript string) (string, error) {
	transcript = truncate(transcript, sentimentSample)
	resp, err := c.LLM.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Content: "Classify this call as one word: positive, neutral, negative, or frustrated.\n\n" +
				transcript,
		}},
		MaxTokens: 5,
	})
	if err != nil {
		return SentimentUnknown, fmt.Errorf("classify sentiment: %w", err)
	}
	return NormalizeSentiment(resp.Message.Content), nil
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// NormalizeSentiment maps a model reply onto the known labels.
func NormalizeSentiment(reply string) string {
	label := strings.ToLower(strings.Trim(strings.TrimSpace(reply), ".!\"'"))
	if sentimentLabels[label] {
		return label
	}
	return SentimentUnknown
}

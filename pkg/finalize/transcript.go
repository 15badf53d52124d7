package finalize

import (
	"strings"

	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
)

// BuildTranscript renders the caller and agent turns of a conversation, one
// line per message. System prompts, tool traffic and empty messages are
// skipped.
func BuildTranscript(history []llm.Message) string {
	var b strings.Builder
	for _, m := range history {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[")
		b.WriteString(strings.ToUpper(string(m.Role)))
		b.WriteString("] ")
		b.WriteString(text)
	}
	return b.String()
}

package agent

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

func TestBuildSystemPrompt(t *testing.T) {
	is := is.New(t)
	now := time.Date(2025, 1, 6, 12, 0, 0, 0, call.IST)

	prompt := BuildSystemPrompt(PromptInput{
		Base:              "You are the receptionist at Sunrise Dental.",
		LanguageDirective: "Reply in English.",
		Now:               now,
		LastCall:          &PastCall{Date: now.AddDate(0, 0, -3), Summary: "No booking"},
	}, nil)

	is.True(strings.HasPrefix(prompt, "You are the receptionist at Sunrise Dental.\n\n[SYSTEM CONTEXT]\n"))
	for _, want := range []string{
		"Current date & time: Monday, January 06, 2025 at 12:00 PM IST",
		"  Today: Monday 06 January 2025 → ISO 2025-01-06",
		"  Tomorrow: Tuesday 07 January 2025 → ISO 2025-01-07",
		"  Sunday: Sunday 12 January 2025 → ISO 2025-01-12",
		"\n\n[LANGUAGE DIRECTIVE]\nReply in English.",
	} {
		is.True(strings.Contains(prompt, want)) // missing line
	}
	is.True(strings.HasSuffix(prompt, "[CALLER HISTORY: Last call 2025-01-03. Summary: No booking]"))
}

func TestBuildSystemPrompt_UsesIST(t *testing.T) {
	is := is.New(t)
	// 20:00 UTC is already the next morning in India.
	now := time.Date(2025, 1, 6, 20, 0, 0, 0, time.UTC)
	prompt := BuildSystemPrompt(PromptInput{Base: "Base.", Now: now}, nil)
	is.True(strings.Contains(prompt, "Tuesday, January 07, 2025 at 01:30 AM IST"))
	is.True(!strings.Contains(prompt, "LANGUAGE DIRECTIVE"))
	is.True(!strings.Contains(prompt, "CALLER HISTORY"))
}

func TestBuildSystemPrompt_WarnsOverBudget(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	BuildSystemPrompt(PromptInput{Base: "Short.", Now: time.Now()}, logger)
	is.True(!strings.Contains(buf.String(), "exceeds token budget"))

	buf.Reset()
	BuildSystemPrompt(PromptInput{Base: strings.Repeat("word ", 600), Now: time.Now()}, logger)
	is.True(strings.Contains(buf.String(), "System prompt exceeds token budget"))
}

func TestEstimateTokens(t *testing.T) {
	is := is.New(t)
	is.Equal(EstimateTokens(""), 0)
	is.Equal(EstimateTokens("one two three"), 4)
	is.Equal(EstimateTokens(strings.Repeat("a ", 75)), 100)
}

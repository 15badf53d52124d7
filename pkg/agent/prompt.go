package agent

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// PromptTokenBudget is the system prompt size above which a warning is
// logged; long prompts slow the first reply.
const PromptTokenBudget = 600

// PastCall is the caller's most recent earlier call.
type PastCall struct {
	Date    time.Time
	Summary string
}

// PromptInput is what the system prompt is assembled from.
type PromptInput struct {
	Base              string
	LanguageDirective string
	Now               time.Time
	LastCall          *PastCall
}

// BuildSystemPrompt joins the configured prompt, a date reference table in
// IST, the language directive and the caller's history line.
func BuildSystemPrompt(in PromptInput, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(in.Base))
	b.WriteString(timeContext(in.Now))
	if d := strings.TrimSpace(in.LanguageDirective); d != "" {
		b.WriteString("\n\n[LANGUAGE DIRECTIVE]\n")
		b.WriteString(d)
	}
	if in.LastCall != nil {
		fmt.Fprintf(&b, "\n\n[CALLER HISTORY: Last call %s. Summary: %s]",
			in.LastCall.Date.In(call.IST).Format(time.DateOnly), in.LastCall.Summary)
	}

	prompt := b.String()
	tokens := EstimateTokens(prompt)
	logger.Info("System prompt built", slog.Int("tokens", tokens))
	if tokens > PromptTokenBudget {
		logger.Warn("System prompt exceeds token budget",
			slog.Int("tokens", tokens),
			slog.Int("budget", PromptTokenBudget))
	}
	return prompt
}

// EstimateTokens approximates a token count at 0.75 words per token.
func EstimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) / 0.75)
}

func timeContext(now time.Time) string {
	local := now.In(call.IST)

	var b strings.Builder
	b.WriteString("\n\n[SYSTEM CONTEXT]\n")
	fmt.Fprintf(&b, "Current date & time: %s at %s IST\n",
		local.Format("Monday, January 02, 2006"), local.Format("03:04 PM"))
	b.WriteString("Resolve ALL relative day references using this table:\n")
	for i := 0; i < 7; i++ {
		day := local.AddDate(0, 0, i)
		label := day.Weekday().String()
		switch i {
		case 0:
			label = "Today"
		case 1:
			label = "Tomorrow"
		}
		fmt.Fprintf(&b, "  %s: %s → ISO %s\n", label, day.Format("Monday 02 January 2006"), day.Format(time.DateOnly))
	}
	b.WriteString("Always use ISO dates when calling save_booking_intent. Appointments in IST (+05:30).]")
	return b.String()
}

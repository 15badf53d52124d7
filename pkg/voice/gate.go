package voice

import (
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// MinUtteranceLen is the shortest trimmed transcript, in characters,
// accepted as a turn.
const MinUtteranceLen = 3

// Reason explains why a transcript was rejected.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonEcho     Reason = "echo"
	ReasonInterim  Reason = "interim"
	ReasonTooShort Reason = "too_short"
	ReasonFiller   Reason = "filler"
)

// Utterance is an accepted caller turn.
type Utterance struct {
	Text string
	Turn int
	At   time.Time
	// WrapUp is set on the one acceptance that reached the turn limit.
	WrapUp bool
}

// Rejection describes a discarded transcript. The zero value means accepted.
type Rejection struct {
	Reason Reason
	Text   string
}

func (r Rejection) Rejected() bool { return r.Reason != ReasonNone }

// Gate filters STT results into caller turns.
type Gate struct {
	fillers FillerSet
	limiter *Limiter
	logger  *slog.Logger
}

func NewGate(fillers FillerSet, limiter *Limiter, logger *slog.Logger) *Gate {
	if fillers == nil {
		fillers = NewFillerSet(nil)
	}
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{fillers: fillers, limiter: limiter, logger: logger}
}

// Accept classifies one transcript. Checks run in priority order: echo,
// interim, too short, filler. Acceptance increments the session's turn count.
func (g *Gate) Accept(ev call.TranscriptEvent, s *call.Session) (Utterance, Rejection) {
	text := strings.TrimSpace(ev.Text)

	reason := ReasonNone
	switch {
	case s.AgentSpeaking():
		reason = ReasonEcho
	case !ev.IsFinal:
		reason = ReasonInterim
	case utf8.RuneCountInString(text) < MinUtteranceLen:
		reason = ReasonTooShort
	case g.fillers.Contains(text):
		reason = ReasonFiller
	}
	if reason != ReasonNone {
		if reason != ReasonInterim {
			g.logger.Debug("Transcript rejected",
				slog.String("reason", string(reason)),
				slog.String("text", text))
		}
		return Utterance{}, Rejection{Reason: reason, Text: text}
	}

	turn := s.IncTurns()
	u := Utterance{Text: text, Turn: turn, At: ev.Timestamp, WrapUp: g.limiter.OnAccepted(turn)}
	g.logger.Info("Caller turn accepted",
		slog.Int("turn", turn),
		slog.String("text", text),
		slog.Bool("wrap_up", u.WrapUp))
	return u, Rejection{}
}

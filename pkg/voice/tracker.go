// Package voice implements the caller-facing turn logic of a call: the
// speech state tracker, the transcript gate and the turn limiter.
package voice

import "github.com/chriscow/livekit-call-agent/pkg/call"

// Tracker maintains the agent-speaking flag of a session from playback
// events. It is the only writer of that flag.
type Tracker struct {
	session *call.Session
}

func NewTracker(s *call.Session) *Tracker {
	return &Tracker{session: s}
}

// OnAgentSpeechStarted marks playback as in progress.
func (t *Tracker) OnAgentSpeechStarted() {
	t.session.SetAgentSpeaking(true)
}

// OnAgentSpeechFinished marks playback as done.
func (t *Tracker) OnAgentSpeechFinished() {
	t.session.SetAgentSpeaking(false)
}

// OnAgentSpeechInterrupted counts an interruption. The flag is left alone:
// the player reports Finished (or a fresh Started) on its own.
func (t *Tracker) OnAgentSpeechInterrupted() {
	t.session.IncInterrupts()
}

// Speaking reports the current flag.
func (t *Tracker) Speaking() bool {
	return t.session.AgentSpeaking()
}

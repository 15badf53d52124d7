package call

import "time"

// EventKind tags an Event in the session's ordered stream.
type EventKind int

const (
	TranscriptReceived EventKind = iota
	AgentSpeechStarted
	AgentSpeechFinished
	AgentSpeechInterrupted
	ParticipantDisconnected
)

func (k EventKind) String() string {
	switch k {
	case TranscriptReceived:
		return "transcript_received"
	case AgentSpeechStarted:
		return "agent_speech_started"
	case AgentSpeechFinished:
		return "agent_speech_finished"
	case AgentSpeechInterrupted:
		return "agent_speech_interrupted"
	case ParticipantDisconnected:
		return "participant_disconnected"
	default:
		return "unknown"
	}
}

// TranscriptEvent is one STT result. It is consumed by the transcript gate
// and never stored.
type TranscriptEvent struct {
	Text      string
	IsFinal   bool
	Timestamp time.Time
}

// Event is one entry of the per-session stream. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind       EventKind
	At         time.Time
	Transcript TranscriptEvent
	Reason     string // ParticipantDisconnected
}

func Transcript(text string, final bool, at time.Time) Event {
	return Event{
		Kind:       TranscriptReceived,
		At:         at,
		Transcript: TranscriptEvent{Text: text, IsFinal: final, Timestamp: at},
	}
}

func Disconnected(reason string, at time.Time) Event {
	return Event{Kind: ParticipantDisconnected, At: at, Reason: reason}
}

func Speech(kind EventKind, at time.Time) Event {
	return Event{Kind: kind, At: at}
}

// Package call holds the per-call domain types shared by the session
// controller: the session itself, booking intents, per-call configuration and
// the ordered event stream.
package call

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSessionClosed is returned by mutations attempted after finalize began.
var ErrSessionClosed = errors.New("call session is shutting down")

// Direction of a call relative to the agent.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// UnknownPhone is used when no caller number could be resolved.
const UnknownPhone = "unknown"

// IST is the business's local time zone. Schedules, slot labels and call
// analytics are expressed in it.
var IST = time.FixedZone("IST", 5*3600+1800)

// BookingIntent is an appointment request captured during the call. It only
// becomes an external booking when the call is finalized.
type BookingIntent struct {
	Start      time.Time
	Name       string
	Phone      string
	Email      string
	Notes      string
	CapturedAt time.Time
}

func (b BookingIntent) String() string {
	return fmt.Sprintf("%s (%s) at %s", b.Name, b.Email, b.Start.Format(time.RFC3339))
}

// Session is the state of one connected call. The orchestrator owns it; the
// gate, the speech tracker and the tools mutate individual fields through the
// methods below and never replace the session.
type Session struct {
	ID          string
	CallerPhone string
	CallerName  string
	Direction   Direction
	StartedAt   time.Time

	turnCount      atomic.Int64
	interruptCount atomic.Int64
	agentSpeaking  atomic.Bool
	shutdownFired  atomic.Bool

	mu      sync.Mutex
	booking *BookingIntent
	endedAt time.Time
}

// NewSession creates a session for the room described by meta.
func NewSession(meta Meta, now time.Time) *Session {
	phone := meta.Phone
	if phone == "" {
		phone = UnknownPhone
	}
	dir := meta.Direction
	if dir == "" {
		dir = Inbound
	}
	return &Session{
		ID:          meta.RoomName,
		CallerPhone: phone,
		CallerName:  meta.CallerName,
		Direction:   dir,
		StartedAt:   now,
	}
}

func (s *Session) Turns() int { return int(s.turnCount.Load()) }

// IncTurns records one accepted caller utterance and returns the new count.
func (s *Session) IncTurns() int { return int(s.turnCount.Add(1)) }

func (s *Session) Interrupts() int { return int(s.interruptCount.Load()) }

func (s *Session) IncInterrupts() int { return int(s.interruptCount.Add(1)) }

func (s *Session) AgentSpeaking() bool { return s.agentSpeaking.Load() }

// SetAgentSpeaking is reserved for the speech state tracker.
func (s *Session) SetAgentSpeaking(speaking bool) { s.agentSpeaking.Store(speaking) }

// SaveBookingIntent overwrites any previous intent. Last write wins.
func (s *Session) SaveBookingIntent(b BookingIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownFired.Load() {
		return ErrSessionClosed
	}
	s.booking = &b
	return nil
}

// CancelBookingIntent clears the intent and reports whether one existed.
func (s *Session) CancelBookingIntent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.booking != nil
	s.booking = nil
	return had
}

// BookingIntent returns a copy of the current intent, or nil.
func (s *Session) BookingIntent() *BookingIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.booking == nil {
		return nil
	}
	b := *s.booking
	return &b
}

// BeginShutdown flips the finalize guard. It returns true exactly once.
// Holding mu orders it against in-flight SaveBookingIntent calls.
func (s *Session) BeginShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownFired.CompareAndSwap(false, true)
}

func (s *Session) ShutdownFired() bool { return s.shutdownFired.Load() }

// MarkEnded records the end time once.
func (s *Session) MarkEnded(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		s.endedAt = t
	}
}

// Snapshot is an immutable copy of a session taken at finalize time.
type Snapshot struct {
	ID          string
	CallerPhone string
	CallerName  string
	Direction   Direction
	StartedAt   time.Time
	EndedAt     time.Time
	Turns       int
	Interrupts  int
	Booking     *BookingIntent
}

// Duration is the call length, zero when the end time is unknown.
func (s Snapshot) Duration() time.Duration {
	if s.EndedAt.IsZero() || s.EndedAt.Before(s.StartedAt) {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:          s.ID,
		CallerPhone: s.CallerPhone,
		CallerName:  s.CallerName,
		Direction:   s.Direction,
		StartedAt:   s.StartedAt,
		EndedAt:     s.endedAt,
		Turns:       s.Turns(),
		Interrupts:  s.Interrupts(),
	}
	if s.booking != nil {
		b := *s.booking
		snap.Booking = &b
	}
	return snap
}

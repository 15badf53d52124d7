package voice

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/matryer/is"
)

func newSession() *call.Session {
	return call.NewSession(call.Meta{RoomName: "room", Phone: "+911234567890"}, time.Now())
}

func final(text string) call.TranscriptEvent {
	return call.TranscriptEvent{Text: text, IsFinal: true, Timestamp: time.Now()}
}

func TestGateRejectionOrder(t *testing.T) {
	tests := []struct {
		name     string
		speaking bool
		event    call.TranscriptEvent
		want     Reason
	}{
		{name: "echo wins over everything", speaking: true, event: call.TranscriptEvent{Text: "ok"}, want: ReasonEcho},
		{name: "echo on substantive final", speaking: true, event: final("book me for tomorrow"), want: ReasonEcho},
		{name: "interim", event: call.TranscriptEvent{Text: "book me"}, want: ReasonInterim},
		{name: "empty", event: final("   "), want: ReasonTooShort},
		{name: "two chars", event: final(" hi "), want: ReasonTooShort},
		{name: "two devanagari chars", event: final("जी"), want: ReasonTooShort},
		{name: "two devanagari chars trimmed", event: final(" हा "), want: ReasonTooShort},
		{name: "devanagari word", event: final("नमस्ते"), want: ReasonNone},
		{name: "filler", event: final("Theek hai."), want: ReasonFiller},
		{name: "accepted", event: final("Hello"), want: ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession()
			s.SetAgentSpeaking(tt.speaking)
			g := NewGate(nil, nil, nil)

			_, rej := g.Accept(tt.event, s)
			if rej.Reason != tt.want {
				t.Errorf("reason = %q, want %q", rej.Reason, tt.want)
			}
			wantTurns := 0
			if tt.want == ReasonNone {
				wantTurns = 1
			}
			if s.Turns() != wantTurns {
				t.Errorf("turns = %d, want %d", s.Turns(), wantTurns)
			}
		})
	}
}

func TestEchoSuppressionNeverCountsTurns(t *testing.T) {
	is := is.New(t)
	s := newSession()
	g := NewGate(nil, nil, nil)
	tr := NewTracker(s)

	tr.OnAgentSpeechStarted()
	for i := 0; i < 20; i++ {
		_, rej := g.Accept(final(fmt.Sprintf("caller sentence number %d", i)), s)
		is.Equal(rej.Reason, ReasonEcho)
	}
	is.Equal(s.Turns(), 0)

	tr.OnAgentSpeechFinished()
	u, rej := g.Accept(final("tomorrow"), s)
	is.True(!rej.Rejected())
	is.Equal(u.Turn, 1)
}

func TestFillerVariantsAlwaysRejected(t *testing.T) {
	for _, text := range []string{"okay", "Okay.", "OKAY", "haan", "Haan.", "ji", " Ji. ", "hmm", "theek hai"} {
		for _, speaking := range []bool{false, true} {
			s := newSession()
			s.SetAgentSpeaking(speaking)
			_, rej := NewGate(nil, nil, nil).Accept(final(text), s)
			if !rej.Rejected() {
				t.Errorf("%q (speaking=%v) was accepted", text, speaking)
			}
			if s.Turns() != 0 {
				t.Errorf("%q changed the turn count", text)
			}
		}
	}
}

func TestCustomFillers(t *testing.T) {
	is := is.New(t)
	g := NewGate(NewFillerSet([]string{"bilkul"}), nil, nil)

	_, rej := g.Accept(final("Bilkul."), newSession())
	is.Equal(rej.Reason, ReasonFiller)

	_, rej = g.Accept(final("okay"), newSession())
	is.True(!rej.Rejected()) // custom set replaces the defaults
}

func TestTurnMonotonicity(t *testing.T) {
	is := is.New(t)
	s := newSession()
	g := NewGate(nil, nil, nil)

	inputs := []string{"Hello", "ok", "I need an appointment", "hm", "x", "Tuesday works", "accha"}
	accepted := 0
	for _, in := range inputs {
		u, rej := g.Accept(final(in), s)
		if !rej.Rejected() {
			accepted++
			is.Equal(u.Turn, accepted)
		}
		is.Equal(s.Turns(), accepted)
	}
	is.Equal(accepted, 3)
}

func TestWrapUpFiresOnceAtLimit(t *testing.T) {
	is := is.New(t)
	s := newSession()
	g := NewGate(nil, NewLimiter(3), nil)

	var fired []int
	for i := 1; i <= 5; i++ {
		u, rej := g.Accept(final(fmt.Sprintf("utterance %d", i)), s)
		is.True(!rej.Rejected())
		if u.WrapUp {
			fired = append(fired, u.Turn)
		}
	}
	is.Equal(fired, []int{3})
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0)
	for i := 1; i < 100; i++ {
		if l.OnAccepted(i) {
			t.Fatal("disabled limiter fired")
		}
	}
}

func TestLimiterConcurrentFiresOnce(t *testing.T) {
	l := NewLimiter(1)
	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(turn int) {
			defer wg.Done()
			if l.OnAccepted(turn) {
				mu.Lock()
				count++
				mu.Unlock()
			}
		}(i + 1)
	}
	wg.Wait()
	if count != 1 {
		t.Fatalf("limiter fired %d times", count)
	}
}

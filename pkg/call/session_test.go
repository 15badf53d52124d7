package call

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

func newTestSession() *Session {
	return NewSession(Meta{RoomName: "room-1", Phone: "+919800000001"}, time.Unix(1700000000, 0))
}

func TestNewSessionDefaults(t *testing.T) {
	is := is.New(t)

	s := NewSession(Meta{RoomName: "r"}, time.Now())
	is.Equal(s.CallerPhone, UnknownPhone)
	is.Equal(s.Direction, Inbound)
	is.True(!s.AgentSpeaking())
	is.Equal(s.Turns(), 0)
}

func TestBookingOverwriteAndCancel(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	first := BookingIntent{Name: "Asha", Email: "a@b.com", Start: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)}
	second := first
	second.Start = first.Start.Add(2 * time.Hour)

	is.NoErr(s.SaveBookingIntent(first))
	is.NoErr(s.SaveBookingIntent(second))
	is.Equal(s.BookingIntent().Start, second.Start) // last write wins

	is.True(s.CancelBookingIntent())
	is.True(s.BookingIntent() == nil)
	is.True(!s.CancelBookingIntent()) // nothing left to cancel
}

func TestBookingIntentReturnsCopy(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	is.NoErr(s.SaveBookingIntent(BookingIntent{Name: "Ravi"}))
	b := s.BookingIntent()
	b.Name = "changed"
	is.Equal(s.BookingIntent().Name, "Ravi")
}

func TestBeginShutdownOnce(t *testing.T) {
	s := newTestSession()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.BeginShutdown() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("BeginShutdown returned true %d times, want 1", wins)
	}
}

func TestSaveAfterShutdownRefused(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	is.True(s.BeginShutdown())
	err := s.SaveBookingIntent(BookingIntent{Name: "late"})
	is.True(errors.Is(err, ErrSessionClosed))
	is.True(s.BookingIntent() == nil)
}

func TestSnapshot(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	s.IncTurns()
	s.IncTurns()
	s.IncInterrupts()
	is.NoErr(s.SaveBookingIntent(BookingIntent{Name: "Asha"}))
	s.MarkEnded(s.StartedAt.Add(90 * time.Second))
	s.MarkEnded(s.StartedAt.Add(time.Hour)) // first end time sticks

	snap := s.Snapshot()
	is.Equal(snap.Turns, 2)
	is.Equal(snap.Interrupts, 1)
	is.Equal(snap.Duration(), 90*time.Second)
	is.Equal(snap.Booking.Name, "Asha")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing provider", mutate: func(c *Config) { c.TTSProvider = "" }, wantErr: true},
		{name: "negative turns", mutate: func(c *Config) { c.MaxTurns = -1 }, wantErr: true},
		{name: "zero start timeout", mutate: func(c *Config) { c.StartTimeout = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

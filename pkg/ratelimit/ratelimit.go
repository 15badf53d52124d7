// Package ratelimit caps how many calls one phone number may start within a
// sliding window. It is the only state shared between concurrent calls.
package ratelimit

import (
	"sync"
	"time"
)

type Config struct {
	MaxCalls int           // calls allowed per window; <= 0 disables limiting
	Window   time.Duration // sliding window length
	Exempt   []string      // numbers never limited
}

// DefaultConfig allows five calls per hour per number.
func DefaultConfig() Config {
	return Config{
		MaxCalls: 5,
		Window:   time.Hour,
		Exempt:   []string{"", "unknown", "demo"},
	}
}

// Decision is the outcome of one Allow check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter struct {
	cfg    Config
	exempt map[string]struct{}
	now    func() time.Time

	mu    sync.Mutex
	calls map[string][]time.Time
}

func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	exempt := make(map[string]struct{}, len(cfg.Exempt))
	for _, p := range cfg.Exempt {
		exempt[p] = struct{}{}
	}
	return &Limiter{
		cfg:    cfg,
		exempt: exempt,
		now:    time.Now,
		calls:  make(map[string][]time.Time),
	}
}

// Allow reports whether phone may start another call now.
func (l *Limiter) Allow(phone string) bool {
	return l.Check(phone, l.now()).Allowed
}

// Check prunes, tests and records under one lock, so two concurrent calls
// from the same number cannot both take the last slot.
func (l *Limiter) Check(phone string, now time.Time) Decision {
	if _, ok := l.exempt[phone]; ok || l.cfg.MaxCalls <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.cfg.Window)
	recent := l.calls[phone][:0]
	for _, t := range l.calls[phone] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.cfg.MaxCalls {
		l.calls[phone] = recent
		return Decision{Allowed: false, RetryAfter: recent[0].Add(l.cfg.Window).Sub(now)}
	}

	recent = append(recent, now)
	l.calls[phone] = recent
	return Decision{Allowed: true, Remaining: l.cfg.MaxCalls - len(recent)}
}

// Prune drops numbers with no calls inside the window.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.cfg.Window)
	for phone, times := range l.calls {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.calls, phone)
		}
	}
}

// Reset forgets all recorded calls.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = make(map[string][]time.Time)
}

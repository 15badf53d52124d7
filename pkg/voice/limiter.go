package voice

import "sync/atomic"

// Limiter requests a wrap-up once the caller reaches the turn limit. It never
// fires twice; ending the call is left to the normal hangup path.
type Limiter struct {
	max   int
	fired atomic.Bool
}

// NewLimiter returns a limiter for max turns; max <= 0 disables it.
func NewLimiter(max int) *Limiter {
	return &Limiter{max: max}
}

// OnAccepted reports true exactly once, on the first turn count >= max.
func (l *Limiter) OnAccepted(turns int) bool {
	if l.max <= 0 || turns < l.max {
		return false
	}
	return l.fired.CompareAndSwap(false, true)
}

func (l *Limiter) Fired() bool { return l.fired.Load() }

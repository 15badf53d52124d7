package voice

import (
	"sync"
	"testing"

	"github.com/matryer/is"
)

func TestTracker(t *testing.T) {
	is := is.New(t)
	s := newSession()
	tr := NewTracker(s)

	is.True(!tr.Speaking())

	tr.OnAgentSpeechStarted()
	is.True(s.AgentSpeaking())

	tr.OnAgentSpeechInterrupted()
	is.True(s.AgentSpeaking()) // interruption leaves the flag to the player
	is.Equal(s.Interrupts(), 1)

	tr.OnAgentSpeechFinished()
	is.True(!s.AgentSpeaking())
}

func TestTrackerIsPerSession(t *testing.T) {
	is := is.New(t)
	a, b := newSession(), newSession()

	NewTracker(a).OnAgentSpeechStarted()
	is.True(a.AgentSpeaking())
	is.True(!b.AgentSpeaking())
}

func TestTrackerConcurrency(t *testing.T) {
	tr := NewTracker(newSession())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(start bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if start {
					tr.OnAgentSpeechStarted()
				} else {
					tr.OnAgentSpeechFinished()
				}
			}
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tr.Speaking()
			}
		}()
	}
	wg.Wait()
}

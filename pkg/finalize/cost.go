package finalize

import (
	"math"
	"time"
)

// Per-unit rates used for the cost estimate, in USD.
const (
	sttPerMinute       = 0.002
	transportPerMinute = 0.006
	ttsPer1KChars      = 0.003
	llmPer4KChars      = 0.0001
)

// EstimateCost approximates the provider spend for a call from its length
// and transcript size. It is monotonic in both.
func EstimateCost(d time.Duration, transcriptChars int) float64 {
	minutes := math.Max(d.Minutes(), 0)
	chars := float64(max(transcriptChars, 0))
	cost := minutes*sttPerMinute +
		minutes*transportPerMinute +
		chars/1000*ttsPer1KChars +
		chars/4000*llmPer4KChars
	return math.Round(cost*1e5) / 1e5
}

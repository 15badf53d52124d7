package tools

import (
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

func TestBusinessHours(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"weekday open", time.Date(2025, 1, 6, 12, 0, 0, 0, call.IST), "We are OPEN. Today (Monday): 10:00 AM–7:00 PM IST."},
		{"weekday before opening", time.Date(2025, 1, 6, 9, 59, 0, 0, call.IST), "We are CLOSED. Today (Monday): 10:00 AM–7:00 PM IST."},
		{"saturday evening", time.Date(2025, 1, 4, 17, 0, 0, 0, call.IST), "We are CLOSED. Today (Saturday): 10:00 AM–5:00 PM IST."},
		{"sunday", time.Date(2025, 1, 5, 12, 0, 0, 0, call.IST), "We are closed on Sundays. Next opening: Monday 10:00 AM IST."},
		// 06:00 UTC is 11:30 IST.
		{"converts from utc", time.Date(2025, 1, 7, 6, 0, 0, 0, time.UTC), "We are OPEN. Today (Tuesday): 10:00 AM–7:00 PM IST."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(BusinessHours(tt.at), tt.want)
		})
	}
}

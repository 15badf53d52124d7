package tools

import (
	"fmt"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

type openHours struct {
	open, close int // minutes after midnight; open == close means closed
}

var weeklySchedule = map[time.Weekday]openHours{
	time.Monday:    {10 * 60, 19 * 60},
	time.Tuesday:   {10 * 60, 19 * 60},
	time.Wednesday: {10 * 60, 19 * 60},
	time.Thursday:  {10 * 60, 19 * 60},
	time.Friday:    {10 * 60, 19 * 60},
	time.Saturday:  {10 * 60, 17 * 60},
	time.Sunday:    {},
}

// BusinessHours describes whether the business is open at now.
func BusinessHours(now time.Time) string {
	local := now.In(call.IST)
	day := weeklySchedule[local.Weekday()]
	if day.open == day.close {
		return "We are closed on Sundays. Next opening: Monday 10:00 AM IST."
	}
	minute := local.Hour()*60 + local.Minute()
	status := "CLOSED"
	if minute >= day.open && minute < day.close {
		status = "OPEN"
	}
	return fmt.Sprintf("We are %s. Today (%s): %s–%s IST.",
		status, local.Weekday(), clock(day.open), clock(day.close))
}

func clock(minutes int) string {
	t := time.Date(2000, 1, 1, minutes/60, minutes%60, 0, 0, time.UTC)
	return t.Format("3:04 PM")
}

// Package notify delivers post-call notifications to stakeholders over
// Telegram, WhatsApp and an automation webhook.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/finalize"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━"

// Format renders n as a Telegram Markdown message.
func Format(n finalize.Notification) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	switch n.Kind {
	case finalize.BookingConfirmed:
		line("✅ *New Booking Confirmed!*")
		line(rule)
		line("👤 *Name:* %s", orDash(n.CallerName))
		line("📞 *Phone:* `%s`", n.Phone)
		if n.Booking != nil {
			line("📅 *Time:* %s", readableTime(n.Booking.Start))
			line("📝 *Notes:* %s", orDash(n.Booking.Notes))
		}
		line("🔖 *Booking ID:* `%s`", n.BookingID)
		line("🎙️ *Voice:* %s", orDash(n.Voice))
		line(rule)
	case finalize.BookingFailed:
		line("⚠️ *Booking Failed*")
		line(rule)
		line("👤 *Name:* %s", orDash(n.CallerName))
		line("📞 *Phone:* `%s`", n.Phone)
		if n.Booking != nil {
			line("📅 *Requested:* %s", readableTime(n.Booking.Start))
		}
		line("🔴 *Error:* `%s`", n.Reason)
		line(rule)
		line("_Please call the customer back to confirm manually._")
	case finalize.BookingCancelled:
		line("❌ *Booking Cancelled*")
		line(rule)
		line("👤 *Name:* %s", orDash(n.CallerName))
		line("📞 *Phone:* `%s`", n.Phone)
		line("🔖 *Booking ID:* `%s`", n.BookingID)
		line("💬 *Reason:* %s", orDefault(n.Reason, "Caller changed mind"))
		line(rule)
	case finalize.NoBooking:
		line("📵 *Call Ended: No Booking*")
		line(rule)
		line("👤 *Name:* %s", orDefault(n.CallerName, "Unknown"))
		line("📞 *Phone:* `%s`", n.Phone)
		line("⏱️ *Duration:* %ds", int(n.Duration.Seconds()))
		line("🎙️ *Voice:* %s", orDash(n.Voice))
		line(rule)
		line("💬 *Summary:*\n_%s_", orDefault(n.Summary, "Caller did not schedule."))
		line("_Consider a manual follow-up call._")
	case finalize.AgentError:
		line("⚠️ *Agent Error During Call*")
		line(rule)
		line("📞 *Phone:* `%s`", n.Phone)
		line("🏠 *Room:* `%s`", n.Room)
		line("🔴 *Error:* `%s`", n.Reason)
		line(rule)
	default:
		line("*Call %s*: %s %s", n.Kind, n.Phone, n.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// CallerConfirmation is the WhatsApp text sent to the caller after a
// booking is made.
func CallerConfirmation(n finalize.Notification) string {
	when := ""
	if n.Booking != nil {
		when = readableTime(n.Booking.Start)
	}
	return fmt.Sprintf("✅ Hi %s! Your appointment is *confirmed*.\n\n📅 *Date & Time:* %s\n\n"+
		"If you need to reschedule or cancel, just call us back.", orDefault(n.CallerName, "there"), when)
}

func readableTime(t time.Time) string {
	return t.In(call.IST).Format("Monday, 02 January 2006 at 3:04 PM") + " IST"
}

func orDash(s string) string { return orDefault(s, "-") }

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

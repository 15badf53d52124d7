package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// MaxSpokenSlots caps how many slots are read out to the caller.
const MaxSpokenSlots = 6

// Calendar is the read side of the booking system.
type Calendar interface {
	AvailableSlots(ctx context.Context, date time.Time) ([]call.Slot, error)
}

// CallControl is the transport's command surface.
type CallControl interface {
	Transfer(ctx context.Context, destination string) error
	Hangup(ctx context.Context) error
}

// Deps are the collaborators of the call tools. Calendar and Control may be
// nil; the affected tools then answer with their fallback message.
type Deps struct {
	Session  *call.Session
	Calendar Calendar
	Control  CallControl
	Config   call.Config
	Clock    func() time.Time
	Logger   *slog.Logger
}

// CallTools implements the functions offered to the model during a call.
type CallTools struct {
	deps Deps
}

func NewCallTools(deps Deps) *CallTools {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &CallTools{deps: deps}
}

// Register adds every call tool to reg.
func (c *CallTools) Register(reg *Registry) {
	reg.Register(Tool{
		Name:        "check_availability",
		Description: "Check open appointment slots on a date. Call this before offering times to the caller.",
		Parameters:  Object(map[string]any{"date": String("Date in YYYY-MM-DD format")}, "date"),
		Handler:     c.CheckAvailability,
	})
	reg.Register(Tool{
		Name: "save_booking_intent",
		Description: "Save the caller's chosen appointment. The booking is confirmed after the call. " +
			"Collect name, phone and email first; spell the email back to the caller.",
		Parameters: Object(map[string]any{
			"start_time":   String("Slot start as ISO 8601 with offset, e.g. 2025-01-02T10:00:00+05:30"),
			"caller_name":  String("Caller's full name"),
			"caller_phone": String("Caller's phone number"),
			"caller_email": String("Caller's email address"),
			"notes":        String("Anything else the caller mentioned"),
		}, "start_time", "caller_name", "caller_email"),
		Handler: c.SaveBookingIntent,
	})
	reg.Register(Tool{
		Name:        "cancel_appointment",
		Description: "Cancel the appointment request made earlier in this call.",
		Parameters:  Object(map[string]any{"reason": String("Why the caller is cancelling")}),
		Handler:     c.CancelAppointment,
	})
	reg.Register(Tool{
		Name:        "transfer_call",
		Description: "Transfer the caller to a human when they ask for one or you cannot help.",
		Handler:     c.TransferCall,
	})
	reg.Register(Tool{
		Name:        "end_call",
		Description: "Hang up after saying goodbye.",
		Handler:     c.EndCall,
	})
	reg.Register(Tool{
		Name:        "get_business_hours",
		Description: "Tell the caller whether the business is open and today's hours.",
		Handler:     c.GetBusinessHours,
	})
}

func (c *CallTools) CheckAvailability(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(raw, &args); err != nil || strings.TrimSpace(args.Date) == "" {
		return "Please ask the caller which date they would like.", nil
	}
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(args.Date), call.IST)
	if err != nil {
		return "That date doesn't look right. Please confirm the date with the caller.", nil
	}
	if c.deps.Calendar == nil {
		return "I'm having trouble checking the calendar right now.", nil
	}

	slots, err := c.deps.Calendar.AvailableSlots(ctx, date)
	if err != nil {
		c.deps.Logger.Error("Availability lookup failed",
			slog.String("date", args.Date),
			slog.String("error", err.Error()))
		return "I'm having trouble checking the calendar right now.", nil
	}
	if len(slots) == 0 {
		return fmt.Sprintf("No available slots on %s. Would you like to check another date?", args.Date), nil
	}

	if len(slots) > MaxSpokenSlots {
		slots = slots[:MaxSpokenSlots]
	}
	labels := make([]string, len(slots))
	for i, s := range slots {
		labels[i] = s.Label
		if labels[i] == "" {
			labels[i] = s.Start.In(call.IST).Format("3:04 PM")
		}
	}
	return fmt.Sprintf("Available slots on %s: %s IST.", args.Date, strings.Join(labels, ", ")), nil
}

func (c *CallTools) SaveBookingIntent(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		StartTime   string `json:"start_time"`
		CallerName  string `json:"caller_name"`
		CallerPhone string `json:"caller_phone"`
		CallerEmail string `json:"caller_email"`
		Notes       string `json:"notes"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "I couldn't read the booking details. Please confirm them with the caller.", nil
	}
	if strings.TrimSpace(args.CallerName) == "" {
		return "Please ask the caller for their name.", nil
	}
	if strings.TrimSpace(args.StartTime) == "" {
		return "Please confirm which slot the caller wants.", nil
	}

	email := NormalizeEmail(args.CallerEmail)
	if !ValidEmail(email) {
		return fmt.Sprintf("The email '%s' doesn't look right. Please ask the caller to spell their email again, letter by letter.", email), nil
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(args.StartTime))
	if err != nil {
		return "I couldn't understand the appointment time. Please confirm the date and time with the caller.", nil
	}

	phone := strings.TrimSpace(args.CallerPhone)
	if phone == "" {
		phone = c.deps.Session.CallerPhone
	}
	intent := call.BookingIntent{
		Start:      start,
		Name:       strings.TrimSpace(args.CallerName),
		Phone:      phone,
		Email:      email,
		Notes:      strings.TrimSpace(args.Notes),
		CapturedAt: c.deps.Clock(),
	}
	if err := c.deps.Session.SaveBookingIntent(intent); err != nil {
		if errors.Is(err, call.ErrSessionClosed) {
			return "The call is ending, so the booking could not be saved.", nil
		}
		return "", err
	}

	c.deps.Logger.Info("Booking intent saved",
		slog.String("name", intent.Name),
		slog.String("email", intent.Email),
		slog.Time("start", intent.Start))
	return fmt.Sprintf("Booking intent saved for %s (%s) at %s. I'll confirm after the call.",
		intent.Name, intent.Email, strings.TrimSpace(args.StartTime)), nil
}

func (c *CallTools) CancelAppointment(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(raw, &args)

	if !c.deps.Session.CancelBookingIntent() {
		return "There is no appointment to cancel.", nil
	}
	c.deps.Logger.Info("Booking intent cancelled", slog.String("reason", args.Reason))
	return "Your appointment request has been cancelled.", nil
}

func (c *CallTools) TransferCall(ctx context.Context, _ json.RawMessage) (string, error) {
	dest := TransferDestination(c.deps.Config.TransferNumber, c.deps.Config.SIPDomain)
	if dest == "" || c.deps.Control == nil {
		c.deps.Logger.Warn("Transfer requested without a destination")
		return "Unable to transfer right now.", nil
	}
	if err := c.deps.Control.Transfer(ctx, dest); err != nil {
		c.deps.Logger.Error("Transfer failed",
			slog.String("destination", dest),
			slog.String("error", err.Error()))
		return "Unable to transfer right now.", nil
	}
	return "Transfer initiated successfully.", nil
}

func (c *CallTools) EndCall(ctx context.Context, _ json.RawMessage) (string, error) {
	if c.deps.Control != nil {
		if err := c.deps.Control.Hangup(ctx); err != nil {
			c.deps.Logger.Warn("Hangup failed", slog.String("error", err.Error()))
		}
	}
	return "Call ended.", nil
}

func (c *CallTools) GetBusinessHours(ctx context.Context, _ json.RawMessage) (string, error) {
	return BusinessHours(c.deps.Clock()), nil
}

// TransferDestination builds the SIP URI for a transfer target.
func TransferDestination(number, sipDomain string) string {
	number = strings.TrimSpace(number)
	switch {
	case number == "":
		return ""
	case strings.HasPrefix(number, "sip:"), strings.HasPrefix(number, "tel:"):
		return number
	case sipDomain == "":
		return "tel:" + number
	default:
		return "sip:" + number + "@" + sipDomain
	}
}

// Package finalize runs the post-call side effects of a session: the
// deferred booking, notifications, analytics and the call log row.
package finalize

import (
	"context"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// Call summaries stored with the call log.
const (
	SummaryNoBooking      = "No booking"
	summaryBookingOK      = "Booking Confirmed: "
	summaryBookingFailed  = "Booking Failed: "
	noBookingFollowUpNote = "Caller did not schedule during this call."
)

// SentimentUnknown is stored when classification fails or is skipped.
const SentimentUnknown = "unknown"

// EventCallCompleted is the webhook event emitted after every call.
const EventCallCompleted = "call_completed"

// Booker turns a booking intent into an external booking.
type Booker interface {
	CreateBooking(ctx context.Context, intent call.BookingIntent) (string, error)
}

// Notifier delivers stakeholder notifications. Implementations are
// fire-and-forget from the pipeline's point of view.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Store persists the call log.
type Store interface {
	SaveCallLog(ctx context.Context, log CallLog) error
}

// ActiveCalls tracks live calls for dashboards.
type ActiveCalls interface {
	UpsertActiveCall(ctx context.Context, room, phone, name, status string) error
}

// Webhook posts call events to an automation endpoint.
type Webhook interface {
	Send(ctx context.Context, event WebhookEvent) error
}

// Classifier labels the tone of a transcript with a single word.
type Classifier interface {
	Classify(ctx context.Context, transcript string) (string, error)
}

// Recording is an in-progress call recording.
type Recording interface {
	// Stop ends the recording and returns its playback URL.
	Stop(ctx context.Context) (string, error)
}

// NotificationKind identifies a notification template.
type NotificationKind int

const (
	BookingConfirmed NotificationKind = iota
	BookingFailed
	BookingCancelled
	NoBooking
	AgentError
)

func (k NotificationKind) String() string {
	switch k {
	case BookingConfirmed:
		return "booking_confirmed"
	case BookingFailed:
		return "booking_failed"
	case BookingCancelled:
		return "booking_cancelled"
	case NoBooking:
		return "no_booking"
	case AgentError:
		return "agent_error"
	default:
		return "unknown"
	}
}

// Notification is the structured payload handed to notifiers.
type Notification struct {
	Kind       NotificationKind
	Room       string
	Phone      string
	CallerName string
	Booking    *call.BookingIntent
	BookingID  string
	Reason     string // failure, cancellation or error text
	Summary    string
	Voice      string
	Duration   time.Duration
}

// CallLog is the durable record of one call.
type CallLog struct {
	ID               string    `json:"id"`
	Room             string    `json:"room"`
	Phone            string    `json:"phone"`
	CallerName       string    `json:"caller_name"`
	Direction        string    `json:"direction"`
	StartedAt        time.Time `json:"started_at"`
	Duration         int       `json:"duration"` // seconds
	Transcript       string    `json:"transcript"`
	Summary          string    `json:"summary"`
	RecordingURL     string    `json:"recording_url"`
	Sentiment        string    `json:"sentiment"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	CallDate         string    `json:"call_date"`
	CallHour         int       `json:"call_hour"`
	CallDayOfWeek    string    `json:"call_day_of_week"`
	WasBooked        bool      `json:"was_booked"`
	BookingID        string    `json:"booking_id,omitempty"`
	Turns            int       `json:"turn_count"`
	InterruptCount   int       `json:"interrupt_count"`
}

// WebhookEvent is the JSON body posted to the automation endpoint.
type WebhookEvent struct {
	Event          string  `json:"event"`
	Room           string  `json:"room"`
	Phone          string  `json:"phone"`
	CallerName     string  `json:"caller_name"`
	Duration       int     `json:"duration"`
	Booked         bool    `json:"booked"`
	Sentiment      string  `json:"sentiment"`
	Summary        string  `json:"summary"`
	RecordingURL   string  `json:"recording_url"`
	InterruptCount int     `json:"interrupt_count"`
	EstimatedCost  float64 `json:"estimated_cost_usd"`
}

func newWebhookEvent(l CallLog) WebhookEvent {
	return WebhookEvent{
		Event:          EventCallCompleted,
		Room:           l.Room,
		Phone:          l.Phone,
		CallerName:     l.CallerName,
		Duration:       l.Duration,
		Booked:         l.WasBooked,
		Sentiment:      l.Sentiment,
		Summary:        l.Summary,
		RecordingURL:   l.RecordingURL,
		InterruptCount: l.InterruptCount,
		EstimatedCost:  l.EstimatedCostUSD,
	}
}

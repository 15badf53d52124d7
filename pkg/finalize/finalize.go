package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// DefaultStepTimeout bounds each external call made while finalizing.
const DefaultStepTimeout = 5 * time.Second

// ActiveCallCompleted is the live-call status written once a call ends.
const ActiveCallCompleted = "completed"

// Pipeline holds the collaborators used to finalize a call. Every
// collaborator except Store is optional.
type Pipeline struct {
	Booker      Booker
	Notifier    Notifier
	Store       Store
	ActiveCalls ActiveCalls
	Webhook     Webhook
	Classifier  Classifier

	Clock       func() time.Time
	Logger      *slog.Logger
	StepTimeout time.Duration

	// OnStepError observes failed or panicking steps.
	OnStepError func(step string, err error)
}

// Input is everything the pipeline needs from a finished session.
type Input struct {
	Session   call.Snapshot
	History   []llm.Message
	Recording Recording
	Voice     string
}

// Run performs the post-call steps in order. Each step is isolated: an
// error or panic is logged and the remaining steps still run. The call log
// is always handed to the store. Run never fails; it returns the log it
// built.
func (p *Pipeline) Run(ctx context.Context, in Input) CallLog {
	logger := p.logger().With(slog.String("room", in.Session.ID))
	snap := in.Session
	if snap.EndedAt.IsZero() {
		snap.EndedAt = p.now()
	}

	started := snap.StartedAt.In(call.IST)
	entry := CallLog{
		ID:             uuid.NewString(),
		Room:           snap.ID,
		Phone:          snap.CallerPhone,
		CallerName:     snap.CallerName,
		Direction:      string(snap.Direction),
		StartedAt:      snap.StartedAt,
		Duration:       int(snap.Duration().Seconds()),
		Summary:        SummaryNoBooking,
		Sentiment:      SentimentUnknown,
		CallDate:       started.Format(time.DateOnly),
		CallHour:       started.Hour(),
		CallDayOfWeek:  started.Weekday().String(),
		WasBooked:      snap.Booking != nil,
		Turns:          snap.Turns,
		InterruptCount: snap.Interrupts,
	}
	if entry.CallerName == "" && snap.Booking != nil {
		entry.CallerName = snap.Booking.Name
	}
	logger.Info("Finalizing call",
		slog.String("phone", entry.Phone),
		slog.Int("duration", entry.Duration),
		slog.Bool("booking_intent", entry.WasBooked))

	if err := p.step(ctx, logger, "booking", func(ctx context.Context) error {
		return p.book(ctx, snap, in.Voice, &entry)
	}); err != nil && entry.WasBooked && entry.Summary == SummaryNoBooking {
		entry.Summary = summaryBookingFailed + err.Error()
	}

	entry.Transcript = "unavailable"
	p.step(ctx, logger, "transcript", func(context.Context) error {
		entry.Transcript = BuildTranscript(in.History)
		return nil
	})

	if p.Classifier != nil && entry.Transcript != "" && entry.Transcript != "unavailable" {
		p.step(ctx, logger, "sentiment", func(ctx context.Context) error {
			label, err := p.Classifier.Classify(ctx, entry.Transcript)
			if err != nil {
				return err
			}
			entry.Sentiment = NormalizeSentiment(label)
			return nil
		})
	}

	p.step(ctx, logger, "cost", func(context.Context) error {
		entry.EstimatedCostUSD = EstimateCost(snap.Duration(), len(entry.Transcript))
		return nil
	})

	if in.Recording != nil {
		p.step(ctx, logger, "recording", func(ctx context.Context) error {
			url, err := in.Recording.Stop(ctx)
			if err != nil {
				return err
			}
			entry.RecordingURL = url
			return nil
		})
	}

	if p.ActiveCalls != nil {
		p.step(ctx, logger, "active_call", func(ctx context.Context) error {
			return p.ActiveCalls.UpsertActiveCall(ctx, snap.ID, snap.CallerPhone, entry.CallerName, ActiveCallCompleted)
		})
	}

	p.step(ctx, logger, "persist", func(ctx context.Context) error {
		if p.Store == nil {
			return errors.New("no call log store configured")
		}
		return p.Store.SaveCallLog(ctx, entry)
	})

	if p.Webhook != nil {
		p.step(ctx, logger, "webhook", func(ctx context.Context) error {
			return p.Webhook.Send(ctx, newWebhookEvent(entry))
		})
	}

	logger.Info("Call finalized",
		slog.String("summary", entry.Summary),
		slog.String("sentiment", entry.Sentiment),
		slog.Float64("estimated_cost_usd", entry.EstimatedCostUSD))
	return entry
}

func (p *Pipeline) book(ctx context.Context, snap call.Snapshot, voice string, entry *CallLog) error {
	n := Notification{
		Room:       snap.ID,
		Phone:      snap.CallerPhone,
		CallerName: snap.CallerName,
		Voice:      voice,
		Duration:   snap.Duration(),
	}

	if snap.Booking == nil {
		n.Kind = NoBooking
		n.Summary = noBookingFollowUpNote
		return p.notify(ctx, n)
	}

	intent := *snap.Booking
	if intent.Name == "" {
		intent.Name = "Unknown Caller"
	}
	if intent.Phone == "" {
		intent.Phone = snap.CallerPhone
	}
	n.Booking = &intent
	n.CallerName = intent.Name

	var err error
	if p.Booker == nil {
		err = errors.New("no booking service configured")
	} else {
		n.BookingID, err = p.Booker.CreateBooking(ctx, intent)
	}
	if err != nil {
		entry.Summary = summaryBookingFailed + err.Error()
		n.Kind = BookingFailed
		n.Reason = err.Error()
		return errors.Join(fmt.Errorf("create booking: %w", err), p.notify(ctx, n))
	}

	entry.BookingID = n.BookingID
	entry.Summary = summaryBookingOK + n.BookingID
	n.Kind = BookingConfirmed
	n.Summary = entry.Summary
	return p.notify(ctx, n)
}

func (p *Pipeline) notify(ctx context.Context, n Notification) error {
	if p.Notifier == nil {
		return nil
	}
	if err := p.Notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("notify %s: %w", n.Kind, err)
	}
	return nil
}

// step runs fn under the step timeout and converts panics into errors.
func (p *Pipeline) step(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error) (err error) {
	timeout := p.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	// Finalize runs after the call context is typically cancelled.
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			logger.Error("Finalize step failed",
				slog.String("step", name),
				slog.String("error", err.Error()))
			if p.OnStepError != nil {
				p.OnStepError(name, err)
			}
		}
	}()

	return fn(stepCtx)
}

func (p *Pipeline) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/chriscow/livekit-call-agent/pkg/finalize"
)

// DefaultWhatsAppFrom is the Twilio sandbox sender.
const DefaultWhatsAppFrom = "whatsapp:+14155238886"

// messageCreator is the part of the Twilio API used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// WhatsApp sends messages through Twilio. Confirmed bookings are sent to
// the caller; every notification is copied to the business number when one
// is set.
type WhatsApp struct {
	api    messageCreator
	from   string
	notify string
	logger *slog.Logger
}

// NewWhatsApp returns a notifier for the Twilio account. notifyTo may be
// empty.
func NewWhatsApp(accountSID, authToken, from, notifyTo string, logger *slog.Logger) *WhatsApp {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newWhatsApp(client.Api, from, notifyTo, logger)
}

func newWhatsApp(api messageCreator, from, notifyTo string, logger *slog.Logger) *WhatsApp {
	if from == "" {
		from = DefaultWhatsAppFrom
	}
	return &WhatsApp{
		api:    api,
		from:   whatsAppAddress(from),
		notify: notifyTo,
		logger: loggerOrDefault(logger).With(slog.String("notifier", "whatsapp")),
	}
}

func (w *WhatsApp) Notify(ctx context.Context, n finalize.Notification) error {
	var errs []error
	if n.Kind == finalize.BookingConfirmed && n.Phone != "" {
		errs = append(errs, w.Send(ctx, n.Phone, CallerConfirmation(n)))
	}
	if w.notify != "" {
		errs = append(errs, w.Send(ctx, w.notify, Format(n)))
	}
	return errors.Join(errs...)
}

// Send delivers body to a phone number. The Twilio client has no context
// support; ctx is only checked before sending.
func (w *WhatsApp) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(w.from)
	params.SetTo(whatsAppAddress(to))
	params.SetBody(body)

	msg, err := w.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("whatsapp to %s: %w", to, err)
	}
	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	w.logger.Info("WhatsApp message sent", slog.String("to", to), slog.String("sid", sid))
	return nil
}

func whatsAppAddress(phone string) string {
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

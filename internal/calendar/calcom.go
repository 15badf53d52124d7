// Package calendar books appointments through the Cal.com v2 API.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/version"
)

const (
	DefaultBaseURL = "https://api.cal.com/v2"
	apiVersion     = "2024-08-13"
	timeZone       = "Asia/Kolkata"
	placeholderTLD = "voiceagent.placeholder"
)

// ErrNotConfigured is returned when no API key or event type is set.
var ErrNotConfigured = errors.New("calendar: not configured")

// APIError is a non-2xx response from Cal.com.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cal.com: %d %s", e.Status, e.Message)
}

// Config selects the account and event type bookings are made against.
type Config struct {
	APIKey      string
	EventTypeID int
	BaseURL     string
	Timeout     time.Duration // per attempt
	RetryMax    int
}

// Client is a Cal.com API client. Requests that fail with 429 or 5xx are
// retried with backoff.
type Client struct {
	cfg    Config
	http   *retryablehttp.Client
	logger *slog.Logger
}

// New returns a client for cfg.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2
	}

	logger = logger.With(slog.String("component", "calendar"))
	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.RetryMax
	hc.RetryWaitMin = 200 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.Logger = logger
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	hc.CheckRetry = retryPolicy

	return &Client{cfg: cfg, http: hc, logger: logger}
}

type sendOnceKey struct{}

// retryPolicy retries reads only. A create or cancel that reached Cal.com
// may have taken effect even when the response was a 5xx.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if once, _ := ctx.Value(sendOnceKey{}).(bool); once {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// AvailableSlots lists the open slots on date, in IST.
func (c *Client) AvailableSlots(ctx context.Context, date time.Time) ([]call.Slot, error) {
	day := date.In(call.IST).Format(time.DateOnly)
	q := url.Values{}
	q.Set("eventTypeId", strconv.Itoa(c.cfg.EventTypeID))
	q.Set("startTime", day+"T00:00:00+05:30")
	q.Set("endTime", day+"T23:59:59+05:30")

	var resp struct {
		Data struct {
			Slots map[string][]struct {
				Time string `json:"time"`
			} `json:"slots"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/slots?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	raw := resp.Data.Slots[day]
	slots := make([]call.Slot, 0, len(raw))
	for _, s := range raw {
		start, err := time.Parse(time.RFC3339, s.Time)
		if err != nil {
			c.logger.Warn("Skipping malformed slot", slog.String("time", s.Time))
			continue
		}
		start = start.In(call.IST)
		slots = append(slots, call.Slot{Start: start, Label: start.Format("3:04 PM")})
	}
	c.logger.Info("Slots fetched", slog.String("date", day), slog.Int("count", len(slots)))
	return slots, nil
}

type attendee struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	TimeZone    string `json:"timeZone"`
	Language    string `json:"language"`
}

type bookingRequest struct {
	EventTypeID            int               `json:"eventTypeId"`
	Start                  string            `json:"start"`
	Attendee               attendee          `json:"attendee"`
	BookingFieldsResponses map[string]string `json:"bookingFieldsResponses"`
}

// CreateBooking books the intent's slot and returns the booking UID. A
// caller without an email gets a placeholder address derived from the phone.
func (c *Client) CreateBooking(ctx context.Context, intent call.BookingIntent) (string, error) {
	email := intent.Email
	if email == "" {
		email = strings.TrimPrefix(intent.Phone, "+") + "@" + placeholderTLD
	}
	notes := intent.Notes
	if notes == "" {
		notes = "Booked by the phone agent. Phone: " + intent.Phone
	}
	body := bookingRequest{
		EventTypeID: c.cfg.EventTypeID,
		Start:       intent.Start.In(call.IST).Format(time.RFC3339),
		Attendee: attendee{
			Name:        intent.Name,
			Email:       email,
			PhoneNumber: intent.Phone,
			TimeZone:    timeZone,
			Language:    "en",
		},
		BookingFieldsResponses: map[string]string{"notes": notes},
	}

	var resp struct {
		Data struct {
			UID string `json:"uid"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/bookings", body, &resp); err != nil {
		return "", err
	}
	if resp.Data.UID == "" {
		return "", errors.New("cal.com: booking response has no uid")
	}
	c.logger.Info("Booking created", slog.String("uid", resp.Data.UID))
	return resp.Data.UID, nil
}

// CancelBooking cancels the booking with uid.
func (c *Client) CancelBooking(ctx context.Context, uid, reason string) error {
	if uid == "" {
		return errors.New("cal.com: booking uid is required")
	}
	if reason == "" {
		reason = "Cancelled by caller"
	}
	body := map[string]string{"cancellationReason": reason}
	if err := c.do(ctx, http.MethodPost, "/bookings/"+url.PathEscape(uid)+"/cancel", body, nil); err != nil {
		return err
	}
	c.logger.Info("Booking cancelled", slog.String("uid", uid))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.cfg.APIKey == "" || c.cfg.EventTypeID <= 0 {
		return ErrNotConfigured
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}
	if method != http.MethodGet {
		ctx = context.WithValue(ctx, sendOnceKey{}, true)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("cal-api-version", apiVersion)
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cal.com %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("cal.com %s %s: reading response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cal.com %s %s: decoding response: %w", method, path, err)
	}
	return nil
}

// errorMessage extracts the message from a Cal.com error body.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error.Message != "" {
			return body.Error.Message
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}

package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{APIKey: "cal_test", EventTypeID: 77, BaseURL: srv.URL + "/v2/"}, nil)
	c.http.RetryWaitMin = time.Millisecond
	c.http.RetryWaitMax = 5 * time.Millisecond
	return c
}

func TestAvailableSlots(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/slots", r.URL.Path)
		assert.Equal(t, "Bearer cal_test", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("cal-api-version"))
		assert.Equal(t, "77", r.URL.Query().Get("eventTypeId"))
		assert.Equal(t, "2025-01-06T00:00:00+05:30", r.URL.Query().Get("startTime"))
		assert.Equal(t, "2025-01-06T23:59:59+05:30", r.URL.Query().Get("endTime"))
		w.Write([]byte(`{"data":{"slots":{"2025-01-06":[
			{"time":"2025-01-06T10:00:00+05:30"},
			{"time":"garbage"},
			{"time":"2025-01-06T09:30:00Z"}
		]}}}`))
	})

	slots, err := c.AvailableSlots(context.Background(), time.Date(2025, 1, 6, 0, 0, 0, 0, call.IST))
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "10:00 AM", slots[0].Label)
	assert.Equal(t, "3:00 PM", slots[1].Label)
	assert.Equal(t, call.IST, slots[1].Start.Location())
}

func TestAvailableSlots_NoneForDay(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"slots":{}}}`))
	})
	slots, err := c.AvailableSlots(context.Background(), time.Date(2025, 1, 7, 12, 0, 0, 0, call.IST))
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestCreateBooking(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/bookings", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body bookingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 77, body.EventTypeID)
		assert.Equal(t, "2025-01-06T10:00:00+05:30", body.Start)
		assert.Equal(t, "Asha", body.Attendee.Name)
		assert.Equal(t, "919800000001@voiceagent.placeholder", body.Attendee.Email)
		assert.Equal(t, "+919800000001", body.Attendee.PhoneNumber)
		assert.Equal(t, "Asia/Kolkata", body.Attendee.TimeZone)
		assert.Contains(t, body.BookingFieldsResponses["notes"], "+919800000001")

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"success","data":{"uid":"bk_123"}}`))
	})

	uid, err := c.CreateBooking(context.Background(), call.BookingIntent{
		Start: time.Date(2025, 1, 6, 4, 30, 0, 0, time.UTC),
		Name:  "Asha",
		Phone: "+919800000001",
	})
	require.NoError(t, err)
	assert.Equal(t, "bk_123", uid)
}

func TestCreateBooking_UsesEmailAndNotes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body bookingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "asha@example.com", body.Attendee.Email)
		assert.Equal(t, "wants a cleaning", body.BookingFieldsResponses["notes"])
		w.Write([]byte(`{"data":{"uid":"bk_9"}}`))
	})

	_, err := c.CreateBooking(context.Background(), call.BookingIntent{
		Start: time.Now(),
		Name:  "Asha",
		Email: "asha@example.com",
		Notes: "wants a cleaning",
	})
	require.NoError(t, err)
}

func TestCreateBooking_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","error":{"message":"slot no longer available"}}`))
	})

	_, err := c.CreateBooking(context.Background(), call.BookingIntent{Start: time.Now(), Name: "A"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "slot no longer available", apiErr.Message)
}

func TestRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{"slots":{"2025-01-06":[{"time":"2025-01-06T10:00:00+05:30"}]}}}`))
	})

	day := time.Date(2025, 1, 6, 12, 0, 0, 0, call.IST)
	slots, err := c.AvailableSlots(context.Background(), day)
	require.NoError(t, err)
	assert.Len(t, slots, 1)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestBookingWritesAreSentOnce(t *testing.T) {
	var attempts atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.CreateBooking(context.Background(), call.BookingIntent{Start: time.Now(), Name: "A"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, int32(1), attempts.Load())

	attempts.Store(0)
	require.Error(t, c.CancelBooking(context.Background(), "bk_1", "x"))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRetriesExhausted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"message":"maintenance"}`))
	})

	_, err := c.AvailableSlots(context.Background(), time.Now())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "maintenance", apiErr.Message)
}

func TestCancelBooking(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/bookings/bk_1/cancel", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Cancelled by caller", body["cancellationReason"])
		w.Write([]byte(`{"status":"success"}`))
	})

	require.NoError(t, c.CancelBooking(context.Background(), "bk_1", ""))
	assert.Error(t, c.CancelBooking(context.Background(), "", "x"))
}

func TestNotConfigured(t *testing.T) {
	c := New(Config{}, nil)
	_, err := c.AvailableSlots(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.CreateBooking(context.Background(), call.BookingIntent{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chriscow/livekit-call-agent/pkg/finalize"
)

const callLogColumns = `id, room, phone, caller_name, direction, started_at, duration_seconds,
	transcript, summary, recording_url, sentiment, estimated_cost_usd, call_date, call_hour,
	call_day_of_week, was_booked, booking_id, turn_count, interrupt_count`

// SaveCallLog inserts the call log. A log without an ID gets a new one.
func (s *Store) SaveCallLog(ctx context.Context, l finalize.CallLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Sentiment == "" {
		l.Sentiment = finalize.SentimentUnknown
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO call_logs (`+callLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		l.ID, l.Room, l.Phone, l.CallerName, l.Direction, formatTime(l.StartedAt), l.Duration,
		l.Transcript, l.Summary, l.RecordingURL, l.Sentiment, l.EstimatedCostUSD, l.CallDate, l.CallHour,
		l.CallDayOfWeek, l.WasBooked, l.BookingID, l.Turns, l.InterruptCount,
	)
	if err != nil {
		return fmt.Errorf("saving call log %s: %w", l.ID, err)
	}
	return nil
}

// LastCallSummary returns the summary of the most recent call from phone.
func (s *Store) LastCallSummary(ctx context.Context, phone string) (string, time.Time, bool, error) {
	var summary, started string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT summary, started_at FROM call_logs
		WHERE phone = ? ORDER BY started_at DESC LIMIT 1`), phone).Scan(&summary, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("last call for %s: %w", phone, err)
	}
	at, err := parseTime(started)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("last call for %s: %w", phone, err)
	}
	return summary, at, true, nil
}

// ListCallLogs returns up to limit call logs, newest first.
func (s *Store) ListCallLogs(ctx context.Context, limit int) ([]finalize.CallLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+callLogColumns+` FROM call_logs
		ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("listing call logs: %w", err)
	}
	defer rows.Close()

	var logs []finalize.CallLog
	for rows.Next() {
		var (
			l       finalize.CallLog
			started string
		)
		if err := rows.Scan(&l.ID, &l.Room, &l.Phone, &l.CallerName, &l.Direction, &started, &l.Duration,
			&l.Transcript, &l.Summary, &l.RecordingURL, &l.Sentiment, &l.EstimatedCostUSD, &l.CallDate, &l.CallHour,
			&l.CallDayOfWeek, &l.WasBooked, &l.BookingID, &l.Turns, &l.InterruptCount); err != nil {
			return nil, fmt.Errorf("scanning call log: %w", err)
		}
		if l.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("call log %s: %w", l.ID, err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// UpsertActiveCall records the status of a live call.
func (s *Store) UpsertActiveCall(ctx context.Context, room, phone, name, status string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO active_calls (room, phone, caller_name, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (room) DO UPDATE SET
			phone = excluded.phone,
			caller_name = excluded.caller_name,
			status = excluded.status,
			updated_at = excluded.updated_at`),
		room, phone, name, status, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upserting active call %s: %w", room, err)
	}
	return nil
}

// ActiveCall is a row of the live call table.
type ActiveCall struct {
	Room       string
	Phone      string
	CallerName string
	Status     string
	UpdatedAt  time.Time
}

// ListActiveCalls returns calls whose status is not completed.
func (s *Store) ListActiveCalls(ctx context.Context) ([]ActiveCall, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT room, phone, caller_name, status, updated_at
		FROM active_calls WHERE status <> ? ORDER BY updated_at DESC`), finalize.ActiveCallCompleted)
	if err != nil {
		return nil, fmt.Errorf("listing active calls: %w", err)
	}
	defer rows.Close()

	var calls []ActiveCall
	for rows.Next() {
		var (
			c       ActiveCall
			updated string
		)
		if err := rows.Scan(&c.Room, &c.Phone, &c.CallerName, &c.Status, &updated); err != nil {
			return nil, fmt.Errorf("scanning active call: %w", err)
		}
		if c.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// AppendTranscript stores one transcript line of a live call.
func (s *Store) AppendTranscript(ctx context.Context, room, phone, role, text string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO call_transcripts (room, phone, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`), room, phone, role, text, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("appending transcript for %s: %w", room, err)
	}
	return nil
}

// TranscriptLine is one stored line of a call transcript.
type TranscriptLine struct {
	Role      string
	Text      string
	CreatedAt time.Time
}

// Transcript returns the stored lines for room in insertion order.
func (s *Store) Transcript(ctx context.Context, room string) ([]TranscriptLine, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT role, content, created_at
		FROM call_transcripts WHERE room = ? ORDER BY id`), room)
	if err != nil {
		return nil, fmt.Errorf("reading transcript for %s: %w", room, err)
	}
	defer rows.Close()

	var lines []TranscriptLine
	for rows.Next() {
		var (
			line    TranscriptLine
			created string
		)
		if err := rows.Scan(&line.Role, &line.Text, &created); err != nil {
			return nil, err
		}
		if line.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

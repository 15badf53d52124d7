package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// New creates a Job for one dispatched call. Dispatch metadata that cannot
// be parsed is logged and ignored; the caller is then resolved from the room.
func New(parentCtx context.Context, cfg Config) (*Job, error) {
	if cfg.RoomName == "" {
		return nil, fmt.Errorf("room name is required")
	}

	jobID := cfg.ID
	if jobID == "" {
		jobID = "job_" + uuid.NewString()
	}

	ctx, cancelTimeout := parentCtx, context.CancelFunc(func() {})
	if cfg.Timeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(parentCtx, cfg.Timeout)
	}
	jobContext := NewJobContext(ctx)
	cancel := jobContext.cancel
	jobContext.cancel = func() {
		cancel()
		cancelTimeout()
	}

	meta, err := ParseDispatchMetadata(cfg.Metadata)
	if err != nil {
		slog.Warn("Ignoring malformed dispatch metadata",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
	}
	meta.RoomName = cfg.RoomName

	job := &Job{
		ID:       jobID,
		RoomName: cfg.RoomName,
		Meta:     meta,
		Context:  jobContext,
	}

	slog.Info("Created new job",
		slog.String("job_id", jobID),
		slog.String("room_name", cfg.RoomName),
		slog.String("direction", string(meta.Direction)),
		slog.Duration("timeout", cfg.Timeout))

	return job, nil
}

// Shutdown gracefully shuts down the job with the given reason.
func (j *Job) Shutdown(reason string) {
	slog.Info("Shutting down job",
		slog.String("job_id", j.ID),
		slog.String("reason", reason))

	j.Context.Shutdown(reason)
}

func (j *Job) String() string {
	status := "active"
	if j.Context.IsShutdown() {
		status = "shutdown"
	}
	return fmt.Sprintf("Job{ID: %s, Room: %s, Status: %s}", j.ID, j.RoomName, status)
}

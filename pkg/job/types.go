// Package job models one dispatched call: its metadata, its lifecycle
// context and the LiveKit room the agent joins to talk to the caller.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// Job represents a single dispatched call.
type Job struct {
	// ID is the unique identifier for this job
	ID string

	// RoomName is the LiveKit room this job is assigned to
	RoomName string

	// Meta is what the dispatch told us about the call. Fields the
	// dispatch left empty are resolved from the room later.
	Meta call.Meta

	// Context provides lifecycle management and shutdown coordination
	Context *JobContext
}

// JobContext manages the lifecycle and cleanup of a job.
type JobContext struct {
	// Ctx is the context that gets cancelled when the job ends
	Ctx context.Context

	cancel        context.CancelFunc
	mu            sync.Mutex
	shutdownHooks []func(string)
	shutdown      bool
}

// Config contains configuration options for creating a new Job.
type Config struct {
	// ID for the job (if empty, one will be generated)
	ID string

	// RoomName is the LiveKit room to join
	RoomName string

	// Metadata is the raw dispatch metadata, usually JSON set by the
	// outbound dialer.
	Metadata string

	// Timeout for the overall job execution
	Timeout time.Duration
}

const (
	// AssignmentTimeout is how long the worker waits for the server to
	// confirm an accepted job.
	AssignmentTimeout = 7500 * time.Millisecond

	// DefaultJobTimeout bounds a call that never hangs up.
	DefaultJobTimeout = time.Hour
)

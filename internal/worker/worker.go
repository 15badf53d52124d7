// Package worker registers the agent with a LiveKit server and runs the
// calls the server assigns to it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"

	"github.com/chriscow/livekit-call-agent/pkg/job"
	"github.com/chriscow/livekit-call-agent/pkg/version"
)

// Defaults for Config.
const (
	DefaultMaxJobs      = 4
	DefaultPingInterval = 10 * time.Second
	DefaultDrainTimeout = 5 * time.Minute
)

// Assignment is a job the server handed to this worker.
type Assignment struct {
	Job   *livekit.Job
	URL   string // server URL to join the room on
	Token string // room token for the agent participant
}

// JobHandler runs one assigned job until the call ends.
type JobHandler func(ctx context.Context, a Assignment) error

// Config configures a Worker.
type Config struct {
	URL       string
	APIKey    string
	APISecret string
	AgentName string

	MaxJobs      int
	PingInterval time.Duration
	// DrainTimeout is how long running calls may continue after Run's
	// context is cancelled.
	DrainTimeout time.Duration
}

// messenger is the socket the worker talks to the server over.
type messenger interface {
	Connect(ctx context.Context, token string) error
	ReadMessage() (*livekit.ServerMessage, error)
	WriteMessage(msg *livekit.WorkerMessage) error
	Close() error
}

type Worker struct {
	cfg     Config
	handler JobHandler
	ws      messenger
	logger  *slog.Logger
	in      chan *livekit.ServerMessage
	out     chan *livekit.WorkerMessage

	jobsCtx    context.Context
	cancelJobs context.CancelFunc
	jobsWG     sync.WaitGroup

	mu             sync.RWMutex
	connected      bool
	draining       bool
	backoffAttempt int
	workerID       string
	pending        map[string]*time.Timer
	running        map[string]context.CancelFunc
}

func New(cfg Config, handler JobHandler, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = DefaultMaxJobs
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	jobsCtx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:        cfg,
		handler:    handler,
		ws:         NewWebSocketClient(cfg.URL, logger),
		logger:     logger.With(slog.String("agent", cfg.AgentName)),
		in:         make(chan *livekit.ServerMessage, 100),
		out:        make(chan *livekit.WorkerMessage, 100),
		jobsCtx:    jobsCtx,
		cancelJobs: cancel,
		pending:    make(map[string]*time.Timer),
		running:    make(map[string]context.CancelFunc),
	}
}

// Run registers with the server and serves jobs until ctx is cancelled,
// reconnecting with backoff. Running calls are then given DrainTimeout to
// finish.
func (w *Worker) Run(ctx context.Context) error {
	if w.handler == nil {
		return errors.New("worker has no job handler")
	}
	w.logger.Info("Starting worker", slog.String("url", w.cfg.URL), slog.String("version", version.Version))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker shutting down")
			return w.shutdown()
		default:
			if err := w.connectAndRun(ctx); err != nil {
				w.logger.Error("Worker connection failed", slog.String("error", err.Error()))

				if err := w.backoffDelay(ctx); err != nil {
					return w.shutdown()
				}
			}
		}
	}
}

func (w *Worker) token() (string, error) {
	at := auth.NewAccessToken(w.cfg.APIKey, w.cfg.APISecret)
	at.SetVideoGrant(&auth.VideoGrant{Agent: true}).SetValidFor(time.Hour)
	return at.ToJWT()
}

func (w *Worker) connectAndRun(ctx context.Context) error {
	w.logger.Info("Connecting to LiveKit server")

	token, err := w.token()
	if err != nil {
		return fmt.Errorf("create worker token: %w", err)
	}
	if err := w.ws.Connect(ctx, token); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := w.ws.Close(); err != nil {
			w.logger.Error("Error closing WebSocket during cleanup", slog.String("error", err.Error()))
		}
	}()

	if err := w.ws.WriteMessage(w.registerMessage()); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := w.readMessages(connCtx); err != nil {
			errCh <- fmt.Errorf("read messages: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := w.writeMessages(connCtx); err != nil {
			errCh <- fmt.Errorf("write messages: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		w.processMessages(connCtx)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}
	cancel()
	// Unblock the reader.
	w.ws.Close()
	wg.Wait()
	w.setConnected(false)
	return err
}

func (w *Worker) registerMessage() *livekit.WorkerMessage {
	return &livekit.WorkerMessage{Message: &livekit.WorkerMessage_Register{
		Register: &livekit.RegisterWorkerRequest{
			Type:         livekit.JobType_JT_ROOM,
			AgentName:    w.cfg.AgentName,
			Version:      version.Version,
			PingInterval: uint32(w.cfg.PingInterval / time.Second),
		},
	}}
}

func (w *Worker) readMessages(ctx context.Context) error {
	for {
		msg, err := w.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case w.in <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Worker) writeMessages(ctx context.Context) error {
	ping := time.NewTicker(w.cfg.PingInterval)
	defer ping.Stop()

	for {
		var msg *livekit.WorkerMessage
		select {
		case <-ctx.Done():
			return nil
		case msg = <-w.out:
		case now := <-ping.C:
			msg = &livekit.WorkerMessage{Message: &livekit.WorkerMessage_Ping{
				Ping: &livekit.WorkerPing{Timestamp: now.UnixMilli()},
			}}
		}
		if err := w.ws.WriteMessage(msg); err != nil {
			return err
		}
	}
}

func (w *Worker) processMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.in:
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg *livekit.ServerMessage) {
	switch m := msg.Message.(type) {
	case *livekit.ServerMessage_Register:
		w.mu.Lock()
		w.workerID = m.Register.WorkerId
		w.mu.Unlock()
		w.setConnected(true)
		w.logger.Info("Worker registered", slog.String("worker_id", m.Register.WorkerId))

	case *livekit.ServerMessage_Availability:
		w.handleAvailability(ctx, m.Availability)

	case *livekit.ServerMessage_Assignment:
		w.handleAssignment(m.Assignment)

	case *livekit.ServerMessage_Termination:
		w.terminate(m.Termination.JobId)

	case *livekit.ServerMessage_Pong:
		w.logger.Debug("Pong", slog.Int64("rtt_ms", time.Now().UnixMilli()-m.Pong.LastTimestamp))

	default:
		w.logger.Warn("Unknown server message", slog.String("type", fmt.Sprintf("%T", msg.Message)))
	}
}

// handleAvailability accepts a job offer when there is capacity. An
// accepted job holds a slot until its assignment arrives or
// job.AssignmentTimeout passes.
func (w *Worker) handleAvailability(ctx context.Context, req *livekit.AvailabilityRequest) {
	j := req.GetJob()
	if j == nil {
		return
	}

	w.mu.Lock()
	available := !w.draining && len(w.pending)+len(w.running) < w.cfg.MaxJobs
	if available {
		jobID := j.Id
		w.pending[jobID] = time.AfterFunc(job.AssignmentTimeout, func() {
			w.mu.Lock()
			delete(w.pending, jobID)
			w.mu.Unlock()
			w.logger.Warn("Assignment timed out", slog.String("job_id", jobID))
		})
	}
	w.mu.Unlock()

	w.logger.Info("Job offered",
		slog.String("job_id", j.Id),
		slog.String("room", j.GetRoom().GetName()),
		slog.Bool("accepted", available))

	w.send(ctx, &livekit.WorkerMessage{Message: &livekit.WorkerMessage_Availability{
		Availability: &livekit.AvailabilityResponse{
			JobId:               j.Id,
			Available:           available,
			ParticipantIdentity: "agent-" + j.Id,
			ParticipantName:     w.cfg.AgentName,
		},
	}})
}

func (w *Worker) handleAssignment(a *livekit.JobAssignment) {
	j := a.GetJob()
	if j == nil {
		return
	}
	url := a.GetUrl()
	if url == "" {
		url = w.cfg.URL
	}

	ctx, cancel := context.WithCancel(w.jobsCtx)
	w.mu.Lock()
	if t, ok := w.pending[j.Id]; ok {
		t.Stop()
		delete(w.pending, j.Id)
	}
	w.running[j.Id] = cancel
	w.mu.Unlock()

	w.jobsWG.Add(1)
	go func() {
		defer w.jobsWG.Done()
		defer cancel()
		w.runJob(ctx, Assignment{Job: j, URL: url, Token: a.Token})
	}()
}

func (w *Worker) runJob(ctx context.Context, a Assignment) {
	logger := w.logger.With(slog.String("job_id", a.Job.Id), slog.String("room", a.Job.GetRoom().GetName()))
	logger.Info("Job started")
	w.updateJob(a.Job.Id, livekit.JobStatus_JS_RUNNING, "")

	err := w.safeHandle(ctx, a)

	w.mu.Lock()
	delete(w.running, a.Job.Id)
	w.mu.Unlock()

	if err != nil {
		logger.Error("Job failed", slog.String("error", err.Error()))
		w.updateJob(a.Job.Id, livekit.JobStatus_JS_FAILED, err.Error())
		return
	}
	logger.Info("Job finished")
	w.updateJob(a.Job.Id, livekit.JobStatus_JS_SUCCESS, "")
}

func (w *Worker) safeHandle(ctx context.Context, a Assignment) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.handler(ctx, a)
}

func (w *Worker) terminate(jobID string) {
	w.mu.RLock()
	cancel, ok := w.running[jobID]
	w.mu.RUnlock()
	if ok {
		w.logger.Info("Job terminated by server", slog.String("job_id", jobID))
		cancel()
	}
}

func (w *Worker) updateJob(jobID string, status livekit.JobStatus, errText string) {
	w.send(w.jobsCtx, &livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateJob{
		UpdateJob: &livekit.UpdateJobStatus{JobId: jobID, Status: status, Error: errText},
	}})
}

// send queues msg for the writer. Messages are dropped when the queue is
// full.
func (w *Worker) send(ctx context.Context, msg *livekit.WorkerMessage) {
	select {
	case w.out <- msg:
	case <-ctx.Done():
	default:
		w.logger.Warn("Outbound queue full, dropping message", slog.String("type", fmt.Sprintf("%T", msg.Message)))
	}
}

func (w *Worker) backoffDelay(ctx context.Context) error {
	w.mu.Lock()
	w.backoffAttempt++
	attempt := w.backoffAttempt
	w.mu.Unlock()

	// Exponential backoff: 1s, 2s, 4s, 8s, up to 10s max
	delay := time.Duration(math.Min(math.Pow(2, float64(attempt-1)), 10)) * time.Second

	w.logger.Info("Reconnecting with backoff",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) setConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if connected && !w.connected {
		// Reset backoff on successful registration
		w.backoffAttempt = 0
		w.logger.Info("Worker connected successfully")
	}

	w.connected = connected
}

func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Healthy reports an error while the worker is not registered.
func (w *Worker) Healthy() error {
	if !w.IsConnected() {
		return errors.New("worker not registered with LiveKit")
	}
	return nil
}

// ActiveJobs returns the number of running jobs.
func (w *Worker) ActiveJobs() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.running)
}

// shutdown refuses new jobs and waits for running ones, cancelling them
// after DrainTimeout.
func (w *Worker) shutdown() error {
	w.mu.Lock()
	w.draining = true
	active := len(w.running)
	w.mu.Unlock()

	w.logger.Info("Draining jobs", slog.Int("active", active), slog.Duration("timeout", w.cfg.DrainTimeout))

	done := make(chan struct{})
	go func() {
		w.jobsWG.Wait()
		close(done)
	}()

	timer := time.NewTimer(w.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		w.logger.Warn("Drain timeout, cancelling remaining jobs")
		w.cancelJobs()
		<-done
	}
	w.cancelJobs()

	w.logger.Info("Worker shutdown complete")
	return nil
}

// Package metrics exports call agent metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chriscow/livekit-call-agent/pkg/agent"
	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/finalize"
)

const namespace = "callagent"

// Metrics holds the Prometheus collectors and implements agent.Observer.
type Metrics struct {
	registry *prometheus.Registry

	CallsActive         prometheus.Gauge
	CallsTotal          *prometheus.CounterVec
	CallsRejected       *prometheus.CounterVec
	CallDuration        prometheus.Histogram
	CallCostUSD         prometheus.Counter
	CallsFinished       *prometheus.CounterVec
	StateTransitions    *prometheus.CounterVec
	TurnsTotal          prometheus.Counter
	TranscriptsRejected *prometheus.CounterVec
	Interruptions       prometheus.Counter
	ToolDuration        *prometheus.HistogramVec
	FinalizeFailures    *prometheus.CounterVec
}

var _ agent.Observer = (*Metrics)(nil)

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls in progress",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Calls started, by direction",
		}, []string{"direction"}),
		CallsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_rejected_total",
			Help:      "Calls turned away before the conversation started",
		}, []string{"reason"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		}),
		CallCostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_cost_usd_total",
			Help:      "Estimated provider cost of finished calls",
		}),
		CallsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_finished_total",
			Help:      "Finished calls, by end reason and whether a booking was made",
		}, []string{"reason", "booked"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Agent state transitions",
		}, []string{"from", "to"}),
		TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Caller turns accepted",
		}),
		TranscriptsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_rejected_total",
			Help:      "Transcripts dropped by the gate",
		}, []string{"reason"}),
		Interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Agent speech interrupted by the caller",
		}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"tool"}),
		FinalizeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_step_failures_total",
			Help:      "Failed post-call steps",
		}, []string{"step"}),
	}

	m.registry.MustRegister(
		m.CallsActive,
		m.CallsTotal,
		m.CallsRejected,
		m.CallDuration,
		m.CallCostUSD,
		m.CallsFinished,
		m.StateTransitions,
		m.TurnsTotal,
		m.TranscriptsRejected,
		m.Interruptions,
		m.ToolDuration,
		m.FinalizeFailures,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CallStarted(direction call.Direction) {
	m.CallsActive.Inc()
	m.CallsTotal.WithLabelValues(string(direction)).Inc()
}

func (m *Metrics) CallRejected(reason string) {
	m.CallsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) CallFinished(log finalize.CallLog, reason string) {
	m.CallsActive.Dec()
	m.CallDuration.Observe(float64(log.Duration))
	if log.EstimatedCostUSD > 0 {
		m.CallCostUSD.Add(log.EstimatedCostUSD)
	}
	booked := "false"
	if log.BookingID != "" {
		booked = "true"
	}
	m.CallsFinished.WithLabelValues(reason, booked).Inc()
}

func (m *Metrics) StateChanged(from, to agent.State) {
	m.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) TurnAccepted() { m.TurnsTotal.Inc() }

func (m *Metrics) TranscriptRejected(reason string) {
	m.TranscriptsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Interrupted() { m.Interruptions.Inc() }

func (m *Metrics) ToolInvoked(name string, elapsed time.Duration) {
	m.ToolDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (m *Metrics) FinalizeStepFailed(step string) {
	m.FinalizeFailures.WithLabelValues(step).Inc()
}

// Server serves /metrics and a /healthz probe.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer returns a server for m on addr. ready reports health; nil means
// always healthy.
func NewServer(addr string, m *Metrics, ready func() error, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ok"))
	})
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Handler exposes the routes, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Metrics server listening", slog.String("addr", s.srv.Addr))
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

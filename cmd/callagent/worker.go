package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chriscow/livekit-call-agent/internal/config"
	"github.com/chriscow/livekit-call-agent/internal/metrics"
	"github.com/chriscow/livekit-call-agent/internal/worker"
	"github.com/chriscow/livekit-call-agent/pkg/agent"
	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/finalize"
	"github.com/chriscow/livekit-call-agent/pkg/job"
	"github.com/chriscow/livekit-call-agent/pkg/plugin"
	_ "github.com/chriscow/livekit-call-agent/pkg/plugin/fake"   // Import to register fake plugins
	_ "github.com/chriscow/livekit-call-agent/pkg/plugin/gemini" // Import to register Gemini plugin
	_ "github.com/chriscow/livekit-call-agent/pkg/plugin/openai" // Import to register OpenAI plugins
	"github.com/chriscow/livekit-call-agent/pkg/version"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker management commands",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Register with LiveKit and take calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if maxJobs, _ := cmd.Flags().GetInt("max-jobs"); maxJobs > 0 {
			cfg.Worker.MaxJobs = maxJobs
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		logger := setupLogger(cfg.Logging)
		logger.Info("Starting worker",
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("url", cfg.LiveKit.URL),
			slog.String("agent_name", cfg.LiveKit.AgentName),
			slog.Bool("dry_run", dryRun))

		if err := config.RequireWorker(&cfg); err != nil {
			return err
		}
		if dryRun {
			logger.Info("Dry run mode - config is valid, exiting")
			return nil
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runWorker(ctx, cfg, logger)
	},
}

func runWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	svc, err := openServices(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	builder := &plugin.Builder{Options: cfg.ProviderOptions()}
	handler := svc.handler(builder.Build, nil)

	w := worker.New(worker.Config{
		URL:       cfg.LiveKit.URL,
		APIKey:    cfg.LiveKit.APIKey,
		APISecret: cfg.LiveKit.APISecret,
		AgentName: cfg.LiveKit.AgentName,
		MaxJobs:   cfg.Worker.MaxJobs,
	}, func(ctx context.Context, a worker.Assignment) error {
		j, err := job.New(ctx, job.Config{
			ID:       a.Job.GetId(),
			RoomName: a.Job.GetRoom().GetName(),
			Metadata: a.Job.GetMetadata(),
			Timeout:  job.DefaultJobTimeout,
		})
		if err != nil {
			return err
		}

		rc := job.RoomConfig{
			URL:       a.URL,
			Token:     a.Token,
			APIKey:    cfg.LiveKit.APIKey,
			APISecret: cfg.LiveKit.APISecret,
			RoomName:  j.RoomName,
		}
		if j.Meta.Direction == call.Outbound {
			rc.DialNumber = j.Meta.Phone
			rc.SIPTrunkID = cfg.LiveKit.SIPTrunkID
		}
		room, err := job.NewRoom(rc, logger)
		if err != nil {
			j.Shutdown("room setup failed")
			svc.reportFailure(context.WithoutCancel(ctx), j.RoomName, j.Meta.Phone, err)
			return fmt.Errorf("call %s: %w", j.RoomName, err)
		}
		return svc.serveJob(j, room, handler)
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, svc.metrics, w.Healthy, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		logger.Error("Worker failed", slog.String("error", err.Error()))
	}
	return err
}

// serveJob runs one dispatched call on conn. Leaving the room and settling
// the call's live status are job shutdown hooks, so they run however the
// handler returns.
func (s *services) serveJob(j *job.Job, conn agent.Conn, handler *agent.Handler) error {
	logger := s.logger.With(slog.String("job_id", j.ID), slog.String("room", j.RoomName))
	j.Context.OnShutdown(func(string) {
		if err := conn.Close(); err != nil {
			logger.Warn("Room close failed", slog.String("error", err.Error()))
		}
	})
	j.Context.OnShutdown(func(reason string) { s.settleActiveCall(j.RoomName, reason, logger) })
	defer j.Shutdown("call ended")

	logger.Debug("Serving job", slog.String("job", j.String()))
	if err := handler.HandleCall(j.Context.Ctx, conn, j.Meta); err != nil {
		s.reportFailure(context.WithoutCancel(j.Context.Ctx), j.RoomName, j.Meta.Phone, err)
		return fmt.Errorf("call %s: %w", j.RoomName, err)
	}
	return nil
}

// settleActiveCall marks room completed when it is still listed as live,
// which happens when the call never reached finalize.
func (s *services) settleActiveCall(room, reason string, logger *slog.Logger) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), job.ShutdownHookTimeout)
	defer cancel()

	live, err := s.store.ListActiveCalls(ctx)
	if err != nil {
		logger.Warn("Active calls not checked", slog.String("error", err.Error()))
		return
	}
	for _, c := range live {
		if c.Room != room {
			continue
		}
		if err := s.store.UpsertActiveCall(ctx, c.Room, c.Phone, c.CallerName, finalize.ActiveCallCompleted); err != nil {
			logger.Warn("Active call not settled", slog.String("error", err.Error()))
			return
		}
		logger.Info("Settled live call at job shutdown", slog.String("reason", reason))
		return
	}
}

func init() {
	workerRunCmd.Flags().Int("max-jobs", 0, "Concurrent calls this worker accepts (overrides worker.max_jobs)")
	workerRunCmd.Flags().Bool("dry-run", false, "Validate config and exit")

	workerCmd.AddCommand(workerRunCmd)
}

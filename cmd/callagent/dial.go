package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/chriscow/livekit-call-agent/internal/config"
	"github.com/chriscow/livekit-call-agent/pkg/job"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Outbound call commands",
}

var callDialCmd = &cobra.Command{
	Use:   "dial <phone>",
	Short: "Dispatch the agent to call a number",
	Long: `Creates an agent dispatch for a fresh room. A running worker picks up the
job, joins the room and dials the number through the configured SIP trunk.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Logging)
		if err := config.RequireWorker(&cfg); err != nil {
			return err
		}
		if cfg.LiveKit.SIPTrunkID == "" {
			return fmt.Errorf("livekit.sip_trunk_id (SIP_TRUNK_ID) is required to dial out")
		}

		name, _ := cmd.Flags().GetString("name")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		d := job.NewDispatcher(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.AgentName)
		room, err := d.DialOut(ctx, args[0], name)
		if err != nil {
			return fmt.Errorf("dial %s: %w", args[0], err)
		}

		logger.Info("Outbound call dispatched",
			slog.String("phone", args[0]),
			slog.String("room", room))
		fmt.Println(room)
		return nil
	},
}

func init() {
	callDialCmd.Flags().String("name", "", "Name of the person being called")
	callDialCmd.Flags().Duration("timeout", 15*time.Second, "How long to wait for the dispatch")

	callCmd.AddCommand(callDialCmd)
}

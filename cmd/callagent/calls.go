package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chriscow/livekit-call-agent/internal/store"
)

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Inspect stored calls",
}

var callsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent call logs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			logs, err := st.ListCallLogs(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(logs)
			}
			if len(logs) == 0 {
				fmt.Println("No calls recorded")
				return nil
			}

			fmt.Printf("%-20s %-16s %-8s %6s %-10s %-6s %s\n", "STARTED", "PHONE", "DIR", "SECS", "SENTIMENT", "BOOKED", "SUMMARY")
			for _, l := range logs {
				booked := "no"
				if l.WasBooked {
					booked = "yes"
				}
				fmt.Printf("%-20s %-16s %-8s %6d %-10s %-6s %s\n",
					l.StartedAt.Format("2006-01-02 15:04"), l.Phone, l.Direction, l.Duration, l.Sentiment, booked, l.Summary)
			}
			return nil
		})
	},
}

var callsActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "List calls in progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			calls, err := st.ListActiveCalls(ctx)
			if err != nil {
				return err
			}
			if len(calls) == 0 {
				fmt.Println("No active calls")
				return nil
			}
			fmt.Printf("%-44s %-16s %-20s %-10s %s\n", "ROOM", "PHONE", "CALLER", "STATUS", "UPDATED")
			for _, c := range calls {
				fmt.Printf("%-44s %-16s %-20s %-10s %s\n",
					c.Room, c.Phone, c.CallerName, c.Status, c.UpdatedAt.Format("15:04:05"))
			}
			return nil
		})
	},
}

var callsTranscriptCmd = &cobra.Command{
	Use:   "transcript <room>",
	Short: "Print the live transcript of a call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			lines, err := st.Transcript(ctx, args[0])
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Printf("[%s] %s: %s\n", line.CreatedAt.Format("15:04:05"), line.Role, line.Text)
			}
			return nil
		})
	},
}

// withStore opens the configured store for a read-only command.
func withStore(cmd *cobra.Command, fn func(context.Context, *store.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	ctx := cmd.Context()
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	callsListCmd.Flags().Int("limit", 20, "Maximum number of calls to show")
	callsListCmd.Flags().Bool("json", false, "Print call logs as JSON")

	callsCmd.AddCommand(callsListCmd, callsActiveCmd, callsTranscriptCmd)
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chriscow/livekit-call-agent/internal/config"
	"github.com/chriscow/livekit-call-agent/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "callagent",
	Short: "Telephony voice agent for appointment booking",
	Long: `callagent answers and places phone calls through LiveKit SIP, talks to the
caller with streaming STT, LLM and TTS providers, books appointments on
Cal.com and reports every call once it ends.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

// loadConfig reads the .env file, the YAML file and the environment, in
// that order of precedence from lowest to highest, and validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.IssuesError(config.Validate(&cfg)); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{}
	switch strings.ToLower(cfg.Level) {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn", "warning":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "console" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler).With(slog.String("service", "callagent"))
	slog.SetDefault(logger)
	return logger
}

func init() {
	rootCmd.PersistentFlags().String("config", "callagent.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to a .env file loaded before the config")

	rootCmd.AddCommand(versionCmd, workerCmd, callCmd, simulateCmd, callsCmd, bookingsCmd, pluginCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid. Settings only
// needed by the worker (LiveKit credentials) are checked by RequireWorker.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if _, ok := LookupPreset(cfg.Agent.LangPreset); !ok {
		add("agent.lang_preset", "must be one of %v, got %q", PresetNames(), cfg.Agent.LangPreset)
	}
	if err := cfg.Agent.CallConfig().Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			add("agent", "%s", line)
		}
	}
	if cfg.Agent.MinInterruptionWords < 0 {
		add("agent.min_interruption_words", "must not be negative, got %d", cfg.Agent.MinInterruptionWords)
	}

	validDrivers := []string{"sqlite", "postgres"}
	if !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}
	if cfg.Store.DSN == "" {
		add("store.dsn", "is required")
	}

	if cfg.Worker.MaxJobs < 0 {
		add("worker.max_jobs", "must not be negative, got %d", cfg.Worker.MaxJobs)
	}
	if cfg.RateLimit.MaxCalls < 0 {
		add("rate_limit.max_calls", "must not be negative, got %d", cfg.RateLimit.MaxCalls)
	}
	if cfg.RateLimit.MaxCalls > 0 && cfg.RateLimit.Window <= 0 {
		add("rate_limit.window", "must be positive when max_calls is set")
	}

	if cfg.Calendar.APIKey != "" && cfg.Calendar.EventTypeID <= 0 {
		add("calendar.event_type_id", "required when calendar.api_key is set")
	}
	if (cfg.Notify.Telegram.BotToken == "") != (cfg.Notify.Telegram.ChatID == "") {
		add("notify.telegram", "bot_token and chat_id must be set together")
	}
	if wa := cfg.Notify.WhatsApp; wa.AccountSID != "" && (wa.AuthToken == "" || wa.From == "" || wa.To == "") {
		add("notify.whatsapp", "auth_token, from and to are required with account_sid")
	}
	if rec := cfg.Recording; rec.Enabled && (rec.Bucket == "" || rec.PublicBaseURL == "") {
		add("recording", "bucket and public_base_url are required when enabled")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validFormats := []string{"json", "console"}
	if !slices.Contains(validFormats, cfg.Logging.Format) {
		add("logging.format", "must be one of %v, got %q", validFormats, cfg.Logging.Format)
	}

	return issues
}

// RequireWorker reports missing settings needed to join LiveKit rooms.
func RequireWorker(cfg *Config) error {
	var errs []error
	if cfg.LiveKit.URL == "" {
		errs = append(errs, errors.New("livekit.url (LIVEKIT_URL) is required"))
	}
	if cfg.LiveKit.APIKey == "" || cfg.LiveKit.APISecret == "" {
		errs = append(errs, errors.New("livekit.api_key and livekit.api_secret are required"))
	}
	return errors.Join(errs...)
}

// IssuesError joins validation issues into one error, or nil.
func IssuesError(issues []ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}
	lines := make([]string, len(issues))
	for i, issue := range issues {
		lines[i] = issue.String()
	}
	return &ConfigError{Message: "invalid config:\n  " + strings.Join(lines, "\n  ")}
}

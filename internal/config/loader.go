package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields resolves ${VAR} references in credential fields so
// secrets can stay out of the YAML file.
func expandSensitiveFields(cfg *Config) {
	for _, s := range []*string{
		&cfg.LiveKit.URL,
		&cfg.LiveKit.APIKey,
		&cfg.LiveKit.APISecret,
		&cfg.Providers.OpenAI.APIKey,
		&cfg.Providers.Gemini.APIKey,
		&cfg.Calendar.APIKey,
		&cfg.Store.DSN,
		&cfg.Notify.Telegram.BotToken,
		&cfg.Notify.WhatsApp.AccountSID,
		&cfg.Notify.WhatsApp.AuthToken,
		&cfg.Notify.WebhookURL,
		&cfg.Recording.AccessKey,
		&cfg.Recording.SecretKey,
	} {
		*s = expandEnvVars(*s)
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment. Variables
// that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &ConfigError{Message: "failed to load " + path + ": " + err.Error()}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// ConfigError reports a config file that could not be read.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// applyEnvOverrides reads the deployment environment variables and
// overrides config values.
func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"LIVEKIT_URL":             &cfg.LiveKit.URL,
		"LIVEKIT_API_KEY":         &cfg.LiveKit.APIKey,
		"LIVEKIT_API_SECRET":      &cfg.LiveKit.APISecret,
		"LIVEKIT_AGENT_NAME":      &cfg.LiveKit.AgentName,
		"SIP_TRUNK_ID":            &cfg.LiveKit.SIPTrunkID,
		"OPENAI_API_KEY":          &cfg.Providers.OpenAI.APIKey,
		"GEMINI_API_KEY":          &cfg.Providers.Gemini.APIKey,
		"LLM_PROVIDER":            &cfg.Agent.LLMProvider,
		"LLM_MODEL":               &cfg.Agent.LLMModel,
		"STT_PROVIDER":            &cfg.Agent.STTProvider,
		"TTS_PROVIDER":            &cfg.Agent.TTSProvider,
		"TTS_VOICE":               &cfg.Agent.Voice,
		"LANG_PRESET":             &cfg.Agent.LangPreset,
		"FIRST_LINE":              &cfg.Agent.FirstLine,
		"AGENT_INSTRUCTIONS":      &cfg.Agent.SystemPrompt,
		"DEFAULT_TRANSFER_NUMBER": &cfg.Agent.TransferNumber,
		"SIP_DOMAIN":              &cfg.Agent.SIPDomain,
		"CAL_API_KEY":             &cfg.Calendar.APIKey,
		"DATABASE_URL":            &cfg.Store.DSN,
		"TELEGRAM_BOT_TOKEN":      &cfg.Notify.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":        &cfg.Notify.Telegram.ChatID,
		"TWILIO_ACCOUNT_SID":      &cfg.Notify.WhatsApp.AccountSID,
		"TWILIO_AUTH_TOKEN":       &cfg.Notify.WhatsApp.AuthToken,
		"TWILIO_WHATSAPP_NUMBER":  &cfg.Notify.WhatsApp.From,
		"WHATSAPP_NOTIFY_NUMBER":  &cfg.Notify.WhatsApp.To,
		"N8N_WEBHOOK_URL":         &cfg.Notify.WebhookURL,
		"S3_ACCESS_KEY":           &cfg.Recording.AccessKey,
		"S3_SECRET_KEY":           &cfg.Recording.SecretKey,
		"CALLAGENT_METRICS_ADDR":  &cfg.Metrics.Addr,
	}
	for name, field := range strs {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}

	if v := os.Getenv("DATABASE_URL"); strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
		cfg.Store.Driver = "postgres"
	}
	if v := os.Getenv("CAL_EVENT_TYPE_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Calendar.EventTypeID = id
		}
	}
	if v := os.Getenv("MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxTurns = n
		}
	}
	if v := os.Getenv("STT_MIN_ENDPOINTING_DELAY"); v != "" {
		if d, err := parseSeconds(v); err == nil {
			cfg.Agent.EndpointingDelay = d
		}
	}
	if v := os.Getenv("CALLAGENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CALLAGENT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
}

// parseSeconds accepts a Go duration ("50ms") or plain seconds ("0.05").
func parseSeconds(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// Package config loads the call agent's settings from YAML, .env files and
// the environment, and resolves per-call settings for a caller's number.
package config

import (
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/ratelimit"
)

// Config is the process-wide configuration.
type Config struct {
	LiveKit   LiveKitConfig   `yaml:"livekit"`
	Worker    WorkerConfig    `yaml:"worker"`
	Agent     AgentConfig     `yaml:"agent"`
	Providers ProvidersConfig `yaml:"providers"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Store     StoreConfig     `yaml:"store"`
	Notify    NotifyConfig    `yaml:"notify"`
	Recording RecordingConfig `yaml:"recording"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`

	// ClientsDir holds per-number overrides named {phone}.yaml.
	ClientsDir string `yaml:"clients_dir"`
}

type LiveKitConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	AgentName  string `yaml:"agent_name"`
	SIPTrunkID string `yaml:"sip_trunk_id"`
}

type WorkerConfig struct {
	MaxJobs int `yaml:"max_jobs"` // 0 uses the worker default
}

// AgentConfig is the YAML form of call.Config. Per-number override files use
// the same keys.
type AgentConfig struct {
	Name         string `yaml:"name"`
	FirstLine    string `yaml:"first_line"`
	SystemPrompt string `yaml:"system_prompt"`
	LangPreset   string `yaml:"lang_preset"`

	Voice       string `yaml:"voice"`
	Language    string `yaml:"language"`
	STTProvider string `yaml:"stt_provider"`
	LLMProvider string `yaml:"llm_provider"`
	TTSProvider string `yaml:"tts_provider"`
	LLMModel    string `yaml:"llm_model"`

	EndpointingDelay     time.Duration `yaml:"endpointing_delay"`
	MaxTurns             int           `yaml:"max_turns"`
	Fillers              []string      `yaml:"fillers"`
	AllowInterruptions   bool          `yaml:"allow_interruptions"`
	MinInterruptionWords int           `yaml:"min_interruption_words"`
	HangupAfterWrapUp    bool          `yaml:"hangup_after_wrap_up"`

	TransferNumber string `yaml:"transfer_number"`
	SIPDomain      string `yaml:"sip_domain"`

	StartTimeout time.Duration `yaml:"start_timeout"`
	ToolTimeout  time.Duration `yaml:"tool_timeout"`
}

// ProvidersConfig holds credentials shared by every call's providers.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

type CalendarConfig struct {
	APIKey      string `yaml:"api_key"`
	EventTypeID int    `yaml:"event_type_id"`
	BaseURL     string `yaml:"base_url"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

type NotifyConfig struct {
	Telegram   TelegramConfig `yaml:"telegram"`
	WhatsApp   WhatsAppConfig `yaml:"whatsapp"`
	WebhookURL string         `yaml:"webhook_url"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type WhatsAppConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	To         string `yaml:"to"`
}

type RecordingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type RateLimitConfig struct {
	MaxCalls int           `yaml:"max_calls"`
	Window   time.Duration `yaml:"window"`
	Exempt   []string      `yaml:"exempt"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the metrics server
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Defaults returns the configuration used before any file or environment
// variable is applied.
func Defaults() Config {
	d := call.DefaultConfig()
	rl := ratelimit.DefaultConfig()
	return Config{
		LiveKit: LiveKitConfig{AgentName: "call-agent"},
		Agent: AgentConfig{
			Name:                 d.AgentName,
			FirstLine:            d.FirstLine,
			LangPreset:           DefaultPreset,
			Voice:                d.Voice,
			STTProvider:          d.STTProvider,
			LLMProvider:          d.LLMProvider,
			TTSProvider:          d.TTSProvider,
			LLMModel:             "gpt-4o-mini",
			EndpointingDelay:     d.EndpointingDelay,
			MaxTurns:             d.MaxTurns,
			AllowInterruptions:   d.AllowInterruptions,
			MinInterruptionWords: d.MinInterruptionWords,
			StartTimeout:         d.StartTimeout,
			ToolTimeout:          d.ToolTimeout,
		},
		Calendar: CalendarConfig{BaseURL: "https://api.cal.com/v2"},
		Store:    StoreConfig{Driver: "sqlite", DSN: "callagent.db"},
		RateLimit: RateLimitConfig{
			MaxCalls: rl.MaxCalls,
			Window:   rl.Window,
			Exempt:   rl.Exempt,
		},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
		ClientsDir: "configs",
	}
}

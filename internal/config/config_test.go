package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"LIVEKIT_URL", "LIVEKIT_API_KEY", "LIVEKIT_API_SECRET", "LIVEKIT_AGENT_NAME", "SIP_TRUNK_ID",
		"OPENAI_API_KEY", "GEMINI_API_KEY", "LLM_PROVIDER", "LLM_MODEL", "STT_PROVIDER",
		"TTS_PROVIDER", "TTS_VOICE", "LANG_PRESET", "FIRST_LINE", "AGENT_INSTRUCTIONS",
		"DEFAULT_TRANSFER_NUMBER", "SIP_DOMAIN", "CAL_API_KEY", "CAL_EVENT_TYPE_ID", "DATABASE_URL",
		"MAX_TURNS", "STT_MIN_ENDPOINTING_DELAY", "CALLAGENT_LOG_LEVEL", "CALLAGENT_LOG_FORMAT", "TEST_CAL_KEY",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "openai", cfg.Agent.LLMProvider)
	assert.Equal(t, 25, cfg.Agent.MaxTurns)
	assert.Equal(t, 50*time.Millisecond, cfg.Agent.EndpointingDelay)
	assert.True(t, cfg.Agent.AllowInterruptions)
	assert.False(t, cfg.Agent.HangupAfterWrapUp)
	assert.Equal(t, DefaultPreset, cfg.Agent.LangPreset)
	assert.Equal(t, 5, cfg.RateLimit.MaxCalls)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Empty(t, Validate(&cfg))
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LIVEKIT_URL", "wss://example.livekit.cloud")

	cfg, err := Load("/nonexistent/path/callagent.yaml")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.livekit.cloud", cfg.LiveKit.URL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_CAL_KEY", "cal_live_123")
	t.Setenv("MAX_TURNS", "12")

	path := filepath.Join(t.TempDir(), "callagent.yaml")
	yaml := `
livekit:
  url: wss://rooms.example.com
agent:
  name: Aryan
  lang_preset: hindi
  endpointing_delay: 200ms
  max_turns: 30
  allow_interruptions: false
  transfer_number: "+919800000000"
calendar:
  api_key: ${TEST_CAL_KEY}
  event_type_id: 42
store:
  driver: postgres
  dsn: postgres://localhost/calls
rate_limit:
  max_calls: 3
  window: 30m
logging:
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://rooms.example.com", cfg.LiveKit.URL)
	assert.Equal(t, "Aryan", cfg.Agent.Name)
	assert.Equal(t, 200*time.Millisecond, cfg.Agent.EndpointingDelay)
	assert.Equal(t, 12, cfg.Agent.MaxTurns, "environment wins over the file")
	assert.False(t, cfg.Agent.AllowInterruptions)
	assert.Equal(t, "openai", cfg.Agent.STTProvider, "unset keys keep defaults")
	assert.Equal(t, "cal_live_123", cfg.Calendar.APIKey)
	assert.Equal(t, 42, cfg.Calendar.EventTypeID)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 30*time.Minute, cfg.RateLimit.Window)
	assert.Empty(t, Validate(&cfg))

	call := cfg.Agent.CallConfig()
	assert.Equal(t, "hi", call.Language)
	assert.Contains(t, call.LanguageDirective, "pure Hindi")
	assert.Equal(t, "+919800000000", call.TransferNumber)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent: [unclosed"), 0o600))

	_, err := Load(path)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CALLAGENT_TEST_SECRET", "s3cret")
	assert.Equal(t, "s3cret", expandEnvVars("${CALLAGENT_TEST_SECRET}"))
	assert.Equal(t, "key-s3cret-x", expandEnvVars("key-${CALLAGENT_TEST_SECRET}-x"))
	assert.Equal(t, "${CALLAGENT_TEST_UNSET}", expandEnvVars("${CALLAGENT_TEST_UNSET}"))
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://db/calls")
	t.Setenv("STT_MIN_ENDPOINTING_DELAY", "0.3")
	t.Setenv("CALLAGENT_LOG_LEVEL", "DEBUG")
	t.Setenv("CAL_EVENT_TYPE_ID", "not-a-number")

	cfg := Defaults()
	applyEnvOverrides(&cfg)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://db/calls", cfg.Store.DSN)
	assert.Equal(t, 300*time.Millisecond, cfg.Agent.EndpointingDelay)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Zero(t, cfg.Calendar.EventTypeID)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LIVEKIT_API_KEY", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LIVEKIT_API_KEY=from-file\nLIVEKIT_API_SECRET=secret\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LIVEKIT_API_SECRET") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("LIVEKIT_API_KEY"))
	assert.Equal(t, "secret", os.Getenv("LIVEKIT_API_SECRET"))

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"unknown preset", func(c *Config) { c.Agent.LangPreset = "klingon" }, "agent.lang_preset"},
		{"no llm", func(c *Config) { c.Agent.LLMProvider = "" }, "agent"},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"negative max jobs", func(c *Config) { c.Worker.MaxJobs = -1 }, "worker.max_jobs"},
		{"calendar without event type", func(c *Config) { c.Calendar.APIKey = "k" }, "calendar.event_type_id"},
		{"telegram half set", func(c *Config) { c.Notify.Telegram.BotToken = "t" }, "notify.telegram"},
		{"recording without bucket", func(c *Config) { c.Recording.Enabled = true }, "recording"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			issues := Validate(&cfg)
			require.NotEmpty(t, issues)
			assert.Equal(t, tt.path, issues[0].Path)
			assert.Error(t, IssuesError(issues))
		})
	}
}

func TestRequireWorker(t *testing.T) {
	cfg := Defaults()
	assert.Error(t, RequireWorker(&cfg))
	cfg.LiveKit = LiveKitConfig{URL: "wss://x", APIKey: "k", APISecret: "s"}
	assert.NoError(t, RequireWorker(&cfg))
}

func TestResolver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "+919800000001.yaml"), []byte(`
first_line: "Namaste! Sunrise Dental here."
lang_preset: tamil
max_turns: 10
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "+919800000002.yaml"), []byte("max_turns: [1"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "+919800000003.yaml"), []byte("llm_provider: \"\""), 0o600))

	base := Defaults()
	base.ClientsDir = dir
	r := NewResolver(base, nil)

	got := r.Resolve("+91 98000 00001")
	assert.Equal(t, "Namaste! Sunrise Dental here.", got.FirstLine)
	assert.Equal(t, 10, got.MaxTurns)
	assert.Equal(t, "ta", got.Language)
	assert.Equal(t, "openai", got.LLMProvider)

	same := r.Resolve("919800000001")
	assert.Equal(t, got.FirstLine, same.FirstLine)

	fallback := base.Agent.CallConfig()
	assert.Equal(t, fallback.MaxTurns, r.Resolve("+919800000002").MaxTurns, "broken file")
	assert.Equal(t, "openai", r.Resolve("+919800000003").LLMProvider, "invalid override")
	assert.Equal(t, fallback.FirstLine, r.Resolve("+919899999999").FirstLine, "no file")
	assert.Equal(t, fallback.FirstLine, r.Resolve("../etc/passwd").FirstLine, "not a number")
	assert.Equal(t, fallback.FirstLine, r.Resolve("unknown").FirstLine)
}

func TestProviderOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Providers.OpenAI.APIKey = "sk-1"
	opts := cfg.ProviderOptions()
	assert.Equal(t, "sk-1", opts["openai"]["api_key"])
	assert.NotContains(t, opts["openai"], "base_url")
}

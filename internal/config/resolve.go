package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// CallConfig converts the YAML settings into per-call settings, applying
// the language preset.
func (a AgentConfig) CallConfig() call.Config {
	preset, _ := LookupPreset(a.LangPreset)
	language := a.Language
	if language == "" {
		language = preset.Language
	}
	return call.Config{
		AgentName:            a.Name,
		FirstLine:            a.FirstLine,
		SystemPrompt:         a.SystemPrompt,
		LanguageDirective:    preset.Instruction,
		Voice:                a.Voice,
		Language:             language,
		STTProvider:          a.STTProvider,
		LLMProvider:          a.LLMProvider,
		TTSProvider:          a.TTSProvider,
		LLMModel:             a.LLMModel,
		EndpointingDelay:     a.EndpointingDelay,
		MaxTurns:             a.MaxTurns,
		Fillers:              a.Fillers,
		AllowInterruptions:   a.AllowInterruptions,
		MinInterruptionWords: a.MinInterruptionWords,
		HangupAfterWrapUp:    a.HangupAfterWrapUp,
		TransferNumber:       a.TransferNumber,
		SIPDomain:            a.SIPDomain,
		StartTimeout:         a.StartTimeout,
		ToolTimeout:          a.ToolTimeout,
	}
}

// Resolver picks the settings for a call. A file {ClientsDir}/{phone}.yaml
// overrides the base agent settings key by key.
type Resolver struct {
	Base       AgentConfig
	ClientsDir string
	Logger     *slog.Logger
}

// NewResolver returns a resolver over cfg's agent settings.
func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{Base: cfg.Agent, ClientsDir: cfg.ClientsDir, Logger: logger}
}

// Resolve returns the call settings for phone. A broken override file is
// logged and the base settings are used.
func (r *Resolver) Resolve(phone string) call.Config {
	agent := r.Base
	agent.Fillers = append([]string(nil), r.Base.Fillers...)

	path := r.overridePath(phone)
	if path == "" {
		return agent.CallConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.Logger.Warn("Failed to read per-number config", slog.String("path", path), slog.String("error", err.Error()))
		}
		return agent.CallConfig()
	}

	override := agent
	if err := yaml.Unmarshal(data, &override); err != nil {
		r.Logger.Warn("Ignoring invalid per-number config", slog.String("path", path), slog.String("error", err.Error()))
		return agent.CallConfig()
	}
	cfg := override.CallConfig()
	if err := cfg.Validate(); err != nil {
		r.Logger.Warn("Ignoring per-number config that fails validation", slog.String("path", path), slog.String("error", err.Error()))
		return agent.CallConfig()
	}
	r.Logger.Info("Loaded per-number config", slog.String("phone", phone))
	return cfg
}

// overridePath maps a number to its override file. Numbers are normalized
// to E.164 with a leading "+"; anything else has no override.
func (r *Resolver) overridePath(phone string) string {
	if r.ClientsDir == "" {
		return ""
	}
	clean := strings.ReplaceAll(strings.TrimSpace(phone), " ", "")
	clean = strings.TrimPrefix(clean, "+")
	if clean == "" || strings.Trim(clean, "0123456789") != "" {
		return ""
	}
	return filepath.Join(r.ClientsDir, "+"+clean+".yaml")
}

// ProviderOptions returns the shared plugin options keyed by plugin name.
func (c Config) ProviderOptions() map[string]map[string]any {
	opts := map[string]map[string]any{
		"openai": {"api_key": c.Providers.OpenAI.APIKey},
		"gemini": {"api_key": c.Providers.Gemini.APIKey},
	}
	if c.Providers.OpenAI.BaseURL != "" {
		opts["openai"]["base_url"] = c.Providers.OpenAI.BaseURL
	}
	return opts
}

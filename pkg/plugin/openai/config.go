// Package openai provides OpenAI-based providers: chat completions with tool
// calls, Whisper transcription and PCM speech synthesis.
package openai

import (
	"errors"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/livekit-call-agent/pkg/ai"
)

// Config holds the settings shared by the OpenAI providers.
type Config struct {
	APIKey   string
	BaseURL  string // empty means api.openai.com
	Model    string
	Language string // empty means auto-detect
	Voice    string
}

// configFrom reads plugin options. The API key falls back to OPENAI_API_KEY.
func configFrom(cfg map[string]any, defaultModel string) (Config, error) {
	c := Config{
		APIKey:   stringOpt(cfg, "api_key"),
		BaseURL:  stringOpt(cfg, "base_url"),
		Model:    stringOpt(cfg, "model"),
		Language: stringOpt(cfg, "language"),
		Voice:    stringOpt(cfg, "voice"),
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.APIKey == "" {
		return Config{}, fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY environment variable or provide api_key in config)")
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	return c, nil
}

func stringOpt(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func durationOpt(cfg map[string]any, key string, def time.Duration) (time.Duration, error) {
	switch v := cfg[key].(type) {
	case nil:
		return def, nil
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("%s: unexpected type %T", key, v)
	}
}

func newClient(c Config) *openai.Client {
	cc := openai.DefaultConfig(c.APIKey)
	if c.BaseURL != "" {
		cc.BaseURL = c.BaseURL
	}
	return openai.NewClientWithConfig(cc)
}

// classify maps OpenAI errors onto ai.ErrRecoverable and ai.ErrFatal.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ai.ClassifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ai.ClassifyStatus(reqErr.HTTPStatusCode, err)
	}
	return err
}

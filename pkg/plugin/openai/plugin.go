package openai

import (
	"github.com/chriscow/livekit-call-agent/pkg/plugin"
)

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "openai",
		Factory:     newOpenAISTT,
		Description: "OpenAI Whisper speech-to-text with local endpointing",
		Version:     "1.1.0",
		Config: map[string]any{
			"api_key":           "OpenAI API key (or set OPENAI_API_KEY env var)",
			"base_url":          "API base URL override",
			"model":             "whisper-1",
			"language":          "auto-detect (leave empty) or specify language code",
			"silence_gap":       "silence that ends an utterance, e.g. 600ms",
			"silence_threshold": "RMS below which audio counts as silence",
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "openai",
		Factory:     newOpenAILLM,
		Description: "OpenAI chat completions with tool calls",
		Version:     "1.1.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key (or set OPENAI_API_KEY env var)",
			"base_url": "API base URL override",
			"model":    DefaultChatModel,
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "openai",
		Factory:     newOpenAITTS,
		Description: "OpenAI text-to-speech, 24kHz PCM",
		Version:     "1.1.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key (or set OPENAI_API_KEY env var)",
			"base_url": "API base URL override",
			"model":    "tts-1",
			"voice":    "alloy",
		},
	})
}

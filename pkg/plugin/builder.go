package plugin

import (
	"context"
	"errors"
	"maps"

	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-call-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-call-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// Builder creates the providers for one call from its configuration.
type Builder struct {
	// Registry defaults to the global registry.
	Registry *Registry
	// Options holds settings shared by every call, keyed by plugin name
	// (for example {"openai": {"api_key": "..."}}).
	Options map[string]map[string]any
}

// Build creates the STT, LLM and TTS providers named by cfg. Call settings
// (model, voice, language) take precedence over the shared options.
func (b *Builder) Build(ctx context.Context, cfg call.Config) (stt.STT, llm.LLM, tts.TTS, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}
	r := b.Registry
	if r == nil {
		r = globalRegistry
	}

	s, errSTT := create[stt.STT](r, KindSTT, cfg.STTProvider, b.options(cfg.STTProvider, map[string]any{
		"language": cfg.Language,
	}))
	l, errLLM := create[llm.LLM](r, KindLLM, cfg.LLMProvider, b.options(cfg.LLMProvider, map[string]any{
		"model": cfg.LLMModel,
	}))
	t, errTTS := create[tts.TTS](r, KindTTS, cfg.TTSProvider, b.options(cfg.TTSProvider, map[string]any{
		"voice":    cfg.Voice,
		"language": cfg.Language,
	}))
	if err := errors.Join(errSTT, errLLM, errTTS); err != nil {
		return nil, nil, nil, err
	}
	return s, l, t, nil
}

func (b *Builder) options(name string, perCall map[string]any) map[string]any {
	out := make(map[string]any, len(b.Options[name])+len(perCall))
	maps.Copy(out, b.Options[name])
	for k, v := range perCall {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}

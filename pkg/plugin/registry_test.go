package plugin

import (
	"context"
	"errors"
	"testing"

	llmfake "github.com/chriscow/livekit-call-agent/pkg/ai/llm/fake"
	sttfake "github.com/chriscow/livekit-call-agent/pkg/ai/stt/fake"
	ttsfake "github.com/chriscow/livekit-call-agent/pkg/ai/tts/fake"
	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// recorder remembers the configuration each factory was called with.
type recorder struct {
	configs map[string]map[string]any
}

func (rec *recorder) factory(kind string, instance any) Factory {
	return func(cfg map[string]any) (any, error) {
		if rec.configs == nil {
			rec.configs = make(map[string]map[string]any)
		}
		rec.configs[kind] = cfg
		return instance, nil
	}
}

func newMockSTT(cfg map[string]any) (any, error) {
	return sttfake.NewFakeSTT(), nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(KindSTT, "mock", newMockSTT)

	if factory, ok := r.Get(KindSTT, "mock"); !ok {
		t.Error("Expected plugin to be registered")
	} else if factory == nil {
		t.Error("Expected factory to not be nil")
	}
}

func TestRegistry_RegisterPanics(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		plugin  string
		factory Factory
	}{
		{"empty kind", "", "mock", newMockSTT},
		{"unknown kind", "vad", "mock", newMockSTT},
		{"empty name", KindSTT, "", newMockSTT},
		{"nil factory", KindSTT, "mock", nil},
		{"duplicate", KindSTT, "dup", newMockSTT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Register(KindSTT, "dup", newMockSTT)

			defer func() {
				if recover() == nil {
					t.Errorf("Expected panic for %s", tt.name)
				}
			}()
			r.Register(tt.kind, tt.plugin, tt.factory)
		})
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.Register(KindSTT, "mock", newMockSTT)

	if _, ok := r.Get(KindSTT, "nonexistent"); ok {
		t.Error("Expected to not find non-existent plugin")
	}
	if _, ok := r.Get(KindTTS, "mock"); ok {
		t.Error("Expected to not find plugin under another kind")
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	r.RegisterWithMetadata(&Plugin{Kind: KindSTT, Name: "openai", Factory: newMockSTT, Version: "1.0.0"})
	r.RegisterWithMetadata(&Plugin{Kind: KindSTT, Name: "fake", Factory: newMockSTT, Version: "1.0.0"})
	r.RegisterWithMetadata(&Plugin{Kind: KindLLM, Name: "gemini", Factory: newMockSTT, Version: "1.0.0"})

	all := r.List("")
	expectedOrder := []struct{ kind, name string }{
		{KindLLM, "gemini"},
		{KindSTT, "fake"},
		{KindSTT, "openai"},
	}
	if len(all) != len(expectedOrder) {
		t.Fatalf("Expected %d plugins, got %d", len(expectedOrder), len(all))
	}
	for i, expected := range expectedOrder {
		if all[i].Kind != expected.kind || all[i].Name != expected.name {
			t.Errorf("Expected plugin %d to be %s/%s, got %s/%s",
				i, expected.kind, expected.name, all[i].Kind, all[i].Name)
		}
	}

	if got := len(r.List(KindSTT)); got != 2 {
		t.Errorf("Expected 2 STT plugins, got %d", got)
	}
	if got := len(r.List(KindTTS)); got != 0 {
		t.Errorf("Expected 0 TTS plugins, got %d", got)
	}
}

func TestBuilder_Build(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry()
	r.Register(KindSTT, "mock", rec.factory(KindSTT, sttfake.NewFakeSTT()))
	r.Register(KindLLM, "mock", rec.factory(KindLLM, llmfake.NewFakeLLM()))
	r.Register(KindTTS, "mock", rec.factory(KindTTS, ttsfake.NewFakeTTS()))

	b := &Builder{
		Registry: r,
		Options: map[string]map[string]any{
			"mock": {"api_key": "sk-test", "model": "shared-model", "voice": "alloy"},
		},
	}
	cfg := call.DefaultConfig()
	cfg.STTProvider, cfg.LLMProvider, cfg.TTSProvider = "mock", "mock", "mock"
	cfg.LLMModel = "gpt-4o-mini"
	cfg.Voice = "nova"
	cfg.Language = ""

	s, l, tt, err := b.Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s == nil || l == nil || tt == nil {
		t.Fatal("Expected all three providers")
	}

	if got := rec.configs[KindLLM]["model"]; got != "gpt-4o-mini" {
		t.Errorf("Expected call model to win, got %v", got)
	}
	if got := rec.configs[KindTTS]["voice"]; got != "nova" {
		t.Errorf("Expected call voice to win, got %v", got)
	}
	if got := rec.configs[KindSTT]["api_key"]; got != "sk-test" {
		t.Errorf("Expected shared api key, got %v", got)
	}
	if _, ok := rec.configs[KindSTT]["language"]; ok {
		t.Error("Empty language should not be passed to the factory")
	}
}

func TestBuilder_BuildErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(KindSTT, "mock", newMockSTT)
	r.Register(KindLLM, "wrong", newMockSTT) // returns an STT, not an LLM
	r.Register(KindTTS, "broken", func(map[string]any) (any, error) {
		return nil, errors.New("missing api key")
	})

	cfg := call.DefaultConfig()
	cfg.STTProvider, cfg.LLMProvider, cfg.TTSProvider = "mock", "wrong", "broken"
	_, _, _, err := (&Builder{Registry: r}).Build(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error")
	}

	cfg.LLMProvider = "absent"
	_, _, _, err = (&Builder{Registry: r}).Build(context.Background(), cfg)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, _, err := (&Builder{Registry: r}).Build(ctx, cfg); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestGlobalRegistry(t *testing.T) {
	saved := globalRegistry
	globalRegistry = NewRegistry()
	defer func() { globalRegistry = saved }()

	Register(KindSTT, "global-test", newMockSTT)

	if _, ok := Get(KindSTT, "global-test"); !ok {
		t.Error("Expected to find globally registered plugin")
	}
	if plugins := List(KindSTT); len(plugins) != 1 {
		t.Errorf("Expected 1 global plugin, got %d", len(plugins))
	}
	if Default() != globalRegistry {
		t.Error("Default should return the global registry")
	}
}

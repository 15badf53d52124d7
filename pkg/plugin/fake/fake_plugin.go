// Package fake registers the scripted test providers as plugins so a call can
// run end to end without network access, for example from the simulate
// command.
package fake

import (
	"fmt"
	"time"

	llmfake "github.com/chriscow/livekit-call-agent/pkg/ai/llm/fake"
	sttfake "github.com/chriscow/livekit-call-agent/pkg/ai/stt/fake"
	ttsfake "github.com/chriscow/livekit-call-agent/pkg/ai/tts/fake"
	"github.com/chriscow/livekit-call-agent/pkg/plugin"
)

// Name is the plugin name the fake providers are registered under.
const Name = "fake"

// newFakeSTT returns the STT passed as "instance", letting a caller drive
// transcripts, or a fresh one.
func newFakeSTT(cfg map[string]any) (any, error) {
	if s, ok := cfg["instance"].(*sttfake.FakeSTT); ok {
		return s, nil
	}
	return sttfake.NewFakeSTT(), nil
}

func newFakeTTS(cfg map[string]any) (any, error) {
	if t, ok := cfg["instance"].(*ttsfake.FakeTTS); ok {
		return t, nil
	}
	t := ttsfake.NewFakeTTS()
	switch d := cfg["frame_delay"].(type) {
	case nil:
	case time.Duration:
		t.FrameDelay = d
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return nil, fmt.Errorf("frame_delay: %w", err)
		}
		t.FrameDelay = parsed
	default:
		return nil, fmt.Errorf("frame_delay: unexpected type %T", d)
	}
	return t, nil
}

func newFakeLLM(cfg map[string]any) (any, error) {
	if l, ok := cfg["instance"].(*llmfake.FakeLLM); ok {
		return l, nil
	}
	var responses []string
	switch r := cfg["responses"].(type) {
	case []string:
		responses = r
	case []any:
		for _, v := range r {
			responses = append(responses, fmt.Sprint(v))
		}
	}
	return llmfake.NewFakeLLMFromText(responses...), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        Name,
		Factory:     newFakeSTT,
		Description: "Scripted STT driven by the caller of the plugin",
		Version:     "1.0.0",
		Config: map[string]any{
			"instance": "*sttfake.FakeSTT to reuse",
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        Name,
		Factory:     newFakeTTS,
		Description: "Silent TTS that paces frames like real speech",
		Version:     "1.0.0",
		Config: map[string]any{
			"frame_delay": "delay between 10ms frames, e.g. 10ms",
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        Name,
		Factory:     newFakeLLM,
		Description: "LLM that replays canned responses, then echoes the caller",
		Version:     "1.0.0",
		Config: map[string]any{
			"responses": []string{"List of predefined responses"},
		},
	})
}

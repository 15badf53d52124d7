package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/chriscow/livekit-call-agent/pkg/ai"
	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-call-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// maxReplyTokens keeps spoken replies short.
const maxReplyTokens = 120

// sentenceEnds close a spoken sentence. । is the Devanagari danda.
const sentenceEnds = "।.!?"

var errToolRounds = errors.New("tool round limit reached")

type replyResult struct {
	text        string
	closing     bool
	endCall     bool
	interrupted bool
	fatal       bool
	err         error
}

// reply generates one agent turn and plays it. It runs on its own
// goroutine; the run loop learns the outcome from the returned result.
func (a *Agent) reply(ctx context.Context, instruction string, closing bool) replyResult {
	res := replyResult{closing: closing}

	text, endCall, err := a.generate(ctx, instruction)
	res.endCall = endCall
	if err != nil {
		if ctx.Err() != nil {
			res.interrupted = true
			return res
		}
		res.err = err
		if ai.IsFatal(err) {
			res.fatal = true
			return res
		}
		text = apologyReply
	}
	if text == "" {
		return res
	}

	res.text = text
	res.interrupted = a.speak(ctx, text)
	return res
}

// generate runs the model, resolving tool calls until it answers with
// text or the round limit is hit. instruction, when set, is appended as a
// trailing system message for this reply only.
func (a *Agent) generate(ctx context.Context, instruction string) (string, bool, error) {
	endCall := false
	defs := a.cfg.Tools.Definitions()

	for round := 0; round < maxToolRounds; round++ {
		msgs := a.History()
		if instruction != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: instruction})
		}
		req := llm.ChatRequest{Messages: msgs, MaxTokens: maxReplyTokens, Functions: defs}

		resp, err := ai.Retry(ctx, ai.DefaultRetryConfig, func(ctx context.Context) (llm.ChatResponse, error) {
			return a.cfg.LLM.Chat(ctx, req)
		})
		if err != nil {
			return "", endCall, fmt.Errorf("LLM chat failed: %w", err)
		}

		calls := resp.ToolCalls
		if len(calls) == 0 {
			calls = resp.Message.ToolCalls
		}
		if len(calls) == 0 {
			text := firstSentence(resp.Message.Content)
			if text != strings.TrimSpace(resp.Message.Content) {
				a.logger.Debug("Reply cut to first sentence", slog.String("reply", resp.Message.Content))
			}
			if text != "" {
				a.appendHistory(llm.Message{Role: llm.RoleAssistant, Content: text})
				a.record(llm.RoleAssistant, text)
			}
			return text, endCall, nil
		}

		a.appendHistory(llm.Message{Role: llm.RoleAssistant, Content: resp.Message.Content, ToolCalls: calls})
		for _, tc := range calls {
			start := time.Now()
			out := a.cfg.Tools.Invoke(ctx, tc.Name, tc.Arguments)
			a.observer.ToolInvoked(tc.Name, time.Since(start))
			a.logger.Info("Tool result",
				slog.String("tool", tc.Name),
				slog.String("result", out))
			if tc.Name == "end_call" {
				endCall = true
			}
			a.appendHistory(llm.Message{Role: llm.RoleTool, Name: tc.Name, Content: out, ToolCallID: tc.ID})
		}
		if ctx.Err() != nil {
			return "", endCall, ctx.Err()
		}
	}
	return "", endCall, errToolRounds
}

// speak synthesizes text and streams it to the caller, bracketing playback
// with speech events. It reports whether playback was cut short.
func (a *Agent) speak(ctx context.Context, text string) bool {
	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames, err := a.cfg.TTS.Synthesize(playCtx, tts.SynthesizeRequest{
		Text:     text,
		Voice:    a.cfg.Call.Voice,
		Language: a.cfg.Call.Language,
	})
	if err != nil {
		a.logger.Error("TTS synthesis failed", slog.String("error", err.Error()))
		return ctx.Err() != nil
	}

	a.post(call.Speech(call.AgentSpeechStarted, time.Now()))
	for frame := range frames {
		if err := a.cfg.Transport.WriteFrame(playCtx, frame); err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("Audio write failed", slog.String("error", err.Error()))
			}
			break
		}
	}

	interrupted := ctx.Err() != nil
	if interrupted {
		a.post(call.Speech(call.AgentSpeechInterrupted, time.Now()))
	}
	a.post(call.Speech(call.AgentSpeechFinished, time.Now()))
	return interrupted
}

// firstSentence returns text up to and including the first sentence mark
// that is followed by whitespace. Only that part is spoken and remembered.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if !strings.ContainsRune(sentenceEnds, r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		if next, size := utf8.DecodeRuneInString(text[end:]); size > 0 && unicode.IsSpace(next) {
			return text[:end]
		}
	}
	return text
}

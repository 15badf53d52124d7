// Package tools holds the functions the language model may call during a
// call, and the table that exposes them to the model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
)

// Handler runs one tool. Errors are reported to the model as text.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool binds a name, a description and a JSON schema to a handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry is built once per session.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. timeout bounds each invocation;
// zero disables the bound.
func NewRegistry(timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]Tool), timeout: timeout, logger: logger}
}

// Register adds a tool. Panics on a duplicate name or a missing handler,
// mirroring plugin registration.
func (r *Registry) Register(t Tool) {
	if t.Name == "" || t.Handler == nil {
		panic("tool name and handler are required")
	}
	if t.Parameters == nil {
		t.Parameters = Object(nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		panic(fmt.Sprintf("tool %s already registered", t.Name))
	}
	r.tools[t.Name] = t
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions describes every tool to the model, sorted by name.
func (r *Registry) Definitions() []llm.FunctionDefinition {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.FunctionDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, llm.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Invoke runs the named tool and always returns text for the model.
func (r *Registry) Invoke(ctx context.Context, name, args string) (result string) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("Unknown tool requested", slog.String("tool", name))
		return fmt.Sprintf("Tool %q is not available.", name)
	}

	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		r.logger.Warn("Malformed tool arguments", slog.String("tool", name), slog.String("args", args))
		return "The arguments for " + name + " were malformed. Please try again."
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Tool panicked", slog.String("tool", name), slog.Any("panic", rec))
			result = "Something went wrong while running " + name + "."
		}
	}()

	start := time.Now()
	out, err := t.Handler(ctx, json.RawMessage(args))
	if err != nil {
		r.logger.Error("Tool failed",
			slog.String("tool", name),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return "Something went wrong while running " + name + "."
	}
	r.logger.Info("Tool invoked",
		slog.String("tool", name),
		slog.Duration("elapsed", time.Since(start)))
	return out
}

// Object builds a JSON schema object from properties; required lists the
// mandatory keys.
func Object(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// String is a string property schema.
func String(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

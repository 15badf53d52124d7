package job

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// NewJobContext creates a JobContext derived from parent. The context is
// cancelled when Shutdown is called.
func NewJobContext(parent context.Context) *JobContext {
	ctx, cancel := context.WithCancel(parent)
	return &JobContext{Ctx: ctx, cancel: cancel}
}

// ShutdownHookTimeout bounds how long Shutdown waits for its hooks.
const ShutdownHookTimeout = 5 * time.Second

// Shutdown runs every registered hook exactly once, then cancels the
// context. Later calls are no-ops.
func (jc *JobContext) Shutdown(reason string) {
	jc.mu.Lock()
	if jc.shutdown {
		jc.mu.Unlock()
		return
	}
	jc.shutdown = true
	hooks := jc.shutdownHooks
	jc.shutdownHooks = nil
	jc.mu.Unlock()

	slog.Info("Job shutdown initiated", slog.String("reason", reason))

	var wg sync.WaitGroup
	for _, hook := range hooks {
		wg.Add(1)
		go func(h func(string)) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Shutdown hook panicked", slog.Any("panic", r))
				}
			}()
			h(reason)
		}(hook)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("All shutdown hooks completed")
	case <-time.After(ShutdownHookTimeout):
		slog.Warn("Shutdown hooks timed out", slog.Duration("timeout", ShutdownHookTimeout))
	}

	jc.cancel()
}

// OnShutdown registers a callback run by Shutdown. If the job already shut
// down the callback runs immediately on its own goroutine.
func (jc *JobContext) OnShutdown(callback func(reason string)) {
	jc.mu.Lock()
	defer jc.mu.Unlock()

	if jc.shutdown {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Shutdown callback panicked", slog.Any("panic", r))
				}
			}()
			callback("job already shut down")
		}()
		return
	}
	jc.shutdownHooks = append(jc.shutdownHooks, callback)
}

// IsShutdown reports whether the job context is done.
func (jc *JobContext) IsShutdown() bool {
	select {
	case <-jc.Ctx.Done():
		return true
	default:
		return false
	}
}

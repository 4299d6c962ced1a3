// Package handlers provides the verb catalogue: one engine handler per
// action verb, wired over the platform client, storage, state, voice,
// timers, and the event router.
package handlers

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/specbot/internal/builders"
	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/platform"
	"github.com/haasonsaas/specbot/internal/state"
	"github.com/haasonsaas/specbot/internal/storage"
	"github.com/haasonsaas/specbot/internal/timers"
	"github.com/haasonsaas/specbot/internal/voice"
)

// SearchFunc resolves a free-text query to playable tracks.
type SearchFunc func(ctx context.Context, query string) ([]voice.QueueItem, error)

// Deps carries the collaborators the verb handlers close over. Nil
// fields disable their verb group; the corresponding handlers then fail
// with a descriptive error instead of panicking.
type Deps struct {
	Client   platform.Client
	Store    storage.Adapter
	State    *state.Manager
	Voice    *voice.Manager
	Builders *builders.Registry
	Timers   *timers.Manager
	Emitter  timers.Emitter
	Search   SearchFunc
	Logger   *slog.Logger
}

// RegisterAll installs the full verb catalogue on the executor.
func RegisterAll(exec *engine.Executor, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "handlers")

	registerMessaging(exec, deps)
	registerModeration(exec, deps)
	registerVoice(exec, deps)
	registerState(exec, deps)
	registerControl(exec, deps)
}

package handlers

import (
	"context"
	"fmt"

	"github.com/haasonsaas/specbot/internal/engine"
)

func registerControl(exec *engine.Executor, deps Deps) {
	exec.Register("log", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		message := stringParam(params, "message", "content", "text")
		switch stringParam(params, "level") {
		case "debug":
			deps.Logger.Debug(message)
		case "warn", "warning":
			deps.Logger.Warn(message)
		case "error":
			deps.Logger.Error(message)
		default:
			deps.Logger.Info(message)
		}
		return nil, nil
	})

	exec.Register("emit", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if deps.Emitter == nil {
			return nil, fmt.Errorf("no event emitter is configured")
		}
		event, err := requireString(params, "emit", "event")
		if err != nil {
			return nil, err
		}
		child := ac
		if data := mapParam(params, "data"); data != nil {
			child = ac.Child(data)
		}
		deps.Emitter.Emit(ctx, event, child)
		return nil, nil
	})

	exec.Register("timer_create", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if deps.Timers == nil {
			return nil, fmt.Errorf("timers are not configured")
		}
		event, err := requireString(params, "timer_create", "event")
		if err != nil {
			return nil, err
		}
		delay, ok := durationParam(params, "duration")
		if !ok {
			delay, ok = durationParam(params, "in")
		}
		if !ok {
			return nil, fmt.Errorf("timer_create wants a \"duration\" parameter")
		}
		id := deps.Timers.Create(ctx, stringParam(params, "id"), event, mapParam(params, "data"), delay)
		if as := stringParam(params, "as"); as != "" {
			ac.Data[as] = id
		}
		return id, nil
	})

	exec.Register("timer_cancel", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if deps.Timers == nil {
			return nil, fmt.Errorf("timers are not configured")
		}
		id, err := requireString(params, "timer_cancel", "id")
		if err != nil {
			return nil, err
		}
		return deps.Timers.Cancel(id), nil
	})
}

package handlers

import (
	"context"
	"time"

	"github.com/haasonsaas/specbot/internal/engine"
)

func registerModeration(exec *engine.Executor, deps Deps) {
	exec.Register("kick", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		user, err := userID(ac, params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Client.Kick(ctx, guild, user, stringParam(params, "reason"))
	})

	exec.Register("ban", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		user, err := userID(ac, params)
		if err != nil {
			return nil, err
		}
		days := intParam(params, "delete_days", 0)
		return nil, deps.Client.Ban(ctx, guild, user, stringParam(params, "reason"), days)
	})

	exec.Register("unban", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		user, err := userID(ac, params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Client.Unban(ctx, guild, user)
	})

	// timeout with no duration lifts an existing timeout.
	exec.Register("timeout", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		user, err := userID(ac, params)
		if err != nil {
			return nil, err
		}
		var until *time.Time
		if d, ok := durationParam(params, "duration"); ok && d > 0 {
			t := time.Now().Add(d)
			until = &t
		}
		return nil, deps.Client.Timeout(ctx, guild, user, until)
	})

	exec.Register("add_role", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		user, err := userID(ac, params)
		if err != nil {
			return nil, err
		}
		role, err := requireString(params, "add_role", "role", "role_id")
		if err != nil {
			return nil, err
		}
		return nil, deps.Client.AddRole(ctx, guild, user, role)
	})

	exec.Register("remove_role", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		user, err := userID(ac, params)
		if err != nil {
			return nil, err
		}
		role, err := requireString(params, "remove_role", "role", "role_id")
		if err != nil {
			return nil, err
		}
		return nil, deps.Client.RemoveRole(ctx, guild, user, role)
	})
}

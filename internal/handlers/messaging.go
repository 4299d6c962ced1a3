package handlers

import (
	"context"
	"fmt"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/platform"
)

// buildOutgoing assembles the wire payload from action parameters:
// content plus optional embed(s) and component rows.
func buildOutgoing(deps Deps, ac *engine.Context, params map[string]any) (*platform.Outgoing, error) {
	out := &platform.Outgoing{
		Content:   stringParam(params, "content", "text", "message"),
		Ephemeral: boolParam(params, "ephemeral"),
		TTS:       boolParam(params, "tts"),
	}
	if deps.Builders != nil {
		if def, ok := params["embed"].(map[string]any); ok {
			out.Embeds = append(out.Embeds, deps.Builders.BuildEmbed(def, ac.Data))
		}
		if defs := listParam(params, "embeds"); defs != nil {
			out.Embeds = append(out.Embeds, deps.Builders.BuildEmbeds(defs, ac.Data)...)
		}
		if entries := listParam(params, "components"); entries != nil {
			rows, err := deps.Builders.BuildRows(entries, ac.Data)
			if err != nil {
				return nil, err
			}
			out.Components = rows
		}
	}
	if out.Content == "" && len(out.Embeds) == 0 && len(out.Components) == 0 {
		return nil, fmt.Errorf("message has no content, embeds, or components")
	}
	return out, nil
}

func registerMessaging(exec *engine.Executor, deps Deps) {
	exec.Register("reply", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		out, err := buildOutgoing(deps, ac, params)
		if err != nil {
			return nil, err
		}
		if ac.Responder != nil {
			if ac.Responder.Replied() {
				return nil, ac.Responder.Followup(ctx, out)
			}
			return nil, ac.Responder.Reply(ctx, out)
		}
		channel, err := channelID(ac, params)
		if err != nil {
			return nil, err
		}
		return deps.Client.SendMessage(ctx, channel, out)
	})

	exec.Register("send_message", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		out, err := buildOutgoing(deps, ac, params)
		if err != nil {
			return nil, err
		}
		channel, err := channelID(ac, params)
		if err != nil {
			return nil, err
		}
		id, err := deps.Client.SendMessage(ctx, channel, out)
		if err != nil {
			return nil, err
		}
		if as := stringParam(params, "as"); as != "" {
			ac.Data[as] = id
		}
		return id, nil
	})

	exec.Register("send_dm", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		out, err := buildOutgoing(deps, ac, params)
		if err != nil {
			return nil, err
		}
		user, err := userID(ac, params)
		if err != nil {
			return nil, err
		}
		return deps.Client.SendDM(ctx, user, out)
	})

	exec.Register("edit_message", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		out, err := buildOutgoing(deps, ac, params)
		if err != nil {
			return nil, err
		}
		channel, err := channelID(ac, params)
		if err != nil {
			return nil, err
		}
		message, err := requireString(params, "edit_message", "message", "message_id")
		if err != nil {
			return nil, err
		}
		return nil, deps.Client.EditMessage(ctx, channel, message, out)
	})

	exec.Register("delete_message", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		channel, err := channelID(ac, params)
		if err != nil {
			return nil, err
		}
		message := stringParam(params, "message", "message_id")
		if message == "" {
			if m, ok := ac.Data["message"].(map[string]any); ok {
				message, _ = m["id"].(string)
			}
		}
		if message == "" {
			return nil, fmt.Errorf("delete_message wants a \"message\" parameter")
		}
		return nil, deps.Client.DeleteMessage(ctx, channel, message)
	})

	exec.Register("bulk_delete", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		channel, err := channelID(ac, params)
		if err != nil {
			return nil, err
		}
		ids := stringList(params, "messages")
		if len(ids) == 0 {
			return nil, fmt.Errorf("bulk_delete wants a \"messages\" list")
		}
		return float64(len(ids)), deps.Client.BulkDelete(ctx, channel, ids)
	})

	exec.Register("defer", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if ac.Responder == nil {
			return nil, fmt.Errorf("defer outside an interaction")
		}
		return nil, ac.Responder.Defer(ctx, boolParam(params, "ephemeral"))
	})

	exec.Register("create_thread", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		channel, err := channelID(ac, params)
		if err != nil {
			return nil, err
		}
		name, err := requireString(params, "create_thread", "name")
		if err != nil {
			return nil, err
		}
		message := stringParam(params, "message", "message_id")
		archive := intParam(params, "archive_minutes", 1440)
		id, err := deps.Client.CreateThread(ctx, channel, message, name, archive)
		if err != nil {
			return nil, err
		}
		if as := stringParam(params, "as"); as != "" {
			ac.Data[as] = id
		}
		return id, nil
	})
}

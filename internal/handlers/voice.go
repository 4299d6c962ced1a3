package handlers

import (
	"context"
	"fmt"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/state"
	"github.com/haasonsaas/specbot/internal/voice"
)

func queueItemMap(item voice.QueueItem) map[string]any {
	return map[string]any{
		"url":       item.URL,
		"title":     item.Title,
		"duration":  float64(item.Duration.Milliseconds()),
		"thumbnail": item.Thumbnail,
		"requester": item.RequesterID,
	}
}

func registerVoice(exec *engine.Executor, deps Deps) {
	requireVoice := func() error {
		if deps.Voice == nil {
			return fmt.Errorf("voice is not configured")
		}
		return nil
	}

	exec.Register("voice_join", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if err := requireVoice(); err != nil {
			return nil, err
		}
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		channel, err := requireString(params, "voice_join", "channel", "channel_id")
		if err != nil {
			return nil, err
		}
		return nil, deps.Voice.Join(ctx, guild, channel, boolParam(params, "self_deaf"), boolParam(params, "self_mute"))
	})

	exec.Register("voice_leave", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if err := requireVoice(); err != nil {
			return nil, err
		}
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Voice.Leave(guild)
	})

	exec.Register("voice_play", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if err := requireVoice(); err != nil {
			return nil, err
		}
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		source, err := requireString(params, "voice_play", "source", "url")
		if err != nil {
			return nil, err
		}
		opts := voice.PlayOptions{}
		if v, ok := floatParam(params, "volume"); ok {
			opts.Volume = v
		}
		if d, ok := durationParam(params, "seek"); ok {
			opts.Seek = d
		}
		return nil, deps.Voice.Play(ctx, guild, source, opts)
	})

	// voice_search resolves a query through the configured provider and
	// binds the results under "as" (default "tracks").
	exec.Register("voice_search", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if deps.Search == nil {
			return nil, fmt.Errorf("no search provider is configured")
		}
		query, err := requireString(params, "voice_search", "query")
		if err != nil {
			return nil, err
		}
		items, err := deps.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		results := make([]any, 0, len(items))
		for _, item := range items {
			results = append(results, queueItemMap(item))
		}
		as := stringParam(params, "as")
		if as == "" {
			as = "tracks"
		}
		ac.Data[as] = results
		return results, nil
	})

	// Verbs that are a single guild-keyed call share one wrapper.
	guildVerb := func(verb string, fn func(m *voice.Manager, guildID string) error) {
		exec.Register(verb, func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
			if err := requireVoice(); err != nil {
				return nil, err
			}
			guild, err := guildID(ac, params)
			if err != nil {
				return nil, err
			}
			return nil, fn(deps.Voice, guild)
		})
	}
	guildVerb("voice_pause", (*voice.Manager).Pause)
	guildVerb("voice_resume", (*voice.Manager).Resume)
	guildVerb("voice_skip", (*voice.Manager).Skip)
	guildVerb("voice_stop", (*voice.Manager).Stop)
	guildVerb("queue_clear", (*voice.Manager).ClearQueue)
	guildVerb("queue_shuffle", (*voice.Manager).ShuffleQueue)

	exec.Register("voice_seek", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if err := requireVoice(); err != nil {
			return nil, err
		}
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		d, ok := durationParam(params, "position")
		if !ok {
			return nil, fmt.Errorf("voice_seek wants a \"position\" parameter")
		}
		return nil, deps.Voice.Seek(guild, d)
	})

	exec.Register("voice_filter", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if err := requireVoice(); err != nil {
			return nil, err
		}
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		name, err := requireString(params, "voice_filter", "filter", "name")
		if err != nil {
			return nil, err
		}
		enabled := true
		if v, ok := params["enabled"].(bool); ok {
			enabled = v
		}
		return nil, deps.Voice.SetFilter(guild, name, enabled)
	})

	exec.Register("voice_volume", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if err := requireVoice(); err != nil {
			return nil, err
		}
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		level, ok := floatParam(params, "level")
		if !ok {
			level, ok = floatParam(params, "volume")
		}
		if !ok {
			return nil, fmt.Errorf("voice_volume wants a \"level\" parameter")
		}
		if err := deps.Voice.SetVolume(guild, level); err != nil {
			return nil, err
		}
		applied, err := deps.Voice.Volume(guild)
		if err != nil {
			return nil, err
		}
		return applied, nil
	})

	exec.Register("voice_loop", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if err := requireVoice(); err != nil {
			return nil, err
		}
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		mode := stringParam(params, "mode")
		if mode == "" {
			mode = voice.LoopOff
		}
		return nil, deps.Voice.SetLoop(guild, mode)
	})

	exec.Register("queue_add", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		if err := requireVoice(); err != nil {
			return nil, err
		}
		guild, err := guildID(ac, params)
		if err != nil {
			return nil, err
		}
		source, err := requireString(params, "queue_add", "source", "url")
		if err != nil {
			return nil, err
		}
		item := voice.QueueItem{
			URL:         source,
			Title:       stringParam(params, "title"),
			Thumbnail:   stringParam(params, "thumbnail"),
			RequesterID: ac.Scope()[state.ScopeUserID],
		}
		if d, ok := durationParam(params, "duration"); ok {
			item.Duration = d
		}
		if err := deps.Voice.AddToQueue(guild, item, params["position"]); err != nil {
			return nil, err
		}
		queue, err := deps.Voice.Queue(guild)
		if err != nil {
			return nil, err
		}
		return float64(len(queue)), nil
	})
}

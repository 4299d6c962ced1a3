package handlers

import (
	"fmt"
	"time"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/state"
)

func stringParam(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := params[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func requireString(params map[string]any, verb string, keys ...string) (string, error) {
	if s := stringParam(params, keys...); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("%s wants a %q parameter", verb, keys[0])
}

func boolParam(params map[string]any, key string) bool {
	b, _ := params[key].(bool)
	return b
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func intParam(params map[string]any, key string, def int) int {
	if n, ok := floatParam(params, key); ok {
		return int(n)
	}
	return def
}

// durationParam reads a window or delay. Numbers are milliseconds,
// strings use Go duration syntax.
func durationParam(params map[string]any, key string) (time.Duration, bool) {
	switch v := params[key].(type) {
	case float64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d, true
		}
	}
	return 0, false
}

func mapParam(params map[string]any, key string) map[string]any {
	m, _ := params[key].(map[string]any)
	return m
}

func listParam(params map[string]any, key string) []any {
	l, _ := params[key].([]any)
	return l
}

func stringList(params map[string]any, key string) []string {
	var out []string
	switch v := params[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = append(out, v)
	}
	return out
}

// channelID resolves the target channel: explicit parameter first, then
// the triggering event's channel.
func channelID(ac *engine.Context, params map[string]any) (string, error) {
	if s := stringParam(params, "channel", "channel_id"); s != "" {
		return s, nil
	}
	if s := ac.Scope()[state.ScopeChannelID]; s != "" {
		return s, nil
	}
	return "", fmt.Errorf("no channel in parameters or context")
}

func guildID(ac *engine.Context, params map[string]any) (string, error) {
	if s := stringParam(params, "guild", "guild_id"); s != "" {
		return s, nil
	}
	if s := ac.Scope()[state.ScopeGuildID]; s != "" {
		return s, nil
	}
	return "", fmt.Errorf("no guild in parameters or context")
}

// userID resolves the target user: a string parameter, a user object
// parameter with an id, then the triggering user.
func userID(ac *engine.Context, params map[string]any) (string, error) {
	switch v := params["user"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case map[string]any:
		if s, ok := v["id"].(string); ok && s != "" {
			return s, nil
		}
	}
	if s := stringParam(params, "user_id"); s != "" {
		return s, nil
	}
	if s := ac.Scope()[state.ScopeUserID]; s != "" {
		return s, nil
	}
	return "", fmt.Errorf("no user in parameters or context")
}

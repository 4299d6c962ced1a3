package engine

import (
	"github.com/haasonsaas/specbot/internal/platform"
	"github.com/haasonsaas/specbot/internal/state"
)

// Context carries the expression-facing data for one action invocation
// plus the interaction responder when the trigger was an interaction.
// Data is owned by its frame; Child forks a copy so mutations such as
// db_query's "as" binding stay frame-local.
type Context struct {
	Data      map[string]any
	Responder platform.Responder
}

// NewContext creates a Context over the given data map.
func NewContext(data map[string]any) *Context {
	if data == nil {
		data = make(map[string]any)
	}
	return &Context{Data: data}
}

// Child forks the context, overlaying extra entries.
func (c *Context) Child(extra map[string]any) *Context {
	data := make(map[string]any, len(c.Data)+len(extra))
	for k, v := range c.Data {
		data[k] = v
	}
	for k, v := range extra {
		data[k] = v
	}
	return &Context{Data: data, Responder: c.Responder}
}

// Scope derives the state-variable scope IDs from the context data. It
// accepts both flat keys (guild_id) and nested event shapes (guild.id,
// user.id, author.id).
func (c *Context) Scope() map[string]string {
	scope := make(map[string]string, 3)
	if id := c.lookupID("guild_id", "guild"); id != "" {
		scope[state.ScopeGuildID] = id
	}
	if id := c.lookupID("channel_id", "channel"); id != "" {
		scope[state.ScopeChannelID] = id
	}
	id := c.lookupID("user_id", "user")
	if id == "" {
		id = c.lookupID("", "author")
	}
	if id != "" {
		scope[state.ScopeUserID] = id
	}
	return scope
}

func (c *Context) lookupID(flat, nested string) string {
	if flat != "" {
		if s, ok := c.Data[flat].(string); ok && s != "" {
			return s
		}
	}
	if nested != "" {
		if m, ok := c.Data[nested].(map[string]any); ok {
			if s, ok := m["id"].(string); ok {
				return s
			}
		}
	}
	return ""
}

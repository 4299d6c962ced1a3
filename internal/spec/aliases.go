package spec

import "strings"

// eventAliases maps accepted event-name spellings to their canonical form.
// Both spellings are valid in a spec; the router only ever sees canonical
// names.
var eventAliases = map[string]string{
	"message":         "message_create",
	"member_join":     "guild_member_add",
	"member_leave":    "guild_member_remove",
	"member_update":   "guild_member_update",
	"reaction_add":    "message_reaction_add",
	"reaction_remove": "message_reaction_remove",
	"voice_update":    "voice_state_update",
	"interaction":     "interaction_create",
	"presence":        "presence_update",
}

// CanonicalEvent returns the canonical name for an event, folding aliases
// and case.
func CanonicalEvent(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := eventAliases[name]; ok {
		return canonical
	}
	return name
}

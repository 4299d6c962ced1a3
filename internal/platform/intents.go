package platform

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/spec"
)

var intentNames = map[string]discordgo.Intent{
	"guilds":                  discordgo.IntentGuilds,
	"guild_messages":          discordgo.IntentGuildMessages,
	"message_content":         discordgo.IntentMessageContent,
	"guild_members":           discordgo.IntentGuildMembers,
	"guild_voice_states":      discordgo.IntentGuildVoiceStates,
	"guild_message_reactions": discordgo.IntentGuildMessageReactions,
	"guild_presences":         discordgo.IntentGuildPresences,
	"direct_messages":         discordgo.IntentDirectMessages,
	"guild_moderation":        discordgo.IntentGuildModeration,
}

// DeriveIntents computes the gateway intent set for a loaded document.
// Explicit mode maps the declared names; auto mode derives the minimal
// set from subscribed events and the presence of commands and voice.
func DeriveIntents(doc *spec.Document) discordgo.Intent {
	if doc.Intents.Mode == "explicit" {
		var out discordgo.Intent
		for _, name := range doc.Intents.Explicit {
			if intent, ok := intentNames[strings.ToLower(strings.TrimSpace(name))]; ok {
				out |= intent
			}
		}
		return out
	}

	out := discordgo.IntentGuilds
	if len(doc.Commands) > 0 || len(doc.ContextMenus) > 0 {
		out |= discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	}
	if len(doc.Automod.Rules) > 0 {
		out |= discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	}
	for _, h := range doc.Events {
		switch h.Event {
		case EventMessageCreate, EventMessageUpdate, EventMessageDelete:
			out |= discordgo.IntentGuildMessages | discordgo.IntentMessageContent
		case EventGuildMemberAdd, EventGuildMemberRemove, EventGuildMemberUpdate:
			out |= discordgo.IntentGuildMembers
		case EventVoiceStateUpdate:
			out |= discordgo.IntentGuildVoiceStates
		case EventReactionAdd, EventReactionRemove:
			out |= discordgo.IntentGuildMessageReactions
		case EventPresenceUpdate:
			out |= discordgo.IntentGuildPresences
		}
	}
	if doc.Voice.MaxQueueSize > 0 || doc.Voice.DefaultVolume > 0 || hasVoiceEvents(doc) {
		out |= discordgo.IntentGuildVoiceStates
	}
	return out
}

func hasVoiceEvents(doc *spec.Document) bool {
	for _, h := range doc.Events {
		if h.Event == EventVoiceStateUpdate {
			return true
		}
	}
	return false
}

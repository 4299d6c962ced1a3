package platform

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/spec"
)

func TestDeriveIntentsAuto(t *testing.T) {
	tests := []struct {
		name string
		doc  spec.Document
		want discordgo.Intent
	}{
		{
			name: "bare bot",
			doc:  spec.Document{},
			want: discordgo.IntentGuilds,
		},
		{
			name: "commands imply message content",
			doc: spec.Document{
				Commands: []spec.Command{{Name: "ping"}},
			},
			want: discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent,
		},
		{
			name: "member events",
			doc: spec.Document{
				Events: []spec.EventHandler{{Event: EventGuildMemberAdd}},
			},
			want: discordgo.IntentGuilds | discordgo.IntentGuildMembers,
		},
		{
			name: "reactions and presence",
			doc: spec.Document{
				Events: []spec.EventHandler{
					{Event: EventReactionAdd},
					{Event: EventPresenceUpdate},
				},
			},
			want: discordgo.IntentGuilds | discordgo.IntentGuildMessageReactions | discordgo.IntentGuildPresences,
		},
		{
			name: "voice config",
			doc: spec.Document{
				Voice: spec.VoiceConfig{MaxQueueSize: 100},
			},
			want: discordgo.IntentGuilds | discordgo.IntentGuildVoiceStates,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveIntents(&tt.doc); got != tt.want {
				t.Fatalf("DeriveIntents() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDeriveIntentsExplicit(t *testing.T) {
	doc := spec.Document{
		Intents: spec.Intents{
			Mode:     "explicit",
			Explicit: []string{"Guilds", "guild_voice_states", "bogus"},
		},
	}
	want := discordgo.IntentGuilds | discordgo.IntentGuildVoiceStates
	if got := DeriveIntents(&doc); got != want {
		t.Fatalf("DeriveIntents() = %d, want %d", got, want)
	}
}

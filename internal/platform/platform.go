// Package platform defines the abstract chat-platform surface the runtime
// consumes. The engine never talks to a concrete SDK; it goes through
// Client so tests can substitute fakes.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ErrReadyTimeout is returned when the gateway or a voice connection does
// not signal readiness within its deadline.
var ErrReadyTimeout = errors.New("ready timeout")

// Canonical gateway event names.
const (
	EventReady             = "ready"
	EventMessageCreate     = "message_create"
	EventMessageUpdate     = "message_update"
	EventMessageDelete     = "message_delete"
	EventGuildMemberAdd    = "guild_member_add"
	EventGuildMemberRemove = "guild_member_remove"
	EventGuildMemberUpdate = "guild_member_update"
	EventVoiceStateUpdate  = "voice_state_update"
	EventReactionAdd       = "message_reaction_add"
	EventReactionRemove    = "message_reaction_remove"
	EventPresenceUpdate    = "presence_update"
	EventInteractionCreate = "interaction_create"
	EventRaw               = "raw"

	// Synthetic events produced by the runtime itself.
	EventTimerFire     = "timer_fire"
	EventSchedulerTick = "scheduler_tick"
)

// Outgoing is a platform-agnostic message payload. Embeds and components
// are built by the builders package directly in wire shape.
type Outgoing struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
	Ephemeral  bool
	TTS        bool
}

// EventHandler receives one decoded gateway event. The data map is the
// expression-facing context shape for that event.
type EventHandler func(ctx context.Context, data map[string]any)

// Interaction kinds as delivered to the InteractionHandler.
const (
	InteractionCommand     = "command"
	InteractionButton      = "button"
	InteractionSelect      = "select"
	InteractionModal       = "modal"
	InteractionUserMenu    = "user_menu"
	InteractionMessageMenu = "message_menu"
)

// Interaction is one decoded interaction. Name carries the command path
// ("cmd" or "cmd sub"); CustomID carries the component or modal id.
type Interaction struct {
	Kind     string
	Name     string
	CustomID string
	Data     map[string]any
}

// InteractionHandler receives decoded interactions together with their
// single-use responder.
type InteractionHandler func(ctx context.Context, in Interaction, responder Responder)

// Responder answers a single interaction. At most one initial response is
// accepted by the platform; Replied reports whether one was sent.
type Responder interface {
	Reply(ctx context.Context, msg *Outgoing) error
	Defer(ctx context.Context, ephemeral bool) error
	Followup(ctx context.Context, msg *Outgoing) error
	Replied() bool
}

// Client is the full platform surface. The discord subpackage provides
// the production implementation.
type Client interface {
	// Start opens the gateway connection and blocks until the ready
	// signal or the ready timeout.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Subscribe registers a handler for a canonical event name. All
	// subscriptions must happen before Start.
	Subscribe(event string, handler EventHandler)

	// OnInteraction registers the interaction sink. Must be called
	// before Start.
	OnInteraction(handler InteractionHandler)

	// Messaging.
	SendMessage(ctx context.Context, channelID string, msg *Outgoing) (messageID string, err error)
	SendDM(ctx context.Context, userID string, msg *Outgoing) (messageID string, err error)
	EditMessage(ctx context.Context, channelID, messageID string, msg *Outgoing) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	BulkDelete(ctx context.Context, channelID string, messageIDs []string) error
	CreateThread(ctx context.Context, channelID, messageID, name string, archiveMinutes int) (threadID string, err error)

	// Moderation.
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error
	Unban(ctx context.Context, guildID, userID string) error
	Timeout(ctx context.Context, guildID, userID string, until *time.Time) error
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error

	// Commands and presence.
	RegisterCommands(ctx context.Context, guildID string, commands []*discordgo.ApplicationCommand) error
	SetPresence(ctx context.Context, status, activityType, activityName string) error
}

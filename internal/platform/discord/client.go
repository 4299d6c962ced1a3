// Package discord implements the platform client over discordgo: gateway
// events decoded to expression-facing context shapes, REST messaging and
// moderation, interaction responses, and the voice transport.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/platform"
)

const defaultReadyTimeout = 30 * time.Second

var activityTypes = map[string]discordgo.ActivityType{
	"playing":   discordgo.ActivityTypeGame,
	"streaming": discordgo.ActivityTypeStreaming,
	"listening": discordgo.ActivityTypeListening,
	"watching":  discordgo.ActivityTypeWatching,
	"custom":    discordgo.ActivityTypeCustom,
	"competing": discordgo.ActivityTypeCompeting,
}

// Config holds the client configuration.
type Config struct {
	// Token is the bot token (required).
	Token string

	// Intents are the gateway intents to identify with.
	Intents discordgo.Intent

	// ReadyTimeout bounds the wait for the gateway ready signal.
	ReadyTimeout time.Duration

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Client implements platform.Client over a discordgo session.
type Client struct {
	config  Config
	session discordSession
	logger  *slog.Logger

	mu          sync.RWMutex
	started     bool
	appID       string
	ready       chan struct{}
	baseCtx     context.Context
	handlers    map[string][]platform.EventHandler
	interaction platform.InteractionHandler
}

// New creates a client from the configuration.
func New(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config:   config,
		logger:   config.Logger.With("component", "discord"),
		ready:    make(chan struct{}),
		handlers: make(map[string][]platform.EventHandler),
	}, nil
}

// Subscribe registers a handler for a canonical event name.
func (c *Client) Subscribe(event string, handler platform.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// OnInteraction registers the interaction sink.
func (c *Client) OnInteraction(handler platform.InteractionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interaction = handler
}

// voiceSession exposes the live session to the voice dialer. Nil until
// Start has run.
func (c *Client) voiceSession() discordSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Start opens the gateway connection and blocks until ready or the
// ready timeout elapses.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("client already started")
	}
	if c.session == nil {
		dg, err := discordgo.New("Bot " + c.config.Token)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("create session: %w", err)
		}
		dg.Identify.Intents = c.config.Intents
		c.session = dg
	}
	c.baseCtx = ctx

	c.session.AddHandler(c.handleReady)
	c.session.AddHandler(c.handleMessageCreate)
	c.session.AddHandler(c.handleMessageUpdate)
	c.session.AddHandler(c.handleMessageDelete)
	c.session.AddHandler(c.handleMemberAdd)
	c.session.AddHandler(c.handleMemberRemove)
	c.session.AddHandler(c.handleMemberUpdate)
	c.session.AddHandler(c.handleVoiceStateUpdate)
	c.session.AddHandler(c.handleReactionAdd)
	c.session.AddHandler(c.handleReactionRemove)
	c.session.AddHandler(c.handlePresenceUpdate)
	c.session.AddHandler(c.handleInteractionCreate)
	c.mu.Unlock()

	c.logger.Info("connecting", "intents", c.config.Intents)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}

	select {
	case <-c.ready:
	case <-time.After(c.config.ReadyTimeout):
		c.session.Close()
		return fmt.Errorf("gateway: %w", platform.ErrReadyTimeout)
	case <-ctx.Done():
		c.session.Close()
		return ctx.Err()
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	c.logger.Info("gateway ready")
	return nil
}

// Stop closes the gateway connection.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	c.logger.Info("closing gateway")
	return c.session.Close()
}

// emit fans one decoded event out to its subscribers, then to the raw
// subscribers with the event name attached.
func (c *Client) emit(event string, data map[string]any) {
	c.mu.RLock()
	subs := c.handlers[event]
	raw := c.handlers[platform.EventRaw]
	ctx := c.baseCtx
	c.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	for _, h := range subs {
		h(ctx, data)
	}
	if len(raw) > 0 {
		tagged := make(map[string]any, len(data)+1)
		for k, v := range data {
			tagged[k] = v
		}
		tagged["event"] = event
		for _, h := range raw {
			h(ctx, tagged)
		}
	}
}

// SendMessage sends to a channel and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, channelID string, msg *platform.Outgoing) (string, error) {
	sent, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     msg.Embeds,
		Components: msg.Components,
		TTS:        msg.TTS,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return sent.ID, nil
}

// SendDM opens (or reuses) the user's DM channel and sends there.
func (c *Client) SendDM(ctx context.Context, userID string, msg *platform.Outgoing) (string, error) {
	ch, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("open dm channel: %w", err)
	}
	return c.SendMessage(ctx, ch.ID, msg)
}

// EditMessage replaces a message's content, embeds, and components.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, msg *platform.Outgoing) error {
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.SetContent(msg.Content)
	if msg.Embeds != nil {
		edit.SetEmbeds(msg.Embeds)
	}
	if msg.Components != nil {
		edit.Components = &msg.Components
	}
	if _, err := c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// DeleteMessage deletes one message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// BulkDelete removes up to 100 messages at once.
func (c *Client) BulkDelete(ctx context.Context, channelID string, messageIDs []string) error {
	if err := c.session.ChannelMessagesBulkDelete(channelID, messageIDs, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("bulk delete: %w", err)
	}
	return nil
}

// CreateThread starts a thread, from a message when one is given.
func (c *Client) CreateThread(ctx context.Context, channelID, messageID, name string, archiveMinutes int) (string, error) {
	var thread *discordgo.Channel
	var err error
	if messageID != "" {
		thread, err = c.session.MessageThreadStart(channelID, messageID, name, archiveMinutes, discordgo.WithContext(ctx))
	} else {
		thread, err = c.session.ThreadStart(channelID, name, discordgo.ChannelTypeGuildPublicThread, archiveMinutes, discordgo.WithContext(ctx))
	}
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// Kick removes a member from a guild.
func (c *Client) Kick(ctx context.Context, guildID, userID, reason string) error {
	if err := c.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("kick: %w", err)
	}
	return nil
}

// Ban bans a member, deleting up to deleteDays days of their messages.
func (c *Client) Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error {
	if err := c.session.GuildBanCreateWithReason(guildID, userID, reason, deleteDays, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("ban: %w", err)
	}
	return nil
}

// Unban lifts a ban.
func (c *Client) Unban(ctx context.Context, guildID, userID string) error {
	if err := c.session.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("unban: %w", err)
	}
	return nil
}

// Timeout sets or, with a nil until, clears a member communication
// timeout.
func (c *Client) Timeout(ctx context.Context, guildID, userID string, until *time.Time) error {
	if err := c.session.GuildMemberTimeout(guildID, userID, until, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	return nil
}

// AddRole grants a role.
func (c *Client) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := c.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add role: %w", err)
	}
	return nil
}

// RemoveRole revokes a role.
func (c *Client) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := c.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("remove role: %w", err)
	}
	return nil
}

// RegisterCommands bulk-overwrites the application commands for one
// guild, or globally with an empty guild id.
func (c *Client) RegisterCommands(ctx context.Context, guildID string, commands []*discordgo.ApplicationCommand) error {
	c.mu.RLock()
	appID := c.appID
	c.mu.RUnlock()
	if appID == "" {
		return fmt.Errorf("cannot register commands before ready")
	}
	c.logger.Info("registering commands", "guild", guildID, "count", len(commands))
	if _, err := c.session.ApplicationCommandBulkOverwrite(appID, guildID, commands, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

// SetPresence applies the gateway presence.
func (c *Client) SetPresence(ctx context.Context, status, activityType, activityName string) error {
	data := discordgo.UpdateStatusData{Status: status}
	if activityName != "" {
		kind, ok := activityTypes[activityType]
		if !ok {
			kind = discordgo.ActivityTypeGame
		}
		data.Activities = []*discordgo.Activity{{Name: activityName, Type: kind}}
	}
	if err := c.session.UpdateStatusComplex(data); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

package discord

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/platform"
)

func (c *Client) handleInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	c.mu.RLock()
	sink := c.interaction
	ctx := c.baseCtx
	c.mu.RUnlock()
	if sink == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	in, ok := decodeInteraction(i.Interaction)
	if !ok {
		return
	}
	responder := &interactionResponder{session: c.session, interaction: i.Interaction}
	sink(ctx, in, responder)

	c.emit(platform.EventInteractionCreate, in.Data)
}

func decodeInteraction(i *discordgo.Interaction) (platform.Interaction, bool) {
	data := map[string]any{
		"guild_id":   i.GuildID,
		"channel_id": i.ChannelID,
	}
	var user *discordgo.User
	if i.Member != nil {
		user = i.Member.User
		data["member"] = memberMap(i.Member)
		data["permissions"] = permissionNames(i.Member.Permissions)
	} else {
		user = i.User
	}
	data["user"] = userMap(user)

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		cmd := i.ApplicationCommandData()
		switch cmd.CommandType {
		case discordgo.UserApplicationCommand:
			if resolved := cmd.Resolved; resolved != nil {
				data["target"] = userMap(resolved.Users[cmd.TargetID])
			}
			return platform.Interaction{Kind: platform.InteractionUserMenu, Name: cmd.Name, Data: data}, true
		case discordgo.MessageApplicationCommand:
			if resolved := cmd.Resolved; resolved != nil {
				data["target"] = messageMap(resolved.Messages[cmd.TargetID])
			}
			return platform.Interaction{Kind: platform.InteractionMessageMenu, Name: cmd.Name, Data: data}, true
		}
		name, args := commandPath(cmd.Name, cmd.Options)
		data["args"] = args
		return platform.Interaction{Kind: platform.InteractionCommand, Name: name, Data: data}, true

	case discordgo.InteractionMessageComponent:
		comp := i.MessageComponentData()
		data["custom_id"] = comp.CustomID
		data["message"] = messageMap(i.Message)
		kind := platform.InteractionButton
		if comp.ComponentType != discordgo.ButtonComponent {
			kind = platform.InteractionSelect
			values := make([]any, 0, len(comp.Values))
			for _, v := range comp.Values {
				values = append(values, v)
			}
			data["values"] = values
		}
		return platform.Interaction{Kind: kind, CustomID: comp.CustomID, Data: data}, true

	case discordgo.InteractionModalSubmit:
		modal := i.ModalSubmitData()
		data["custom_id"] = modal.CustomID
		data["fields"] = modalFields(modal.Components)
		return platform.Interaction{Kind: platform.InteractionModal, CustomID: modal.CustomID, Data: data}, true
	}
	return platform.Interaction{}, false
}

// commandPath flattens subcommand groups into "cmd group sub" and
// collects the leaf options as the args map.
func commandPath(name string, options []*discordgo.ApplicationCommandInteractionDataOption) (string, map[string]any) {
	for len(options) == 1 {
		opt := options[0]
		if opt.Type != discordgo.ApplicationCommandOptionSubCommand &&
			opt.Type != discordgo.ApplicationCommandOptionSubCommandGroup {
			break
		}
		name = name + " " + opt.Name
		options = opt.Options
	}
	args := make(map[string]any, len(options))
	for _, opt := range options {
		args[opt.Name] = opt.Value
	}
	return name, args
}

func modalFields(rows []discordgo.MessageComponent) map[string]any {
	fields := make(map[string]any)
	for _, row := range rows {
		ar, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, child := range ar.Components {
			if input, ok := child.(*discordgo.TextInput); ok {
				fields[input.CustomID] = input.Value
			}
		}
	}
	return fields
}

var permissionBits = map[int64]string{
	discordgo.PermissionAdministrator:   "administrator",
	discordgo.PermissionManageServer:    "manage_guild",
	discordgo.PermissionManageChannels:  "manage_channels",
	discordgo.PermissionManageMessages:  "manage_messages",
	discordgo.PermissionManageRoles:     "manage_roles",
	discordgo.PermissionKickMembers:     "kick_members",
	discordgo.PermissionBanMembers:      "ban_members",
	discordgo.PermissionModerateMembers: "moderate_members",
}

func permissionNames(perms int64) []any {
	var names []any
	for bit, name := range permissionBits {
		if perms&bit != 0 {
			names = append(names, name)
		}
	}
	return names
}

// interactionResponder answers a single interaction. The first Reply or
// Defer is the initial response; later sends go through followups.
type interactionResponder struct {
	session     discordSession
	interaction *discordgo.Interaction

	mu      sync.Mutex
	replied bool
}

func (r *interactionResponder) Reply(ctx context.Context, msg *platform.Outgoing) error {
	r.mu.Lock()
	if r.replied {
		r.mu.Unlock()
		return r.Followup(ctx, msg)
	}
	r.replied = true
	r.mu.Unlock()

	var flags discordgo.MessageFlags
	if msg.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	return r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    msg.Content,
			Embeds:     msg.Embeds,
			Components: msg.Components,
			TTS:        msg.TTS,
			Flags:      flags,
		},
	}, discordgo.WithContext(ctx))
}

func (r *interactionResponder) Defer(ctx context.Context, ephemeral bool) error {
	r.mu.Lock()
	if r.replied {
		r.mu.Unlock()
		return nil
	}
	r.replied = true
	r.mu.Unlock()

	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	return r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}, discordgo.WithContext(ctx))
}

func (r *interactionResponder) Followup(ctx context.Context, msg *platform.Outgoing) error {
	var flags discordgo.MessageFlags
	if msg.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_, err := r.session.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
		Content:    msg.Content,
		Embeds:     msg.Embeds,
		Components: msg.Components,
		TTS:        msg.TTS,
		Flags:      flags,
	}, discordgo.WithContext(ctx))
	return err
}

func (r *interactionResponder) Replied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replied
}

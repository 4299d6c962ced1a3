package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/platform"
)

// Context shapes: every decoder produces the flat ids (guild_id,
// channel_id) plus nested objects (user, member, message) so both
// `${user.id}` and scope derivation work.

func userMap(u *discordgo.User) map[string]any {
	if u == nil {
		return nil
	}
	return map[string]any{
		"id":       u.ID,
		"username": u.Username,
		"mention":  u.Mention(),
		"bot":      u.Bot,
	}
}

func memberMap(m *discordgo.Member) map[string]any {
	if m == nil {
		return nil
	}
	roles := make([]any, 0, len(m.Roles))
	for _, r := range m.Roles {
		roles = append(roles, r)
	}
	out := map[string]any{
		"nick":  m.Nick,
		"roles": roles,
	}
	if m.User != nil {
		out["id"] = m.User.ID
		out["username"] = m.User.Username
	}
	if !m.JoinedAt.IsZero() {
		out["joined_at"] = float64(m.JoinedAt.UnixMilli())
	}
	return out
}

func messageMap(m *discordgo.Message) map[string]any {
	if m == nil {
		return nil
	}
	attachments := make([]any, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, map[string]any{
			"id":       a.ID,
			"url":      a.URL,
			"filename": a.Filename,
			"size":     float64(a.Size),
		})
	}
	mentions := make([]any, 0, len(m.Mentions))
	for _, u := range m.Mentions {
		mentions = append(mentions, u.ID)
	}
	return map[string]any{
		"id":            m.ID,
		"content":       m.Content,
		"channel_id":    m.ChannelID,
		"attachments":   attachments,
		"mentions":      mentions,
		"mention_roles": float64(len(m.MentionRoles)),
	}
}

func (c *Client) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	c.mu.Lock()
	if r.User != nil {
		c.appID = r.User.ID
	}
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
	c.mu.Unlock()

	c.emit(platform.EventReady, map[string]any{
		"user":   userMap(r.User),
		"guilds": float64(len(r.Guilds)),
	})
}

func (c *Client) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author != nil && m.Author.Bot {
		return
	}
	data := map[string]any{
		"guild_id":   m.GuildID,
		"channel_id": m.ChannelID,
		"user":       userMap(m.Author),
		"author":     userMap(m.Author),
		"member":     memberMap(m.Member),
		"message":    messageMap(m.Message),
	}
	c.emit(platform.EventMessageCreate, data)
}

func (c *Client) handleMessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.Author != nil && m.Author.Bot {
		return
	}
	data := map[string]any{
		"guild_id":   m.GuildID,
		"channel_id": m.ChannelID,
		"user":       userMap(m.Author),
		"author":     userMap(m.Author),
		"message":    messageMap(m.Message),
	}
	if m.BeforeUpdate != nil {
		data["before"] = messageMap(m.BeforeUpdate)
	}
	c.emit(platform.EventMessageUpdate, data)
}

func (c *Client) handleMessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	c.emit(platform.EventMessageDelete, map[string]any{
		"guild_id":   m.GuildID,
		"channel_id": m.ChannelID,
		"message":    map[string]any{"id": m.ID, "channel_id": m.ChannelID},
	})
}

func (c *Client) handleMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	c.emit(platform.EventGuildMemberAdd, map[string]any{
		"guild_id": m.GuildID,
		"user":     userMap(m.User),
		"member":   memberMap(m.Member),
	})
}

func (c *Client) handleMemberRemove(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
	c.emit(platform.EventGuildMemberRemove, map[string]any{
		"guild_id": m.GuildID,
		"user":     userMap(m.User),
	})
}

func (c *Client) handleMemberUpdate(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	data := map[string]any{
		"guild_id": m.GuildID,
		"user":     userMap(m.User),
		"member":   memberMap(m.Member),
	}
	if m.BeforeUpdate != nil {
		data["before"] = memberMap(m.BeforeUpdate)
	}
	c.emit(platform.EventGuildMemberUpdate, data)
}

func (c *Client) handleVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	data := map[string]any{
		"guild_id":   v.GuildID,
		"channel_id": v.ChannelID,
		"user_id":    v.UserID,
		"voice": map[string]any{
			"channel_id": v.ChannelID,
			"self_mute":  v.SelfMute,
			"self_deaf":  v.SelfDeaf,
		},
	}
	if v.BeforeUpdate != nil {
		data["before"] = map[string]any{"channel_id": v.BeforeUpdate.ChannelID}
	}
	c.emit(platform.EventVoiceStateUpdate, data)
}

func (c *Client) handleReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	c.emit(platform.EventReactionAdd, reactionMap(r.MessageReaction))
}

func (c *Client) handleReactionRemove(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
	c.emit(platform.EventReactionRemove, reactionMap(r.MessageReaction))
}

func reactionMap(r *discordgo.MessageReaction) map[string]any {
	return map[string]any{
		"guild_id":   r.GuildID,
		"channel_id": r.ChannelID,
		"user_id":    r.UserID,
		"message":    map[string]any{"id": r.MessageID},
		"emoji": map[string]any{
			"name": r.Emoji.Name,
			"id":   r.Emoji.ID,
		},
	}
}

func (c *Client) handlePresenceUpdate(s *discordgo.Session, p *discordgo.PresenceUpdate) {
	c.emit(platform.EventPresenceUpdate, map[string]any{
		"guild_id": p.GuildID,
		"user":     userMap(p.User),
		"status":   string(p.Status),
	})
}

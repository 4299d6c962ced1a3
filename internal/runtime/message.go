package runtime

import (
	"github.com/haasonsaas/specbot/internal/automod"
)

// messageContext extracts the automod view of a message_create payload.
func messageContext(data map[string]any) (content string, mc automod.MessageContext) {
	mc.GuildID, _ = data["guild_id"].(string)
	mc.ChannelID, _ = data["channel_id"].(string)

	if user, ok := data["user"].(map[string]any); ok {
		mc.UserID, _ = user["id"].(string)
	}
	if member, ok := data["member"].(map[string]any); ok {
		if roles, ok := member["roles"].([]any); ok {
			for _, role := range roles {
				if s, ok := role.(string); ok {
					mc.Roles = append(mc.Roles, s)
				}
			}
		}
	}

	message, ok := data["message"].(map[string]any)
	if !ok {
		return "", mc
	}
	content, _ = message["content"].(string)
	if mentions, ok := message["mentions"].([]any); ok {
		mc.Mentions = len(mentions)
	}
	if n, ok := message["mention_roles"].(float64); ok {
		mc.RoleMention = int(n)
	}
	if attachments, ok := message["attachments"].([]any); ok {
		for _, raw := range attachments {
			if att, ok := raw.(map[string]any); ok {
				if name, ok := att["filename"].(string); ok {
					mc.Attachments = append(mc.Attachments, name)
				}
			}
		}
	}
	return content, mc
}

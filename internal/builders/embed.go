package builders

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// BuildEmbed builds one embed from a definition map, interpolating
// every string and resolving the color through the ordered rules.
func (r *Registry) BuildEmbed(def map[string]any, data map[string]any) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       stringField(def, "title", r.eval, data),
		Description: stringField(def, "description", r.eval, data),
		URL:         stringField(def, "url", r.eval, data),
		Color:       ResolveColor(def["color"], r.themes, r.eval, data),
	}

	if fields, ok := def["fields"].([]any); ok {
		for _, raw := range fields {
			f, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:   stringField(f, "name", r.eval, data),
				Value:  stringField(f, "value", r.eval, data),
				Inline: boolField(f, "inline"),
			})
		}
	}

	if footer, ok := def["footer"].(map[string]any); ok {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text:    stringField(footer, "text", r.eval, data),
			IconURL: stringField(footer, "icon_url", r.eval, data),
		}
	} else if text := stringField(def, "footer", r.eval, data); text != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: text}
	}

	if author, ok := def["author"].(map[string]any); ok {
		embed.Author = &discordgo.MessageEmbedAuthor{
			Name:    stringField(author, "name", r.eval, data),
			URL:     stringField(author, "url", r.eval, data),
			IconURL: stringField(author, "icon_url", r.eval, data),
		}
	}

	if url := stringField(def, "thumbnail", r.eval, data); url != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: url}
	}
	if url := stringField(def, "image", r.eval, data); url != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: url}
	}

	switch ts := def["timestamp"].(type) {
	case bool:
		if ts {
			embed.Timestamp = time.Now().UTC().Format(time.RFC3339)
		}
	case string:
		if ts != "" {
			if out, err := r.eval.Interpolate(ts, data); err == nil {
				embed.Timestamp = out
			}
		}
	}

	return embed
}

// BuildEmbeds builds a list of embed definitions, skipping entries that
// are not maps.
func (r *Registry) BuildEmbeds(defs []any, data map[string]any) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(defs))
	for _, raw := range defs {
		if def, ok := raw.(map[string]any); ok {
			out = append(out, r.BuildEmbed(def, data))
		}
	}
	return out
}

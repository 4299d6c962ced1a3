package interactions

import (
	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/spec"
)

var optionTypes = map[string]discordgo.ApplicationCommandOptionType{
	"string":      discordgo.ApplicationCommandOptionString,
	"integer":     discordgo.ApplicationCommandOptionInteger,
	"number":      discordgo.ApplicationCommandOptionNumber,
	"boolean":     discordgo.ApplicationCommandOptionBoolean,
	"user":        discordgo.ApplicationCommandOptionUser,
	"channel":     discordgo.ApplicationCommandOptionChannel,
	"role":        discordgo.ApplicationCommandOptionRole,
	"mentionable": discordgo.ApplicationCommandOptionMentionable,
	"attachment":  discordgo.ApplicationCommandOptionAttachment,
}

// BuildCommands maps the document's commands and context menus to wire
// application commands, grouped by target guild. The empty key holds
// global commands.
func BuildCommands(doc *spec.Document) map[string][]*discordgo.ApplicationCommand {
	out := make(map[string][]*discordgo.ApplicationCommand)
	for _, cmd := range doc.Commands {
		wire := &discordgo.ApplicationCommand{
			Name:        cmd.Name,
			Description: description(cmd.Description),
			Options:     buildOptions(cmd),
		}
		out[cmd.GuildID] = append(out[cmd.GuildID], wire)
	}
	for _, menu := range doc.ContextMenus {
		kind := discordgo.UserApplicationCommand
		if menu.Type == "message" {
			kind = discordgo.MessageApplicationCommand
		}
		out[""] = append(out[""], &discordgo.ApplicationCommand{
			Name: menu.Name,
			Type: kind,
		})
	}
	return out
}

// buildOptions emits subcommands before plain options; the wire format
// requires subcommand options to come first.
func buildOptions(cmd spec.Command) []*discordgo.ApplicationCommandOption {
	var out []*discordgo.ApplicationCommandOption
	for _, sub := range cmd.Subcommands {
		out = append(out, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        sub.Name,
			Description: description(sub.Description),
			Options:     buildOptions(sub),
		})
	}
	for _, opt := range cmd.Options {
		kind, ok := optionTypes[opt.Type]
		if !ok {
			kind = discordgo.ApplicationCommandOptionString
		}
		wire := &discordgo.ApplicationCommandOption{
			Type:        kind,
			Name:        opt.Name,
			Description: description(opt.Description),
			Required:    opt.Required,
		}
		for _, choice := range opt.Choices {
			wire.Choices = append(wire.Choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  choice.Name,
				Value: choice.Value,
			})
		}
		out = append(out, wire)
	}
	return out
}

// description fills the required description field when the document
// omits one.
func description(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

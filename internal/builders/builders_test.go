package builders

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/spec"
)

func TestResolveColor(t *testing.T) {
	eval := expr.New()
	themes := map[string]int{"brand": 0x112233}
	data := map[string]any{"severity_color": "#FF0000"}

	tests := []struct {
		name string
		in   any
		want int
	}{
		{"integer literal", 0xABCDEF, 0xABCDEF},
		{"float literal", float64(255), 255},
		{"rgb map", map[string]any{"r": float64(255), "g": float64(128), "b": float64(0)}, (255 << 16) | (128 << 8)},
		{"rgb clamps channels", map[string]any{"r": float64(999), "g": float64(-5), "b": float64(0)}, 255 << 16},
		{"hex string", "#1A2B3C", 0x1A2B3C},
		{"hex without hash", "1A2B3C", 0x1A2B3C},
		{"theme color", "brand", 0x112233},
		{"named color", "Blurple", 0x5865F2},
		{"expression", "${severity_color}", 0xFF0000},
		{"unknown falls back", "no-such-color", defaultColor},
		{"nil falls back", nil, defaultColor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveColor(tt.in, themes, eval, data); got != tt.want {
				t.Fatalf("ResolveColor(%v) = %#x, want %#x", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseEmoji(t *testing.T) {
	tests := []struct {
		in       string
		name     string
		id       string
		animated bool
	}{
		{"<:wave:123456>", "wave", "123456", false},
		{"<a:party:789>", "party", "789", true},
		{"👍", "👍", "", false},
	}
	for _, tt := range tests {
		got := ParseEmoji(tt.in)
		if got == nil {
			t.Fatalf("ParseEmoji(%q) = nil", tt.in)
		}
		if got.Name != tt.name || got.ID != tt.id || got.Animated != tt.animated {
			t.Fatalf("ParseEmoji(%q) = %+v", tt.in, got)
		}
	}
	if ParseEmoji("") != nil {
		t.Fatal("ParseEmoji(empty) != nil")
	}
}

func TestBuildButton(t *testing.T) {
	r := NewRegistry(expr.New())
	data := map[string]any{"user": map[string]any{"id": "42"}}

	btn, err := r.BuildButton(map[string]any{
		"label":     "Claim for ${user.id}",
		"style":     "success",
		"custom_id": "claim:${user.id}",
		"emoji":     "<:gift:555>",
	}, data)
	if err != nil {
		t.Fatalf("BuildButton() error = %v", err)
	}
	if btn.Label != "Claim for 42" || btn.CustomID != "claim:42" {
		t.Fatalf("button = %+v", btn)
	}
	if btn.Style != discordgo.SuccessButton {
		t.Fatalf("style = %v, want success", btn.Style)
	}
	if btn.Emoji == nil || btn.Emoji.ID != "555" {
		t.Fatalf("emoji = %+v", btn.Emoji)
	}
}

func TestButtonStyleDefaultsToPrimary(t *testing.T) {
	r := NewRegistry(expr.New())
	btn, err := r.BuildButton(map[string]any{"label": "x", "style": "sparkly"}, nil)
	if err != nil {
		t.Fatalf("BuildButton() error = %v", err)
	}
	if btn.Style != discordgo.PrimaryButton {
		t.Fatalf("style = %v, want primary fallback", btn.Style)
	}
}

func TestLinkButtonDropsCustomID(t *testing.T) {
	r := NewRegistry(expr.New())
	btn, err := r.BuildButton(map[string]any{
		"label":     "Docs",
		"style":     "link",
		"url":       "https://example.com",
		"custom_id": "ignored",
	}, nil)
	if err != nil {
		t.Fatalf("BuildButton() error = %v", err)
	}
	if btn.CustomID != "" || btn.URL != "https://example.com" {
		t.Fatalf("button = %+v", btn)
	}
}

func TestBuildButtonFromTemplate(t *testing.T) {
	r := NewRegistry(expr.New())
	r.Register(spec.Components{
		Buttons: []spec.ComponentTemplate{{
			Name:       "confirm",
			Definition: map[string]any{"label": "Confirm", "style": "danger", "custom_id": "confirm:${item}"},
		}},
	})
	btn, err := r.BuildButton("confirm", map[string]any{"item": "ticket-9"})
	if err != nil {
		t.Fatalf("BuildButton() error = %v", err)
	}
	if btn.CustomID != "confirm:ticket-9" || btn.Style != discordgo.DangerButton {
		t.Fatalf("button = %+v", btn)
	}
	if _, err := r.BuildButton("missing", nil); err == nil {
		t.Fatal("unknown template name succeeded")
	}
}

func TestBuildSelectTypes(t *testing.T) {
	r := NewRegistry(expr.New())
	tests := []struct {
		kind string
		want discordgo.SelectMenuType
	}{
		{"string_select", discordgo.StringSelectMenu},
		{"user_select", discordgo.UserSelectMenu},
		{"role_select", discordgo.RoleSelectMenu},
		{"mentionable_select", discordgo.MentionableSelectMenu},
		{"channel_select", discordgo.ChannelSelectMenu},
		{"mystery", discordgo.StringSelectMenu},
	}
	for _, tt := range tests {
		menu, err := r.BuildSelect(map[string]any{"type": tt.kind, "custom_id": "pick"}, nil)
		if err != nil {
			t.Fatalf("BuildSelect(%s) error = %v", tt.kind, err)
		}
		if menu.MenuType != tt.want {
			t.Fatalf("BuildSelect(%s).MenuType = %v, want %v", tt.kind, menu.MenuType, tt.want)
		}
	}
}

func TestBuildSelectOptions(t *testing.T) {
	r := NewRegistry(expr.New())
	menu, err := r.BuildSelect(map[string]any{
		"custom_id":   "color-pick",
		"placeholder": "Pick for ${name}",
		"min_values":  float64(1),
		"max_values":  float64(2),
		"options": []any{
			map[string]any{"label": "Red", "value": "red", "default": true},
			map[string]any{"label": "Blue", "value": "blue", "emoji": "🔵"},
		},
	}, map[string]any{"name": "alice"})
	if err != nil {
		t.Fatalf("BuildSelect() error = %v", err)
	}
	if menu.Placeholder != "Pick for alice" {
		t.Fatalf("placeholder = %q", menu.Placeholder)
	}
	if menu.MinValues == nil || *menu.MinValues != 1 || menu.MaxValues != 2 {
		t.Fatalf("bounds = %v/%d", menu.MinValues, menu.MaxValues)
	}
	if len(menu.Options) != 2 || !menu.Options[0].Default || menu.Options[1].Emoji == nil {
		t.Fatalf("options = %+v", menu.Options)
	}
}

func TestBuildModalWrapsInputsInRows(t *testing.T) {
	r := NewRegistry(expr.New())
	modal, err := r.BuildModal(map[string]any{
		"title":     "Report",
		"custom_id": "report-modal",
		"inputs": []any{
			map[string]any{"custom_id": "subject", "label": "Subject", "style": "short", "required": true},
			map[string]any{"custom_id": "body", "label": "Details", "style": "paragraph", "max_length": float64(2000)},
		},
	}, nil)
	if err != nil {
		t.Fatalf("BuildModal() error = %v", err)
	}
	if len(modal.Components) != 2 {
		t.Fatalf("components = %d, want 2 rows", len(modal.Components))
	}
	row, ok := modal.Components[0].(discordgo.ActionsRow)
	if !ok || len(row.Components) != 1 {
		t.Fatalf("row = %+v, want single-child action row", modal.Components[0])
	}
	input, ok := row.Components[0].(discordgo.TextInput)
	if !ok || input.Style != discordgo.TextInputShort || !input.Required {
		t.Fatalf("input = %+v", row.Components[0])
	}
	second := modal.Components[1].(discordgo.ActionsRow).Components[0].(discordgo.TextInput)
	if second.Style != discordgo.TextInputParagraph || second.MaxLength != 2000 {
		t.Fatalf("second input = %+v", second)
	}
}

func TestBuildRowsPacksButtons(t *testing.T) {
	r := NewRegistry(expr.New())
	entries := make([]any, 7)
	for i := range entries {
		entries[i] = map[string]any{"label": "b", "custom_id": "x"}
	}
	// A select in the middle forces a row break.
	entries[3] = map[string]any{"type": "string_select", "custom_id": "pick"}

	rows, err := r.BuildRows(entries, nil)
	if err != nil {
		t.Fatalf("BuildRows() error = %v", err)
	}
	// 3 buttons, select row, 3 buttons.
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if _, ok := rows[1].(discordgo.ActionsRow).Components[0].(discordgo.SelectMenu); !ok {
		t.Fatalf("middle row = %+v, want select", rows[1])
	}
}

func TestBuildEmbed(t *testing.T) {
	r := NewRegistry(expr.New(), WithThemeColors(map[string]int{"accent": 0x00FF88}))
	data := map[string]any{"user": map[string]any{"name": "alice"}, "count": float64(3)}

	embed := r.BuildEmbed(map[string]any{
		"title":       "Welcome ${user.name}",
		"description": "You have ${count} new items",
		"color":       "accent",
		"fields": []any{
			map[string]any{"name": "Level", "value": "${count}", "inline": true},
		},
		"footer":    map[string]any{"text": "for ${user.name}"},
		"thumbnail": "https://cdn.example/a.png",
	}, data)

	if embed.Title != "Welcome alice" {
		t.Fatalf("title = %q", embed.Title)
	}
	if embed.Description != "You have 3 new items" {
		t.Fatalf("description = %q", embed.Description)
	}
	if embed.Color != 0x00FF88 {
		t.Fatalf("color = %#x, want theme color", embed.Color)
	}
	if len(embed.Fields) != 1 || embed.Fields[0].Value != "3" || !embed.Fields[0].Inline {
		t.Fatalf("fields = %+v", embed.Fields)
	}
	if embed.Footer == nil || embed.Footer.Text != "for alice" {
		t.Fatalf("footer = %+v", embed.Footer)
	}
	if embed.Thumbnail == nil || embed.Thumbnail.URL == "" {
		t.Fatalf("thumbnail = %+v", embed.Thumbnail)
	}
}

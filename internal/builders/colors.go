// Package builders turns template definitions into platform wire
// structures: embeds, buttons, select menus, and modals.
package builders

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/expr"
)

const defaultColor = 0x000000

var namedColors = map[string]int{
	"red":     0xED4245,
	"green":   0x57F287,
	"blue":    0x3498DB,
	"blurple": 0x5865F2,
	"gold":    0xF1C40F,
	"yellow":  0xFEE75C,
	"orange":  0xE67E22,
	"purple":  0x9B59B6,
	"pink":    0xEB459E,
	"fuchsia": 0xEB459E,
	"teal":    0x1ABC9C,
	"aqua":    0x1ABC9C,
	"white":   0xFFFFFF,
	"black":   0x010101,
	"grey":    0x95A5A6,
	"gray":    0x95A5A6,
	"navy":    0x34495E,
	"random":  0x2F3136,
}

var hexColor = regexp.MustCompile(`^#?[0-9A-Fa-f]{6}$`)

// ResolveColor applies the ordered color rules: integer literal, rgb
// map, hex string, theme color, named color, interpolated expression,
// then the black default.
func ResolveColor(v any, themes map[string]int, eval *expr.Evaluator, data map[string]any) int {
	switch t := v.(type) {
	case nil:
		return defaultColor
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case map[string]any:
		r := colorChannel(t["r"])
		g := colorChannel(t["g"])
		b := colorChannel(t["b"])
		return (r << 16) | (g << 8) | b
	case string:
		if c, ok := parseHex(t); ok {
			return c
		}
		key := strings.ToLower(strings.TrimSpace(t))
		if c, ok := themes[key]; ok {
			return c
		}
		if c, ok := namedColors[key]; ok {
			return c
		}
		if eval != nil {
			if out, err := eval.Interpolate(t, data); err == nil {
				if c, ok := parseHex(out); ok {
					return c
				}
			}
		}
	}
	return defaultColor
}

func parseHex(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if !hexColor.MatchString(s) {
		return 0, false
	}
	s = strings.TrimPrefix(s, "#")
	v, err := strconv.ParseInt(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

func colorChannel(v any) int {
	n := 0
	switch t := v.(type) {
	case int:
		n = t
	case int64:
		n = int(t)
	case float64:
		n = int(t)
	}
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return n
}

var customEmoji = regexp.MustCompile(`^<(a?):([A-Za-z0-9_]+):(\d+)>$`)

// ParseEmoji maps "<a:name:id>" custom emoji to their parts; anything
// else is treated as a unicode literal.
func ParseEmoji(s string) *discordgo.ComponentEmoji {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if m := customEmoji.FindStringSubmatch(s); m != nil {
		return &discordgo.ComponentEmoji{
			Animated: m[1] == "a",
			Name:     m[2],
			ID:       m[3],
		}
	}
	return &discordgo.ComponentEmoji{Name: s}
}

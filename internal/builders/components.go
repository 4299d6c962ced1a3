package builders

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/spec"
)

var buttonStyles = map[string]discordgo.ButtonStyle{
	"primary":   discordgo.PrimaryButton,
	"secondary": discordgo.SecondaryButton,
	"success":   discordgo.SuccessButton,
	"danger":    discordgo.DangerButton,
	"link":      discordgo.LinkButton,
}

var selectTypes = map[string]discordgo.SelectMenuType{
	"string_select":      discordgo.StringSelectMenu,
	"user_select":        discordgo.UserSelectMenu,
	"role_select":        discordgo.RoleSelectMenu,
	"mentionable_select": discordgo.MentionableSelectMenu,
	"channel_select":     discordgo.ChannelSelectMenu,
}

var textInputStyles = map[string]discordgo.TextInputStyle{
	"short":     discordgo.TextInputShort,
	"paragraph": discordgo.TextInputParagraph,
}

// Registry resolves template names to definitions and builds wire
// components from them. Either a template name or an inline definition
// map is accepted everywhere.
type Registry struct {
	eval   *expr.Evaluator
	logger *slog.Logger
	themes map[string]int

	mu      sync.RWMutex
	buttons map[string]spec.ComponentTemplate
	selects map[string]spec.ComponentTemplate
	modals  map[string]spec.ComponentTemplate
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithThemeColors installs named theme colors consulted before the
// standard color table.
func WithThemeColors(themes map[string]int) RegistryOption {
	return func(r *Registry) {
		for k, v := range themes {
			r.themes[k] = v
		}
	}
}

// WithRegistryLogger overrides the default logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(eval *expr.Evaluator, opts ...RegistryOption) *Registry {
	r := &Registry{
		eval:    eval,
		logger:  slog.Default(),
		themes:  make(map[string]int),
		buttons: make(map[string]spec.ComponentTemplate),
		selects: make(map[string]spec.ComponentTemplate),
		modals:  make(map[string]spec.ComponentTemplate),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "builders")
	return r
}

// Register replaces all component templates from the document.
func (r *Registry) Register(c spec.Components) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buttons = templateMap(c.Buttons)
	r.selects = templateMap(c.Selects)
	r.modals = templateMap(c.Modals)
}

func templateMap(templates []spec.ComponentTemplate) map[string]spec.ComponentTemplate {
	out := make(map[string]spec.ComponentTemplate, len(templates))
	for _, t := range templates {
		out[t.Name] = t
	}
	return out
}

// ButtonTemplate returns a registered button template by name.
func (r *Registry) ButtonTemplate(name string) (spec.ComponentTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.buttons[name]
	return t, ok
}

// SelectTemplate returns a registered select template by name.
func (r *Registry) SelectTemplate(name string) (spec.ComponentTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.selects[name]
	return t, ok
}

// ModalTemplate returns a registered modal template by name.
func (r *Registry) ModalTemplate(name string) (spec.ComponentTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.modals[name]
	return t, ok
}

// resolve accepts a template name or an inline definition map.
func (r *Registry) resolve(v any, lookup func(string) (spec.ComponentTemplate, bool)) (map[string]any, error) {
	switch t := v.(type) {
	case string:
		tpl, ok := lookup(t)
		if !ok {
			return nil, fmt.Errorf("unknown component template %q", t)
		}
		return tpl.Definition, nil
	case map[string]any:
		return t, nil
	}
	return nil, fmt.Errorf("component wants a name or definition, got %T", v)
}

// BuildButton builds one button from a template name or definition.
func (r *Registry) BuildButton(v any, data map[string]any) (discordgo.Button, error) {
	def, err := r.resolve(v, r.ButtonTemplate)
	if err != nil {
		return discordgo.Button{}, err
	}
	style, ok := buttonStyles[stringField(def, "style", r.eval, data)]
	if !ok {
		style = discordgo.PrimaryButton
	}
	btn := discordgo.Button{
		Label:    stringField(def, "label", r.eval, data),
		Style:    style,
		CustomID: stringField(def, "custom_id", r.eval, data),
		URL:      stringField(def, "url", r.eval, data),
		Disabled: boolField(def, "disabled"),
	}
	if emoji := stringField(def, "emoji", r.eval, data); emoji != "" {
		btn.Emoji = ParseEmoji(emoji)
	}
	// Link buttons carry a URL and no custom ID.
	if btn.Style == discordgo.LinkButton {
		btn.CustomID = ""
	}
	return btn, nil
}

// BuildSelect builds one select menu from a template name or definition.
func (r *Registry) BuildSelect(v any, data map[string]any) (discordgo.SelectMenu, error) {
	def, err := r.resolve(v, r.SelectTemplate)
	if err != nil {
		return discordgo.SelectMenu{}, err
	}
	menuType, ok := selectTypes[stringField(def, "type", r.eval, data)]
	if !ok {
		menuType = discordgo.StringSelectMenu
	}
	menu := discordgo.SelectMenu{
		MenuType:    menuType,
		CustomID:    stringField(def, "custom_id", r.eval, data),
		Placeholder: stringField(def, "placeholder", r.eval, data),
		Disabled:    boolField(def, "disabled"),
	}
	if n, ok := intField(def, "min_values"); ok {
		menu.MinValues = &n
	}
	if n, ok := intField(def, "max_values"); ok {
		menu.MaxValues = n
	}
	if options, ok := def["options"].([]any); ok && menuType == discordgo.StringSelectMenu {
		for _, raw := range options {
			opt, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			option := discordgo.SelectMenuOption{
				Label:       stringField(opt, "label", r.eval, data),
				Value:       stringField(opt, "value", r.eval, data),
				Description: stringField(opt, "description", r.eval, data),
				Default:     boolField(opt, "default"),
			}
			if emoji := stringField(opt, "emoji", r.eval, data); emoji != "" {
				option.Emoji = ParseEmoji(emoji)
			}
			menu.Options = append(menu.Options, option)
		}
	}
	return menu, nil
}

// BuildModal builds a modal's title, custom ID, and action-row wrapped
// text inputs from a template name or definition.
func (r *Registry) BuildModal(v any, data map[string]any) (*discordgo.InteractionResponseData, error) {
	def, err := r.resolve(v, r.ModalTemplate)
	if err != nil {
		return nil, err
	}
	out := &discordgo.InteractionResponseData{
		Title:    stringField(def, "title", r.eval, data),
		CustomID: stringField(def, "custom_id", r.eval, data),
	}
	inputs, _ := def["inputs"].([]any)
	if inputs == nil {
		inputs, _ = def["components"].([]any)
	}
	for _, raw := range inputs {
		fieldDef, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		style, ok := textInputStyles[stringField(fieldDef, "style", r.eval, data)]
		if !ok {
			style = discordgo.TextInputShort
		}
		input := discordgo.TextInput{
			CustomID:    stringField(fieldDef, "custom_id", r.eval, data),
			Label:       stringField(fieldDef, "label", r.eval, data),
			Style:       style,
			Placeholder: stringField(fieldDef, "placeholder", r.eval, data),
			Value:       stringField(fieldDef, "value", r.eval, data),
			Required:    boolField(fieldDef, "required"),
		}
		if n, ok := intField(fieldDef, "min_length"); ok {
			input.MinLength = n
		}
		if n, ok := intField(fieldDef, "max_length"); ok {
			input.MaxLength = n
		}
		// Each modal child gets its own action-row envelope.
		out.Components = append(out.Components, discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{input},
		})
	}
	return out, nil
}

// BuildRows builds message components grouped into action rows. Each
// entry is a button or select, by template name or definition; selects
// get a row to themselves, buttons pack five per row.
func (r *Registry) BuildRows(entries []any, data map[string]any) ([]discordgo.MessageComponent, error) {
	var rows []discordgo.MessageComponent
	var buttonRow []discordgo.MessageComponent

	flushButtons := func() {
		if len(buttonRow) > 0 {
			rows = append(rows, discordgo.ActionsRow{Components: buttonRow})
			buttonRow = nil
		}
	}

	for _, entry := range entries {
		if r.isSelect(entry) {
			menu, err := r.BuildSelect(entry, data)
			if err != nil {
				return nil, err
			}
			flushButtons()
			rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{menu}})
			continue
		}
		btn, err := r.BuildButton(entry, data)
		if err != nil {
			return nil, err
		}
		buttonRow = append(buttonRow, btn)
		if len(buttonRow) == 5 {
			flushButtons()
		}
	}
	flushButtons()
	return rows, nil
}

func (r *Registry) isSelect(entry any) bool {
	switch t := entry.(type) {
	case string:
		_, ok := r.SelectTemplate(t)
		return ok
	case map[string]any:
		kind, _ := t["type"].(string)
		_, ok := selectTypes[kind]
		return ok || t["options"] != nil
	}
	return false
}

func stringField(def map[string]any, key string, eval *expr.Evaluator, data map[string]any) string {
	raw, ok := def[key].(string)
	if !ok {
		return ""
	}
	if eval != nil {
		if out, err := eval.Interpolate(raw, data); err == nil {
			return out
		}
	}
	return raw
}

func boolField(def map[string]any, key string) bool {
	b, _ := def[key].(bool)
	return b
}

func intField(def map[string]any, key string) (int, bool) {
	switch v := def[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

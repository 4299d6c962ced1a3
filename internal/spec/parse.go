package spec

import (
	"fmt"
	"strings"
	"time"
)

// Parse converts a decoded raw YAML/JSON tree into a normalized Document.
func Parse(raw map[string]any) (*Document, error) {
	doc := &Document{}
	var err error

	if m := rawMap(raw["identity"]); m != nil {
		doc.Identity = Identity{
			Name:   rawString(m["name"]),
			Status: rawString(m["status"]),
		}
	}
	if m := rawMap(raw["presence"]); m != nil {
		doc.Presence = Presence{
			Status:   rawString(m["status"]),
			Activity: rawString(m["activity"]),
			Type:     rawString(m["type"]),
		}
	}
	if err = parseIntents(raw["intents"], &doc.Intents); err != nil {
		return nil, err
	}
	if doc.Commands, err = parseCommands(raw["commands"]); err != nil {
		return nil, fmt.Errorf("commands: %w", err)
	}
	if doc.ContextMenus, err = parseContextMenus(raw["context_menus"]); err != nil {
		return nil, fmt.Errorf("context_menus: %w", err)
	}
	if doc.Events, err = parseEvents(raw["events"]); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	if doc.Flows, err = parseFlows(raw["flows"]); err != nil {
		return nil, fmt.Errorf("flows: %w", err)
	}
	if err = parseScheduler(raw["scheduler"], &doc.Scheduler); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	if err = parseAutomod(raw["automod"], &doc.Automod); err != nil {
		return nil, fmt.Errorf("automod: %w", err)
	}
	if err = parseComponents(raw["components"], &doc.Components); err != nil {
		return nil, fmt.Errorf("components: %w", err)
	}
	if err = parseState(raw["state"], &doc.State); err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}
	if m := rawMap(raw["voice"]); m != nil {
		doc.Voice = VoiceConfig{
			MaxQueueSize:  rawInt(m["max_queue_size"], 0),
			DefaultVolume: rawInt(m["default_volume"], 0),
		}
	}
	return doc, nil
}

func parseIntents(v any, out *Intents) error {
	switch t := v.(type) {
	case nil:
		out.Mode = "auto"
	case string:
		out.Mode = strings.ToLower(strings.TrimSpace(t))
	case []any:
		out.Mode = "explicit"
		out.Explicit = rawStringList(t)
	case map[string]any:
		out.Mode = strings.ToLower(rawString(t["mode"]))
		out.Explicit = rawStringList(t["explicit"])
		if out.Mode == "" {
			out.Mode = "auto"
		}
	default:
		return fmt.Errorf("%w: intents must be a string, list, or mapping", ErrNormalization)
	}
	return nil
}

func parseCommands(v any) ([]Command, error) {
	records, err := namedRecords(v, "name")
	if err != nil {
		return nil, err
	}
	out := make([]Command, 0, len(records))
	for _, rec := range records {
		cmd, err := parseCommand(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rawString(rec["name"]), err)
		}
		out = append(out, cmd)
	}
	return out, nil
}

func parseCommand(rec map[string]any) (Command, error) {
	cmd := Command{
		Name:        rawString(rec["name"]),
		Description: rawString(rec["description"]),
		Ephemeral:   rawBool(rec["ephemeral"], false),
		GuildID:     rawString(rec["guild_id"]),
	}
	if cmd.Name == "" {
		return cmd, fmt.Errorf("%w: command requires a name", ErrNormalization)
	}
	for _, optRec := range rawMapList(rec["options"]) {
		opt := CommandOption{
			Name:        rawString(optRec["name"]),
			Type:        rawString(optRec["type"]),
			Description: rawString(optRec["description"]),
			Required:    rawBool(optRec["required"], false),
		}
		for _, choiceRec := range rawMapList(optRec["choices"]) {
			opt.Choices = append(opt.Choices, Choice{
				Name:  rawString(choiceRec["name"]),
				Value: choiceRec["value"],
			})
		}
		cmd.Options = append(cmd.Options, opt)
	}
	if subs, ok := rec["subcommands"]; ok {
		parsed, err := parseCommands(subs)
		if err != nil {
			return cmd, fmt.Errorf("subcommands: %w", err)
		}
		cmd.Subcommands = parsed
	}
	actions, err := NormalizeActions(rec["actions"])
	if err != nil {
		return cmd, err
	}
	cmd.Actions = actions
	return cmd, nil
}

func parseContextMenus(v any) ([]ContextMenu, error) {
	records, err := namedRecords(v, "name")
	if err != nil {
		return nil, err
	}
	out := make([]ContextMenu, 0, len(records))
	for _, rec := range records {
		actions, err := NormalizeActions(rec["actions"])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rawString(rec["name"]), err)
		}
		menuType := strings.ToLower(rawString(rec["type"]))
		if menuType == "" {
			menuType = "user"
		}
		out = append(out, ContextMenu{
			Name:    rawString(rec["name"]),
			Type:    menuType,
			Actions: actions,
		})
	}
	return out, nil
}

func parseEvents(v any) ([]EventHandler, error) {
	records, err := namedRecords(v, "event")
	if err != nil {
		return nil, err
	}
	out := make([]EventHandler, 0, len(records))
	for _, rec := range records {
		actions, err := NormalizeActions(rec["actions"])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rawString(rec["event"]), err)
		}
		out = append(out, EventHandler{
			Event:    CanonicalEvent(rawString(rec["event"])),
			When:     rawString(rec["when"]),
			Debounce: rawDuration(rec["debounce"]),
			Throttle: rawDuration(rec["throttle"]),
			Actions:  actions,
		})
	}
	return out, nil
}

func parseFlows(v any) ([]Flow, error) {
	records, err := namedRecords(v, "name")
	if err != nil {
		return nil, err
	}
	out := make([]Flow, 0, len(records))
	for _, rec := range records {
		flow := Flow{
			Name:    rawString(rec["name"]),
			Returns: rawString(rec["returns"]),
		}
		if flow.Name == "" {
			return nil, fmt.Errorf("%w: flow requires a name", ErrNormalization)
		}
		for _, paramRec := range rawMapList(rec["parameters"]) {
			paramType := strings.ToLower(rawString(paramRec["type"]))
			if paramType == "" {
				paramType = "any"
			}
			flow.Parameters = append(flow.Parameters, FlowParam{
				Name:     rawString(paramRec["name"]),
				Type:     paramType,
				Required: rawBool(paramRec["required"], false),
				Default:  paramRec["default"],
			})
		}
		actions, err := NormalizeActions(rec["actions"])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", flow.Name, err)
		}
		flow.Actions = actions
		out = append(out, flow)
	}
	return out, nil
}

func parseScheduler(v any, out *Scheduler) error {
	m := rawMap(v)
	if m == nil {
		return nil
	}
	out.Timezone = rawString(m["timezone"])
	records, err := namedRecords(m["jobs"], "name")
	if err != nil {
		return err
	}
	for _, rec := range records {
		actions, err := NormalizeActions(rec["actions"])
		if err != nil {
			return fmt.Errorf("%s: %w", rawString(rec["name"]), err)
		}
		out.Jobs = append(out.Jobs, Job{
			Name:     rawString(rec["name"]),
			Cron:     rawString(rec["cron"]),
			Timezone: rawString(rec["timezone"]),
			Enabled:  rawBool(rec["enabled"], true),
			When:     rawString(rec["when"]),
			Actions:  actions,
		})
	}
	return nil
}

func parseAutomod(v any, out *Automod) error {
	m := rawMap(v)
	if m == nil {
		return nil
	}
	records, err := namedRecords(m["rules"], "name")
	if err != nil {
		return err
	}
	for _, rec := range records {
		rule := Rule{
			Name:    rawString(rec["name"]),
			Enabled: rawBool(rec["enabled"], true),
			When:    rawString(rec["when"]),
		}
		triggers, err := parseTriggers(rec["trigger"])
		if err != nil {
			return fmt.Errorf("%s: %w", rule.Name, err)
		}
		if len(triggers) == 0 {
			triggers, err = parseTriggers(rec["triggers"])
			if err != nil {
				return fmt.Errorf("%s: %w", rule.Name, err)
			}
		}
		rule.Triggers = triggers
		if exemptMap := rawMap(rec["exempt"]); exemptMap != nil {
			rule.Exempt = Exempt{
				Users:       rawStringList(exemptMap["users"]),
				Roles:       rawStringList(exemptMap["roles"]),
				Channels:    rawStringList(exemptMap["channels"]),
				Permissions: rawStringList(exemptMap["permissions"]),
			}
		}
		if rule.Actions, err = NormalizeActions(rec["actions"]); err != nil {
			return fmt.Errorf("%s: %w", rule.Name, err)
		}
		if rule.Escalation, err = NormalizeActions(rec["escalation"]); err != nil {
			return fmt.Errorf("%s escalation: %w", rule.Name, err)
		}
		out.Rules = append(out.Rules, rule)
	}
	return nil
}

// parseTriggers accepts a single trigger mapping or a list of them. A
// trigger mapping either names its type under "type" or uses the shorthand
// {type: {params}} form, mirroring action shorthand.
func parseTriggers(v any) ([]Trigger, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]Trigger, 0, len(t))
		for _, item := range t {
			parsed, err := parseTriggers(item)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed...)
		}
		return out, nil
	case map[string]any:
		if typeName := rawString(t["type"]); typeName != "" {
			params := make(map[string]any, len(t))
			for k, val := range t {
				if k != "type" {
					params[k] = val
				}
			}
			return []Trigger{{Type: typeName, Params: params}}, nil
		}
		verb, params, err := foldShorthand(t)
		if err != nil {
			return nil, err
		}
		return []Trigger{{Type: verb, Params: params}}, nil
	case string:
		return []Trigger{{Type: t, Params: map[string]any{}}}, nil
	default:
		return nil, fmt.Errorf("%w: trigger must be a mapping or list, got %T", ErrNormalization, v)
	}
}

func parseComponents(v any, out *Components) error {
	m := rawMap(v)
	if m == nil {
		return nil
	}
	var err error
	if out.Buttons, err = parseTemplates(m["buttons"]); err != nil {
		return fmt.Errorf("buttons: %w", err)
	}
	if out.Selects, err = parseTemplates(m["selects"]); err != nil {
		return fmt.Errorf("selects: %w", err)
	}
	if out.Modals, err = parseTemplates(m["modals"]); err != nil {
		return fmt.Errorf("modals: %w", err)
	}
	return nil
}

func parseTemplates(v any) ([]ComponentTemplate, error) {
	records, err := namedRecords(v, "name")
	if err != nil {
		return nil, err
	}
	out := make([]ComponentTemplate, 0, len(records))
	for _, rec := range records {
		tmpl := ComponentTemplate{
			Name:       rawString(rec["name"]),
			Definition: map[string]any{},
		}
		for k, val := range rec {
			if k == "actions" {
				continue
			}
			tmpl.Definition[k] = val
		}
		if tmpl.Actions, err = NormalizeActions(rec["actions"]); err != nil {
			return nil, fmt.Errorf("%s: %w", tmpl.Name, err)
		}
		out = append(out, tmpl)
	}
	return out, nil
}

func parseState(v any, out *State) error {
	m := rawMap(v)
	if m == nil {
		return nil
	}
	varRecords, err := namedRecords(m["variables"], "name")
	if err != nil {
		return err
	}
	for _, rec := range varRecords {
		scope := strings.ToLower(rawString(rec["scope"]))
		if scope == "" {
			scope = "global"
		}
		out.Variables = append(out.Variables, Variable{
			Name:    rawString(rec["name"]),
			Type:    strings.ToLower(rawString(rec["type"])),
			Scope:   scope,
			Default: rec["default"],
		})
	}
	tableRecords, err := namedRecords(m["tables"], "name")
	if err != nil {
		return err
	}
	for _, rec := range tableRecords {
		table := Table{Name: rawString(rec["name"])}
		colRecords, err := namedRecords(rec["columns"], "name")
		if err != nil {
			return fmt.Errorf("%s columns: %w", table.Name, err)
		}
		for _, colRec := range colRecords {
			table.Columns = append(table.Columns, Column{
				Name:    rawString(colRec["name"]),
				Type:    strings.ToLower(rawString(colRec["type"])),
				Primary: rawBool(colRec["primary"], false),
				Unique:  rawBool(colRec["unique"], false),
				Index:   rawBool(colRec["index"], false),
			})
		}
		if idxList, ok := rec["indexes"].([]any); ok {
			for _, idx := range idxList {
				cols := rawStringList(idx)
				if len(cols) > 0 {
					table.Indexes = append(table.Indexes, cols)
				}
			}
		}
		out.Tables = append(out.Tables, table)
	}
	return nil
}

// Raw-tree accessors. YAML decoding hands back any-typed scalars; these fold
// the usual suspects without panicking on surprises.

func rawMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func rawMapList(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func rawString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func rawStringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, rawString(item))
		}
		return out
	case string:
		return []string{t}
	default:
		return []string{rawString(t)}
	}
}

func rawBool(v any, def bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "true", "yes", "on":
			return true
		case "false", "no", "off":
			return false
		}
	}
	return def
}

func rawInt(v any, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		var n int
		if _, err := fmt.Sscanf(t, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

// rawDuration accepts a bare number (milliseconds) or a Go duration string.
func rawDuration(v any) time.Duration {
	switch t := v.(type) {
	case int:
		return time.Duration(t) * time.Millisecond
	case int64:
		return time.Duration(t) * time.Millisecond
	case float64:
		return time.Duration(t) * time.Millisecond
	case string:
		if d, err := time.ParseDuration(t); err == nil {
			return d
		}
	}
	return 0
}

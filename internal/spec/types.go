// Package spec loads and normalizes the declarative bot document: commands,
// event handlers, flows, scheduled jobs, automod rules, component templates,
// state declarations, and voice settings. The loaded tree is immutable; the
// runtime re-loads and swaps wholesale on change.
package spec

import "time"

// Action is one canonical unit of work: a verb plus its parameters. Nested
// action lists inside flow-control verbs are stored in Params as []Action.
type Action struct {
	Verb         string
	Params       map[string]any
	When         string
	ErrorHandler []Action
}

// Param returns a named parameter, nil when absent.
func (a Action) Param(name string) any {
	if a.Params == nil {
		return nil
	}
	return a.Params[name]
}

// StringParam returns a string-typed parameter or the empty string.
func (a Action) StringParam(name string) string {
	if s, ok := a.Param(name).(string); ok {
		return s
	}
	return ""
}

// ActionsParam returns a nested action list parameter.
func (a Action) ActionsParam(name string) []Action {
	if list, ok := a.Param(name).([]Action); ok {
		return list
	}
	return nil
}

// Document is the loaded, normalized spec tree.
type Document struct {
	Identity     Identity
	Presence     Presence
	Intents      Intents
	Commands     []Command
	ContextMenus []ContextMenu
	Events       []EventHandler
	Flows        []Flow
	Scheduler    Scheduler
	Automod      Automod
	Components   Components
	State        State
	Voice        VoiceConfig
}

// Identity configures the bot's public identity.
type Identity struct {
	Name   string
	Status string
}

// Presence configures the gateway presence.
type Presence struct {
	Status   string
	Activity string
	Type     string
}

// Intents declares gateway intents: auto-derived or an explicit list.
type Intents struct {
	Mode     string // "auto" or "explicit"
	Explicit []string
}

// Command is a chat slash command.
type Command struct {
	Name        string
	Description string
	Ephemeral   bool
	GuildID     string
	Options     []CommandOption
	Subcommands []Command
	Actions     []Action
}

// CommandOption is one slash-command option.
type CommandOption struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Choices     []Choice
}

// Choice is a fixed option choice.
type Choice struct {
	Name  string
	Value any
}

// ContextMenu is a user or message context-menu command.
type ContextMenu struct {
	Name    string
	Type    string // "user" or "message"
	Actions []Action
}

// EventHandler binds an action list to a platform or synthetic event.
type EventHandler struct {
	Event    string
	When     string
	Debounce time.Duration
	Throttle time.Duration
	Actions  []Action
}

// Flow is a named, parameterized action sequence invocable via call_flow.
type Flow struct {
	Name       string
	Parameters []FlowParam
	Returns    string
	Actions    []Action
}

// FlowParam declares one typed flow parameter.
type FlowParam struct {
	Name     string
	Type     string // string, number, boolean, array, object, any
	Required bool
	Default  any
}

// Scheduler holds cron jobs.
type Scheduler struct {
	Timezone string
	Jobs     []Job
}

// Job is one cron-scheduled action list.
type Job struct {
	Name     string
	Cron     string
	Timezone string
	Enabled  bool
	When     string
	Actions  []Action
}

// Automod holds content-moderation rules.
type Automod struct {
	Rules []Rule
}

// Rule is one automod rule: triggers, exemptions, follow-up actions.
type Rule struct {
	Name       string
	Enabled    bool
	Triggers   []Trigger
	Exempt     Exempt
	When       string
	Actions    []Action
	Escalation []Action
}

// Trigger is one predicate within a rule.
type Trigger struct {
	Type   string
	Params map[string]any
}

// Exempt lists entities a rule never applies to.
type Exempt struct {
	Users       []string
	Roles       []string
	Channels    []string
	Permissions []string
}

// Components holds named component templates.
type Components struct {
	Buttons []ComponentTemplate
	Selects []ComponentTemplate
	Modals  []ComponentTemplate
}

// ComponentTemplate is a named raw component definition; builders interpolate
// and map it to wire form at use time.
type ComponentTemplate struct {
	Name       string
	Definition map[string]any
	Actions    []Action
}

// State declares persistent variables and tables.
type State struct {
	Variables []Variable
	Tables    []Table
}

// Variable is one scoped named variable.
type Variable struct {
	Name    string
	Type    string
	Scope   string // global, guild, channel, user, member
	Default any
}

// Table declares a storage table.
type Table struct {
	Name    string
	Columns []Column
	Indexes [][]string
}

// Column is one typed table column.
type Column struct {
	Name    string
	Type    string // string, number, boolean, json, timestamp
	Primary bool
	Unique  bool
	Index   bool
}

// VoiceConfig tunes the voice manager.
type VoiceConfig struct {
	MaxQueueSize  int
	DefaultVolume int
}

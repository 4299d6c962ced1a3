// Package interactions routes incoming interactions to their registered
// action lists: slash commands, context menus, and message components.
package interactions

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/platform"
	"github.com/haasonsaas/specbot/internal/spec"
)

// Interaction kinds.
const (
	KindCommand     = "command"
	KindButton      = "button"
	KindSelect      = "select"
	KindModal       = "modal"
	KindUserMenu    = "user_menu"
	KindMessageMenu = "message_menu"
)

const genericErrorReply = "An error occurred while processing this interaction."

// Incoming is one decoded interaction. Name carries the command path
// ("cmd" or "cmd sub"); CustomID carries the component or modal id.
type Incoming struct {
	Kind      string
	Name      string
	CustomID  string
	Data      map[string]any
	Responder platform.Responder
}

type binding struct {
	actions   []spec.Action
	ephemeral bool
}

type wildcard struct {
	prefix  string
	binding *binding
}

// Dispatcher matches interactions to bindings and runs their actions.
// Component custom IDs resolve exact-first, then the earliest-registered
// matching "prefix*" wildcard.
type Dispatcher struct {
	engine *engine.Engine
	logger *slog.Logger

	mu        sync.RWMutex
	commands  map[string]*binding
	userMenus map[string]*binding
	msgMenus  map[string]*binding
	exact     map[string]*binding
	wildcards []wildcard
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates an empty dispatcher over the flow engine.
func NewDispatcher(eng *engine.Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:    eng,
		logger:    slog.Default(),
		commands:  make(map[string]*binding),
		userMenus: make(map[string]*binding),
		msgMenus:  make(map[string]*binding),
		exact:     make(map[string]*binding),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "interactions")
	return d
}

// Register replaces all bindings from the document: commands (including
// subcommand paths), context menus, and component templates that carry
// actions.
func (d *Dispatcher) Register(doc *spec.Document) {
	commands := make(map[string]*binding)
	for _, cmd := range doc.Commands {
		registerCommand(commands, "", cmd)
	}

	userMenus := make(map[string]*binding)
	msgMenus := make(map[string]*binding)
	for _, menu := range doc.ContextMenus {
		b := &binding{actions: menu.Actions}
		if menu.Type == "message" {
			msgMenus[menu.Name] = b
		} else {
			userMenus[menu.Name] = b
		}
	}

	exact := make(map[string]*binding)
	var wildcards []wildcard
	templates := make([]spec.ComponentTemplate, 0,
		len(doc.Components.Buttons)+len(doc.Components.Selects)+len(doc.Components.Modals))
	templates = append(templates, doc.Components.Buttons...)
	templates = append(templates, doc.Components.Selects...)
	templates = append(templates, doc.Components.Modals...)
	for _, tpl := range templates {
		if len(tpl.Actions) == 0 {
			continue
		}
		id, _ := tpl.Definition["custom_id"].(string)
		if id == "" {
			continue
		}
		b := &binding{actions: tpl.Actions}
		if strings.HasSuffix(id, "*") {
			wildcards = append(wildcards, wildcard{prefix: strings.TrimSuffix(id, "*"), binding: b})
		} else {
			exact[id] = b
		}
	}

	d.mu.Lock()
	d.commands = commands
	d.userMenus = userMenus
	d.msgMenus = msgMenus
	d.exact = exact
	d.wildcards = wildcards
	d.mu.Unlock()
}

func registerCommand(into map[string]*binding, prefix string, cmd spec.Command) {
	name := cmd.Name
	if prefix != "" {
		name = prefix + " " + cmd.Name
	}
	if len(cmd.Actions) > 0 {
		into[name] = &binding{actions: cmd.Actions, ephemeral: cmd.Ephemeral}
	}
	for _, sub := range cmd.Subcommands {
		registerCommand(into, name, sub)
	}
}

// Dispatch runs the matched binding's actions. A failure or panic yields
// one generic error reply, only when nothing was sent yet.
func (d *Dispatcher) Dispatch(ctx context.Context, in Incoming) bool {
	b := d.lookup(in)
	if b == nil {
		d.logger.Warn("unmatched interaction", "kind", in.Kind, "name", in.Name, "custom_id", in.CustomID)
		return false
	}

	responder := in.Responder
	if b.ephemeral && responder != nil {
		responder = &ephemeralResponder{inner: responder}
	}
	ac := engine.NewContext(in.Data)
	ac.Responder = responder

	failed := d.run(ctx, b, ac)
	if failed && responder != nil && !responder.Replied() {
		err := responder.Reply(ctx, &platform.Outgoing{Content: genericErrorReply, Ephemeral: true})
		if err != nil {
			d.logger.Error("error reply failed", "error", err)
		}
	}
	return true
}

func (d *Dispatcher) lookup(in Incoming) *binding {
	d.mu.RLock()
	defer d.mu.RUnlock()
	switch in.Kind {
	case KindCommand:
		return d.commands[in.Name]
	case KindUserMenu:
		return d.userMenus[in.Name]
	case KindMessageMenu:
		return d.msgMenus[in.Name]
	case KindButton, KindSelect, KindModal:
		if b, ok := d.exact[in.CustomID]; ok {
			return b
		}
		for _, w := range d.wildcards {
			if strings.HasPrefix(in.CustomID, w.prefix) {
				return w.binding
			}
		}
	}
	return nil
}

// run reports whether any action failed.
func (d *Dispatcher) run(ctx context.Context, b *binding, ac *engine.Context) (failed bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("interaction panic", "panic", r)
			failed = true
		}
	}()
	for _, res := range d.engine.RunActions(ctx, b.actions, ac) {
		if !res.Success {
			d.logger.Error("interaction action failed", "verb", res.Verb, "error", res.Err)
			failed = true
		}
	}
	return failed
}

// ephemeralResponder forces the ephemeral flag on every response, for
// commands declared ephemeral.
type ephemeralResponder struct {
	inner platform.Responder
}

func (r *ephemeralResponder) Reply(ctx context.Context, msg *platform.Outgoing) error {
	out := *msg
	out.Ephemeral = true
	return r.inner.Reply(ctx, &out)
}

func (r *ephemeralResponder) Defer(ctx context.Context, _ bool) error {
	return r.inner.Defer(ctx, true)
}

func (r *ephemeralResponder) Followup(ctx context.Context, msg *platform.Outgoing) error {
	out := *msg
	out.Ephemeral = true
	return r.inner.Followup(ctx, &out)
}

func (r *ephemeralResponder) Replied() bool { return r.inner.Replied() }

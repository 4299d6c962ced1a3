package interactions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/platform"
	"github.com/haasonsaas/specbot/internal/spec"
)

type recorder struct {
	mu    sync.Mutex
	notes []string
}

func (r *recorder) add(note string) {
	r.mu.Lock()
	r.notes = append(r.notes, note)
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notes...)
}

type testResponder struct {
	replies   []*platform.Outgoing
	followups []*platform.Outgoing
	deferred  bool
	replyErr  error
}

func (t *testResponder) Reply(_ context.Context, msg *platform.Outgoing) error {
	if t.replyErr != nil {
		return t.replyErr
	}
	t.replies = append(t.replies, msg)
	return nil
}

func (t *testResponder) Defer(_ context.Context, ephemeral bool) error {
	t.deferred = true
	return nil
}

func (t *testResponder) Followup(_ context.Context, msg *platform.Outgoing) error {
	t.followups = append(t.followups, msg)
	return nil
}

func (t *testResponder) Replied() bool { return t.deferred || len(t.replies) > 0 }

func newTestDispatcher(t *testing.T, rec *recorder) *Dispatcher {
	t.Helper()
	eval := expr.New()
	exec := engine.NewExecutor(eval)
	exec.Register("note", func(_ context.Context, ac *engine.Context, params map[string]any) (any, error) {
		note, _ := params["text"].(string)
		rec.add(note)
		return nil, nil
	})
	exec.Register("answer", func(ctx context.Context, ac *engine.Context, params map[string]any) (any, error) {
		content, _ := params["content"].(string)
		return nil, ac.Responder.Reply(ctx, &platform.Outgoing{Content: content})
	})
	exec.Register("boom", func(_ context.Context, _ *engine.Context, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	return NewDispatcher(engine.New(exec, eval))
}

func testDoc() *spec.Document {
	return &spec.Document{
		Commands: []spec.Command{
			{
				Name:      "echo",
				Ephemeral: false,
				Actions: []spec.Action{
					{Verb: "answer", Params: map[string]any{"content": "You said: ${args.text}"}},
				},
			},
			{
				Name: "config",
				Subcommands: []spec.Command{
					{Name: "show", Actions: []spec.Action{{Verb: "note", Params: map[string]any{"text": "config show"}}}},
				},
			},
			{
				Name:      "whisper",
				Ephemeral: true,
				Actions: []spec.Action{
					{Verb: "answer", Params: map[string]any{"content": "secret"}},
				},
			},
		},
		ContextMenus: []spec.ContextMenu{
			{Name: "Report User", Type: "user", Actions: []spec.Action{{Verb: "note", Params: map[string]any{"text": "report"}}}},
			{Name: "Pin Message", Type: "message", Actions: []spec.Action{{Verb: "note", Params: map[string]any{"text": "pin"}}}},
		},
		Components: spec.Components{
			Buttons: []spec.ComponentTemplate{
				{
					Name:       "claim-exact",
					Definition: map[string]any{"custom_id": "claim:ticket-1"},
					Actions:    []spec.Action{{Verb: "note", Params: map[string]any{"text": "exact"}}},
				},
				{
					Name:       "claim-any",
					Definition: map[string]any{"custom_id": "claim:*"},
					Actions:    []spec.Action{{Verb: "note", Params: map[string]any{"text": "wildcard-1"}}},
				},
				{
					Name:       "claim-late",
					Definition: map[string]any{"custom_id": "cla*"},
					Actions:    []spec.Action{{Verb: "note", Params: map[string]any{"text": "wildcard-2"}}},
				},
			},
			Modals: []spec.ComponentTemplate{
				{
					Name:       "report-modal",
					Definition: map[string]any{"custom_id": "report-form"},
					Actions:    []spec.Action{{Verb: "note", Params: map[string]any{"text": "modal"}}},
				},
			},
		},
	}
}

func TestCommandDispatchInterpolatesArgs(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec)
	d.Register(testDoc())
	resp := &testResponder{}

	handled := d.Dispatch(context.Background(), Incoming{
		Kind:      KindCommand,
		Name:      "echo",
		Data:      map[string]any{"args": map[string]any{"text": "Hello World"}},
		Responder: resp,
	})
	if !handled {
		t.Fatal("echo not handled")
	}
	if len(resp.replies) != 1 || resp.replies[0].Content != "You said: Hello World" {
		t.Fatalf("replies = %+v", resp.replies)
	}
}

func TestSubcommandPath(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec)
	d.Register(testDoc())

	if !d.Dispatch(context.Background(), Incoming{Kind: KindCommand, Name: "config show"}) {
		t.Fatal("subcommand not handled")
	}
	if notes := rec.all(); len(notes) != 1 || notes[0] != "config show" {
		t.Fatalf("notes = %v", notes)
	}
	if d.Dispatch(context.Background(), Incoming{Kind: KindCommand, Name: "config"}) {
		t.Fatal("bare parent command handled despite having no actions")
	}
}

func TestCustomIDExactBeatsWildcard(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec)
	d.Register(testDoc())

	d.Dispatch(context.Background(), Incoming{Kind: KindButton, CustomID: "claim:ticket-1"})
	if notes := rec.all(); len(notes) != 1 || notes[0] != "exact" {
		t.Fatalf("notes = %v", notes)
	}
}

func TestCustomIDFirstWildcardWins(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec)
	d.Register(testDoc())

	// Both claim:* and cla* match; the first registered wins.
	d.Dispatch(context.Background(), Incoming{Kind: KindButton, CustomID: "claim:ticket-99"})
	if notes := rec.all(); len(notes) != 1 || notes[0] != "wildcard-1" {
		t.Fatalf("notes = %v", notes)
	}
}

func TestModalDispatch(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec)
	d.Register(testDoc())

	if !d.Dispatch(context.Background(), Incoming{Kind: KindModal, CustomID: "report-form"}) {
		t.Fatal("modal not handled")
	}
	if notes := rec.all(); len(notes) != 1 || notes[0] != "modal" {
		t.Fatalf("notes = %v", notes)
	}
}

func TestContextMenusSplitByType(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec)
	d.Register(testDoc())

	d.Dispatch(context.Background(), Incoming{Kind: KindUserMenu, Name: "Report User"})
	d.Dispatch(context.Background(), Incoming{Kind: KindMessageMenu, Name: "Pin Message"})
	if d.Dispatch(context.Background(), Incoming{Kind: KindUserMenu, Name: "Pin Message"}) {
		t.Fatal("message menu matched as user menu")
	}
	if notes := rec.all(); len(notes) != 2 || notes[0] != "report" || notes[1] != "pin" {
		t.Fatalf("notes = %v", notes)
	}
}

func TestFailureSendsOneGenericReply(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec)
	doc := testDoc()
	doc.Commands = append(doc.Commands, spec.Command{
		Name:    "broken",
		Actions: []spec.Action{{Verb: "boom"}},
	})
	d.Register(doc)
	resp := &testResponder{}

	d.Dispatch(context.Background(), Incoming{Kind: KindCommand, Name: "broken", Responder: resp})
	if len(resp.replies) != 1 || resp.replies[0].Content != genericErrorReply {
		t.Fatalf("replies = %+v", resp.replies)
	}
	if !resp.replies[0].Ephemeral {
		t.Fatal("generic error reply is not ephemeral")
	}
}

func TestFailureAfterReplyStaysSilent(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec)
	doc := testDoc()
	doc.Commands = append(doc.Commands, spec.Command{
		Name: "half",
		Actions: []spec.Action{
			{Verb: "answer", Params: map[string]any{"content": "partial"}},
			{Verb: "boom"},
		},
	})
	d.Register(doc)
	resp := &testResponder{}

	d.Dispatch(context.Background(), Incoming{Kind: KindCommand, Name: "half", Responder: resp})
	if len(resp.replies) != 1 || resp.replies[0].Content != "partial" {
		t.Fatalf("replies = %+v, want only the real reply", resp.replies)
	}
}

func TestEphemeralCommandForcesFlag(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec)
	d.Register(testDoc())
	resp := &testResponder{}

	d.Dispatch(context.Background(), Incoming{Kind: KindCommand, Name: "whisper", Responder: resp})
	if len(resp.replies) != 1 || !resp.replies[0].Ephemeral {
		t.Fatalf("replies = %+v, want forced ephemeral", resp.replies)
	}
}

func TestRegisterReplacesBindings(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec)
	d.Register(testDoc())
	d.Register(&spec.Document{})

	if d.Dispatch(context.Background(), Incoming{Kind: KindCommand, Name: "echo"}) {
		t.Fatal("stale binding survived re-register")
	}
}

func TestBuildCommands(t *testing.T) {
	doc := testDoc()
	doc.Commands[0].Options = []spec.CommandOption{
		{Name: "text", Type: "string", Description: "what to echo", Required: true},
		{Name: "times", Type: "integer", Choices: []spec.Choice{{Name: "once", Value: 1}}},
	}
	doc.Commands[1].GuildID = "g1"

	byGuild := BuildCommands(doc)
	global := byGuild[""]
	// echo + whisper + two context menus.
	if len(global) != 4 {
		t.Fatalf("global commands = %d", len(global))
	}
	echo := global[0]
	if echo.Name != "echo" || len(echo.Options) != 2 {
		t.Fatalf("echo = %+v", echo)
	}
	if echo.Options[0].Type != discordgo.ApplicationCommandOptionString || !echo.Options[0].Required {
		t.Fatalf("text option = %+v", echo.Options[0])
	}
	if len(echo.Options[1].Choices) != 1 {
		t.Fatalf("times option = %+v", echo.Options[1])
	}

	guild := byGuild["g1"]
	if len(guild) != 1 || guild[0].Name != "config" {
		t.Fatalf("guild commands = %+v", guild)
	}
	if len(guild[0].Options) != 1 || guild[0].Options[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		t.Fatalf("config options = %+v", guild[0].Options)
	}

	var menuTypes []discordgo.ApplicationCommandType
	for _, cmd := range global[2:] {
		menuTypes = append(menuTypes, cmd.Type)
	}
	if menuTypes[0] != discordgo.UserApplicationCommand || menuTypes[1] != discordgo.MessageApplicationCommand {
		t.Fatalf("menu types = %v", menuTypes)
	}
}

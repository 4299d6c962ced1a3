package handlers

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/builders"
	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/platform"
	"github.com/haasonsaas/specbot/internal/spec"
	"github.com/haasonsaas/specbot/internal/state"
	"github.com/haasonsaas/specbot/internal/storage"
	"github.com/haasonsaas/specbot/internal/voice"
)

type call struct {
	method string
	args   []any
}

type fakeClient struct {
	calls []call
	fail  map[string]error
}

func (f *fakeClient) record(method string, args ...any) error {
	f.calls = append(f.calls, call{method: method, args: args})
	if f.fail != nil {
		return f.fail[method]
	}
	return nil
}

func (f *fakeClient) last() call {
	if len(f.calls) == 0 {
		return call{}
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeClient) Start(ctx context.Context) error { return f.record("Start") }
func (f *fakeClient) Stop(ctx context.Context) error  { return f.record("Stop") }
func (f *fakeClient) Subscribe(event string, handler platform.EventHandler) {
	f.record("Subscribe", event)
}

func (f *fakeClient) OnInteraction(handler platform.InteractionHandler) {
	f.record("OnInteraction")
}

func (f *fakeClient) SendMessage(ctx context.Context, channelID string, msg *platform.Outgoing) (string, error) {
	return "msg-1", f.record("SendMessage", channelID, msg)
}

func (f *fakeClient) SendDM(ctx context.Context, userID string, msg *platform.Outgoing) (string, error) {
	return "dm-1", f.record("SendDM", userID, msg)
}

func (f *fakeClient) EditMessage(ctx context.Context, channelID, messageID string, msg *platform.Outgoing) error {
	return f.record("EditMessage", channelID, messageID, msg)
}

func (f *fakeClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return f.record("DeleteMessage", channelID, messageID)
}

func (f *fakeClient) BulkDelete(ctx context.Context, channelID string, messageIDs []string) error {
	return f.record("BulkDelete", channelID, messageIDs)
}

func (f *fakeClient) CreateThread(ctx context.Context, channelID, messageID, name string, archiveMinutes int) (string, error) {
	return "thread-1", f.record("CreateThread", channelID, messageID, name, archiveMinutes)
}

func (f *fakeClient) Kick(ctx context.Context, guildID, userID, reason string) error {
	return f.record("Kick", guildID, userID, reason)
}

func (f *fakeClient) Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error {
	return f.record("Ban", guildID, userID, reason, deleteDays)
}

func (f *fakeClient) Unban(ctx context.Context, guildID, userID string) error {
	return f.record("Unban", guildID, userID)
}

func (f *fakeClient) Timeout(ctx context.Context, guildID, userID string, until *time.Time) error {
	return f.record("Timeout", guildID, userID, until)
}

func (f *fakeClient) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return f.record("AddRole", guildID, userID, roleID)
}

func (f *fakeClient) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return f.record("RemoveRole", guildID, userID, roleID)
}

func (f *fakeClient) RegisterCommands(ctx context.Context, guildID string, commands []*discordgo.ApplicationCommand) error {
	return f.record("RegisterCommands", guildID)
}

func (f *fakeClient) SetPresence(ctx context.Context, status, activityType, activityName string) error {
	return f.record("SetPresence", status, activityType, activityName)
}

type fakeResponder struct {
	replies   []*platform.Outgoing
	followups []*platform.Outgoing
	deferred  bool
}

func (f *fakeResponder) Reply(_ context.Context, msg *platform.Outgoing) error {
	f.replies = append(f.replies, msg)
	return nil
}

func (f *fakeResponder) Defer(_ context.Context, ephemeral bool) error {
	f.deferred = true
	return nil
}

func (f *fakeResponder) Followup(_ context.Context, msg *platform.Outgoing) error {
	f.followups = append(f.followups, msg)
	return nil
}

func (f *fakeResponder) Replied() bool { return f.deferred || len(f.replies) > 0 }

type captureEmitter struct {
	events []string
	ctxs   []*engine.Context
}

func (c *captureEmitter) Emit(_ context.Context, event string, ac *engine.Context) {
	c.events = append(c.events, event)
	c.ctxs = append(c.ctxs, ac)
}

func newTestRig(t *testing.T) (*engine.Executor, *fakeClient, Deps) {
	t.Helper()
	client := &fakeClient{}
	store := storage.NewMemory()
	st := state.NewManager(store, slog.Default())
	deps := Deps{
		Client:   client,
		Store:    store,
		State:    st,
		Builders: builders.NewRegistry(expr.New()),
		Emitter:  &captureEmitter{},
		Logger:   slog.Default(),
	}
	exec := engine.NewExecutor(expr.New())
	RegisterAll(exec, deps)
	return exec, client, deps
}

func run(t *testing.T, exec *engine.Executor, ac *engine.Context, verb string, params map[string]any) engine.Result {
	t.Helper()
	return exec.ExecuteOne(context.Background(), spec.Action{Verb: verb, Params: params}, ac)
}

func TestReplyPrefersResponder(t *testing.T) {
	exec, client, _ := newTestRig(t)
	resp := &fakeResponder{}
	ac := engine.NewContext(map[string]any{"channel_id": "c1"})
	ac.Responder = resp

	res := run(t, exec, ac, "reply", map[string]any{"content": "hello"})
	if !res.Success {
		t.Fatalf("reply failed: %v", res.Err)
	}
	if len(resp.replies) != 1 || resp.replies[0].Content != "hello" {
		t.Fatalf("replies = %+v", resp.replies)
	}
	if len(client.calls) != 0 {
		t.Fatalf("client used despite responder: %v", client.calls)
	}

	res = run(t, exec, ac, "reply", map[string]any{"content": "again"})
	if !res.Success {
		t.Fatalf("second reply failed: %v", res.Err)
	}
	if len(resp.followups) != 1 || resp.followups[0].Content != "again" {
		t.Fatalf("followups = %+v", resp.followups)
	}
}

func TestReplyFallsBackToChannelSend(t *testing.T) {
	exec, client, _ := newTestRig(t)
	ac := engine.NewContext(map[string]any{"channel_id": "c1"})

	res := run(t, exec, ac, "reply", map[string]any{"content": "hi"})
	if !res.Success {
		t.Fatalf("reply failed: %v", res.Err)
	}
	last := client.last()
	if last.method != "SendMessage" || last.args[0] != "c1" {
		t.Fatalf("last call = %+v", last)
	}
}

func TestSendMessageBindsID(t *testing.T) {
	exec, client, _ := newTestRig(t)
	ac := engine.NewContext(nil)

	res := run(t, exec, ac, "send_message", map[string]any{
		"channel": "c9",
		"content": "ping",
		"as":      "sent_id",
	})
	if !res.Success {
		t.Fatalf("send_message failed: %v", res.Err)
	}
	if ac.Data["sent_id"] != "msg-1" {
		t.Fatalf("sent_id = %v", ac.Data["sent_id"])
	}
	if client.last().method != "SendMessage" {
		t.Fatalf("last call = %+v", client.last())
	}
}

func TestSendMessageBuildsEmbed(t *testing.T) {
	exec, client, _ := newTestRig(t)
	ac := engine.NewContext(map[string]any{"user": map[string]any{"name": "alice", "id": "u1"}})

	res := run(t, exec, ac, "send_message", map[string]any{
		"channel": "c1",
		"embed":   map[string]any{"title": "Hi ${user.name}", "color": "blurple"},
	})
	if !res.Success {
		t.Fatalf("send_message failed: %v", res.Err)
	}
	out := client.last().args[1].(*platform.Outgoing)
	if len(out.Embeds) != 1 || out.Embeds[0].Title != "Hi alice" {
		t.Fatalf("embeds = %+v", out.Embeds)
	}
	if out.Embeds[0].Color != 0x5865F2 {
		t.Fatalf("color = %#x", out.Embeds[0].Color)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	exec, _, _ := newTestRig(t)
	ac := engine.NewContext(map[string]any{"channel_id": "c1"})

	res := run(t, exec, ac, "reply", map[string]any{})
	if res.Success {
		t.Fatal("empty message succeeded")
	}
}

func TestDeleteMessageFromContext(t *testing.T) {
	exec, client, _ := newTestRig(t)
	ac := engine.NewContext(map[string]any{
		"channel_id": "c1",
		"message":    map[string]any{"id": "m7"},
	})

	res := run(t, exec, ac, "delete_message", map[string]any{})
	if !res.Success {
		t.Fatalf("delete_message failed: %v", res.Err)
	}
	last := client.last()
	if last.method != "DeleteMessage" || last.args[1] != "m7" {
		t.Fatalf("last call = %+v", last)
	}
}

func TestBulkDeleteWantsMessages(t *testing.T) {
	exec, client, _ := newTestRig(t)
	ac := engine.NewContext(map[string]any{"channel_id": "c1"})

	res := run(t, exec, ac, "bulk_delete", map[string]any{"messages": []any{"a", "b", "c"}})
	if !res.Success {
		t.Fatalf("bulk_delete failed: %v", res.Err)
	}
	if res.Value != float64(3) {
		t.Fatalf("value = %v", res.Value)
	}
	if res := run(t, exec, ac, "bulk_delete", map[string]any{}); res.Success {
		t.Fatal("bulk_delete without messages succeeded")
	}
	_ = client
}

func TestDeferRequiresInteraction(t *testing.T) {
	exec, _, _ := newTestRig(t)
	ac := engine.NewContext(nil)
	if res := run(t, exec, ac, "defer", map[string]any{}); res.Success {
		t.Fatal("defer without responder succeeded")
	}

	resp := &fakeResponder{}
	ac.Responder = resp
	if res := run(t, exec, ac, "defer", map[string]any{"ephemeral": true}); !res.Success {
		t.Fatalf("defer failed: %v", res.Err)
	}
	if !resp.deferred {
		t.Fatal("responder not deferred")
	}
}

func TestModerationTargetsContextUser(t *testing.T) {
	exec, client, _ := newTestRig(t)
	ac := engine.NewContext(map[string]any{
		"guild_id": "g1",
		"user":     map[string]any{"id": "u5"},
	})

	res := run(t, exec, ac, "kick", map[string]any{"reason": "spam"})
	if !res.Success {
		t.Fatalf("kick failed: %v", res.Err)
	}
	last := client.last()
	if last.args[0] != "g1" || last.args[1] != "u5" || last.args[2] != "spam" {
		t.Fatalf("kick args = %+v", last.args)
	}

	res = run(t, exec, ac, "ban", map[string]any{"user": "u9", "delete_days": float64(7)})
	if !res.Success {
		t.Fatalf("ban failed: %v", res.Err)
	}
	last = client.last()
	if last.args[1] != "u9" || last.args[3] != 7 {
		t.Fatalf("ban args = %+v", last.args)
	}
}

func TestTimeoutDuration(t *testing.T) {
	exec, client, _ := newTestRig(t)
	ac := engine.NewContext(map[string]any{"guild_id": "g1", "user_id": "u1"})

	res := run(t, exec, ac, "timeout", map[string]any{"duration": "10m"})
	if !res.Success {
		t.Fatalf("timeout failed: %v", res.Err)
	}
	until := client.last().args[2].(*time.Time)
	if until == nil || time.Until(*until) < 9*time.Minute {
		t.Fatalf("until = %v", until)
	}

	res = run(t, exec, ac, "timeout", map[string]any{})
	if !res.Success {
		t.Fatalf("timeout clear failed: %v", res.Err)
	}
	if cleared := client.last().args[2].(*time.Time); cleared != nil {
		t.Fatalf("clear until = %v", cleared)
	}
}

func TestRoleVerbsRequireRole(t *testing.T) {
	exec, client, _ := newTestRig(t)
	ac := engine.NewContext(map[string]any{"guild_id": "g1", "user_id": "u1"})

	if res := run(t, exec, ac, "add_role", map[string]any{}); res.Success {
		t.Fatal("add_role without role succeeded")
	}
	res := run(t, exec, ac, "add_role", map[string]any{"role": "r2"})
	if !res.Success {
		t.Fatalf("add_role failed: %v", res.Err)
	}
	if client.last().args[2] != "r2" {
		t.Fatalf("args = %+v", client.last().args)
	}
}

func TestSetBindsContextOnly(t *testing.T) {
	exec, _, deps := newTestRig(t)
	ac := engine.NewContext(nil)

	res := run(t, exec, ac, "set", map[string]any{"name": "greeting", "value": "hi"})
	if !res.Success {
		t.Fatalf("set failed: %v", res.Err)
	}
	if ac.Data["greeting"] != "hi" {
		t.Fatalf("context = %v", ac.Data)
	}
	if keys, _ := deps.Store.Keys(context.Background(), "*"); len(keys) != 0 {
		t.Fatalf("set persisted keys %v", keys)
	}
}

func TestSetVariableAndIncrement(t *testing.T) {
	exec, _, deps := newTestRig(t)
	deps.State.Register([]spec.Variable{
		{Name: "points", Type: "number", Scope: "user", Default: float64(0)},
	})
	ac := engine.NewContext(map[string]any{"user_id": "u1"})

	if res := run(t, exec, ac, "set_variable", map[string]any{"name": "points", "value": float64(5)}); !res.Success {
		t.Fatalf("set_variable failed: %v", res.Err)
	}
	res := run(t, exec, ac, "increment", map[string]any{"name": "points", "by": float64(3), "as": "total"})
	if !res.Success {
		t.Fatalf("increment failed: %v", res.Err)
	}
	if res.Value != float64(8) || ac.Data["total"] != float64(8) {
		t.Fatalf("value = %v, total = %v", res.Value, ac.Data["total"])
	}
}

func TestDBVerbsRoundTrip(t *testing.T) {
	exec, _, deps := newTestRig(t)
	err := deps.Store.CreateTable(context.Background(), storage.TableDef{
		Name: "warns",
		Columns: []storage.ColumnDef{
			{Name: "id", Type: "string", Primary: true},
			{Name: "user_id", Type: "string", Index: true},
			{Name: "count", Type: "number"},
		},
	})
	if err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	ac := engine.NewContext(nil)

	for i, id := range []string{"w1", "w2"} {
		res := run(t, exec, ac, "db_insert", map[string]any{
			"table": "warns",
			"data":  map[string]any{"id": id, "user_id": "u1", "count": float64(i + 1)},
		})
		if !res.Success {
			t.Fatalf("db_insert failed: %v", res.Err)
		}
	}

	res := run(t, exec, ac, "db_query", map[string]any{
		"table":    "warns",
		"where":    map[string]any{"user_id": "u1"},
		"order_by": "count DESC",
		"as":       "warns",
	})
	if !res.Success {
		t.Fatalf("db_query failed: %v", res.Err)
	}
	rows := ac.Data["warns"].([]any)
	if len(rows) != 2 || rows[0].(map[string]any)["id"] != "w2" {
		t.Fatalf("rows = %v", rows)
	}

	res = run(t, exec, ac, "db_update", map[string]any{
		"table": "warns",
		"where": map[string]any{"id": "w1"},
		"set":   map[string]any{"count": float64(10)},
	})
	if !res.Success || res.Value != float64(1) {
		t.Fatalf("db_update = %+v", res)
	}

	res = run(t, exec, ac, "db_delete", map[string]any{
		"table": "warns",
		"where": map[string]any{"user_id": "u1"},
	})
	if !res.Success || res.Value != float64(2) {
		t.Fatalf("db_delete = %+v", res)
	}
}

func TestEmitForwardsToRouter(t *testing.T) {
	exec, _, deps := newTestRig(t)
	em := deps.Emitter.(*captureEmitter)
	ac := engine.NewContext(map[string]any{"guild_id": "g1"})

	res := run(t, exec, ac, "emit", map[string]any{
		"event": "giveaway_end",
		"data":  map[string]any{"winner": "u1"},
	})
	if !res.Success {
		t.Fatalf("emit failed: %v", res.Err)
	}
	if len(em.events) != 1 || em.events[0] != "giveaway_end" {
		t.Fatalf("events = %v", em.events)
	}
	if em.ctxs[0].Data["winner"] != "u1" || em.ctxs[0].Data["guild_id"] != "g1" {
		t.Fatalf("emitted ctx = %v", em.ctxs[0].Data)
	}
}

func TestVoiceVerbsWithoutVoice(t *testing.T) {
	exec, _, _ := newTestRig(t)
	ac := engine.NewContext(map[string]any{"guild_id": "g1"})

	for _, verb := range []string{"voice_join", "voice_play", "voice_pause", "queue_add", "voice_volume"} {
		res := run(t, exec, ac, verb, map[string]any{"channel": "c1", "source": "x", "level": float64(50)})
		if res.Success {
			t.Fatalf("%s succeeded without a voice manager", verb)
		}
	}
}

func TestVoiceSearchBindsResults(t *testing.T) {
	deps := Deps{
		Client: &fakeClient{},
		Logger: slog.Default(),
		Search: func(_ context.Context, query string) ([]voice.QueueItem, error) {
			if query != "lofi beats" {
				t.Fatalf("query = %q", query)
			}
			return []voice.QueueItem{
				{URL: "https://tracks.example/1", Title: "Lofi One", Duration: 3 * time.Minute},
			}, nil
		},
	}
	exec := engine.NewExecutor(expr.New())
	RegisterAll(exec, deps)
	ac := engine.NewContext(nil)

	res := run(t, exec, ac, "voice_search", map[string]any{"query": "lofi beats"})
	if !res.Success {
		t.Fatalf("voice_search failed: %v", res.Err)
	}
	tracks := ac.Data["tracks"].([]any)
	if len(tracks) != 1 {
		t.Fatalf("tracks = %v", tracks)
	}
	first := tracks[0].(map[string]any)
	if first["title"] != "Lofi One" || first["duration"] != float64(180000) {
		t.Fatalf("track = %v", first)
	}
}

func TestHandlerErrorsPropagate(t *testing.T) {
	exec, client, _ := newTestRig(t)
	client.fail = map[string]error{"Kick": errors.New("missing permissions")}
	ac := engine.NewContext(map[string]any{"guild_id": "g1", "user_id": "u1"})

	res := run(t, exec, ac, "kick", map[string]any{})
	if res.Success || res.Err == nil {
		t.Fatalf("kick result = %+v", res)
	}
}

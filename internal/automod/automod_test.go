package automod

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/spec"
)

func singleRule(trigger spec.Trigger) []spec.Rule {
	return []spec.Rule{{
		Name:     "test-rule",
		Enabled:  true,
		Triggers: []spec.Trigger{trigger},
	}}
}

func newTestEngine(opts ...Option) *Engine {
	e := New(expr.New(), opts...)
	return e
}

func TestCapsTrigger(t *testing.T) {
	e := newTestEngine()
	e.Register(singleRule(spec.Trigger{Type: "caps"}))

	res := e.Check("THIS IS ALL CAPS MESSAGE", MessageContext{}, nil)
	if res.Passed {
		t.Fatal("all-caps message passed")
	}
	if len(res.Matches) != 1 || !strings.Contains(res.Matches[0].Matched[0], "% caps") {
		t.Fatalf("matches = %+v", res.Matches)
	}

	res = e.Check("mostly lowercase text Here", MessageContext{}, nil)
	if !res.Passed {
		t.Fatal("lowercase message flagged")
	}
	// No letters at all never divides by zero.
	if res := e.Check("1234 !!!", MessageContext{}, nil); !res.Passed {
		t.Fatal("numeric message flagged")
	}
}

func TestKeywordTriggerWithAllowList(t *testing.T) {
	e := newTestEngine()
	e.Register(singleRule(spec.Trigger{
		Type: "keyword",
		Params: map[string]any{
			"keywords": []any{"spoiler"},
			"allowed":  []any{"spoiler-free"},
		},
	}))

	if res := e.Check("huge SPOILER ahead", MessageContext{}, nil); res.Passed {
		t.Fatal("keyword not matched case-insensitively")
	}
	if res := e.Check("this is spoiler-free content", MessageContext{}, nil); !res.Passed {
		t.Fatal("allowed token did not suppress the match")
	}
}

func TestRegexTriggerSkipsUnsafePattern(t *testing.T) {
	e := newTestEngine()
	e.Register(singleRule(spec.Trigger{
		Type: "regex",
		Params: map[string]any{
			"regex": []any{`(a+)+`, `\bbad\w*\b`},
		},
	}))
	res := e.Check("that was badly done", MessageContext{}, nil)
	if res.Passed {
		t.Fatal("safe pattern did not match")
	}
	if res.Matches[0].Matched[0] != "badly" {
		t.Fatalf("matched = %v", res.Matches[0].Matched)
	}
}

func TestLinkTrigger(t *testing.T) {
	e := newTestEngine()
	e.Register(singleRule(spec.Trigger{
		Type:   "link",
		Params: map[string]any{"blocked": []any{"evil.example"}},
	}))
	if res := e.Check("see https://evil.example/page", MessageContext{}, nil); res.Passed {
		t.Fatal("blocked link passed")
	}
	if res := e.Check("see https://good.example/page", MessageContext{}, nil); !res.Passed {
		t.Fatal("unblocked link flagged when only blocked list set")
	}

	e.Register(singleRule(spec.Trigger{
		Type:   "link",
		Params: map[string]any{"allowed": []any{"good.example"}},
	}))
	if res := e.Check("see https://other.example", MessageContext{}, nil); res.Passed {
		t.Fatal("non-allowed link passed")
	}
	if res := e.Check("see https://good.example/ok", MessageContext{}, nil); !res.Passed {
		t.Fatal("allowed link flagged")
	}

	// Neither list: every URL matches.
	e.Register(singleRule(spec.Trigger{Type: "link"}))
	if res := e.Check("see http://anything.example", MessageContext{}, nil); res.Passed {
		t.Fatal("bare link trigger passed a URL")
	}
}

func TestInviteTrigger(t *testing.T) {
	e := newTestEngine()
	e.Register(singleRule(spec.Trigger{Type: "invite"}))
	if res := e.Check("join discord.gg/abc123", MessageContext{}, nil); res.Passed {
		t.Fatal("invite link passed")
	}
	if res := e.Check("join DISCORDAPP.COM/invite/xyz", MessageContext{}, nil); res.Passed {
		t.Fatal("uppercase invite link passed")
	}
	if res := e.Check("no invites here", MessageContext{}, nil); !res.Passed {
		t.Fatal("plain message flagged as invite")
	}
}

func TestMentionAndNewlineSpam(t *testing.T) {
	e := newTestEngine()
	e.Register(singleRule(spec.Trigger{Type: "mention_spam"}))
	if res := e.Check("hi", MessageContext{Mentions: 3, RoleMention: 2}, nil); res.Passed {
		t.Fatal("5 mentions passed at default threshold 5")
	}
	if res := e.Check("hi", MessageContext{Mentions: 4}, nil); !res.Passed {
		t.Fatal("4 mentions flagged at default threshold 5")
	}

	e.Register(singleRule(spec.Trigger{Type: "newline_spam", Params: map[string]any{"threshold": float64(3)}}))
	if res := e.Check("a\nb\nc\nd", MessageContext{}, nil); res.Passed {
		t.Fatal("3 newlines passed at threshold 3")
	}
}

func TestAttachmentTrigger(t *testing.T) {
	e := newTestEngine()
	e.Register(singleRule(spec.Trigger{
		Type:   "attachment",
		Params: map[string]any{"blocked": []any{"exe", ".bat"}},
	}))
	mc := MessageContext{Attachments: []string{"setup.exe", "notes.txt"}}
	res := e.Check("files", mc, nil)
	if res.Passed {
		t.Fatal("blocked extension passed")
	}
	if res.Matches[0].Matched[0] != "setup.exe" {
		t.Fatalf("matched = %v", res.Matches[0].Matched)
	}
}

func TestSpamWindow(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(WithNow(func() time.Time { return clock }))
	e.Register(singleRule(spec.Trigger{
		Type:   "spam",
		Params: map[string]any{"threshold": float64(3), "window": "10s"},
	}))
	mc := MessageContext{GuildID: "g", ChannelID: "c", UserID: "u"}

	for i := 0; i < 2; i++ {
		if res := e.Check("msg", mc, nil); !res.Passed {
			t.Fatalf("message %d flagged below threshold", i+1)
		}
		clock = clock.Add(time.Second)
	}
	if res := e.Check("msg", mc, nil); res.Passed {
		t.Fatal("third message within window passed")
	}

	// Window slides: after the window empties, counting restarts.
	clock = clock.Add(30 * time.Second)
	if res := e.Check("msg", mc, nil); !res.Passed {
		t.Fatal("message after window expiry flagged")
	}
}

func TestSpamWindowsNeverShared(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(WithNow(func() time.Time { return clock }))
	e.Register(singleRule(spec.Trigger{
		Type:   "spam",
		Params: map[string]any{"threshold": float64(2), "window": "10s"},
	}))

	alice := MessageContext{GuildID: "g", ChannelID: "c", UserID: "alice"}
	bob := MessageContext{GuildID: "g", ChannelID: "c", UserID: "bob"}
	if res := e.Check("x", alice, nil); !res.Passed {
		t.Fatal("first alice message flagged")
	}
	if res := e.Check("x", bob, nil); !res.Passed {
		t.Fatal("bob inherited alice's window")
	}
	if res := e.Check("x", alice, nil); res.Passed {
		t.Fatal("second alice message passed at threshold 2")
	}
}

func TestDuplicateCaseFolded(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(WithNow(func() time.Time { return clock }))
	e.Register(singleRule(spec.Trigger{
		Type:   "duplicate",
		Params: map[string]any{"threshold": float64(3), "window": "1m"},
	}))
	mc := MessageContext{GuildID: "g", ChannelID: "c", UserID: "u"}

	variants := []string{"Buy Now", "BUY NOW", "buy now"}
	for i, msg := range variants {
		res := e.Check(msg, mc, nil)
		if i < 2 && !res.Passed {
			t.Fatalf("variant %d flagged early", i)
		}
		if i == 2 && res.Passed {
			t.Fatal("third case-folded duplicate passed")
		}
		clock = clock.Add(time.Second)
	}
}

func TestHistoryBoundedness(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWindowStore(func() time.Time { return clock })
	window := 10 * time.Second
	for i := 0; i < 100; i++ {
		w.record("k", "", window)
		clock = clock.Add(time.Second)
	}
	if got := w.size("k", window); got > 10 {
		t.Fatalf("window holds %d entries, want at most 10", got)
	}
}

func TestExemptions(t *testing.T) {
	e := newTestEngine()
	rules := singleRule(spec.Trigger{Type: "caps"})
	rules[0].Exempt = spec.Exempt{
		Users:       []string{"mod-user"},
		Roles:       []string{"moderator"},
		Channels:    []string{"staff-channel"},
		Permissions: []string{"manage_messages"},
	}
	e.Register(rules)

	content := "ALL CAPS HERE"
	cases := []struct {
		name string
		mc   MessageContext
		want bool
	}{
		{"exempt user", MessageContext{UserID: "mod-user"}, true},
		{"exempt role", MessageContext{Roles: []string{"member", "moderator"}}, true},
		{"exempt channel", MessageContext{ChannelID: "staff-channel"}, true},
		{"exempt permission", MessageContext{Permissions: []string{"Manage_Messages"}}, true},
		{"no exemption", MessageContext{UserID: "someone"}, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Check(content, tt.mc, nil)
			if res.Passed != tt.want {
				t.Fatalf("Passed = %v, want %v", res.Passed, tt.want)
			}
		})
	}
}

func TestDisabledRuleSkipped(t *testing.T) {
	e := newTestEngine()
	e.Register([]spec.Rule{{
		Name:     "off",
		Enabled:  false,
		Triggers: []spec.Trigger{{Type: "caps"}},
	}})
	if res := e.Check("ALL CAPS", MessageContext{}, nil); !res.Passed {
		t.Fatal("disabled rule matched")
	}
}

func TestExecuteActionsFoldsAutomodContext(t *testing.T) {
	eval := expr.New()
	var mu sync.Mutex
	var contents []string
	x := engine.NewExecutor(eval)
	x.Register("reply", func(_ context.Context, _ *engine.Context, params map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		contents = append(contents, params["content"].(string))
		return nil, nil
	})
	eng := engine.New(x, eval)

	e := newTestEngine()
	rule := spec.Rule{
		Name:    "caps-rule",
		Enabled: true,
		Actions: []spec.Action{{Verb: "reply", Params: map[string]any{"content": "rule ${automod.rule} hit via ${automod.trigger}"}}},
	}
	matches := []Match{{Rule: rule, Trigger: spec.Trigger{Type: "caps"}, Matched: []string{"90% caps"}}}
	e.ExecuteActions(context.Background(), matches, engine.NewContext(nil), eng)

	mu.Lock()
	defer mu.Unlock()
	if len(contents) != 1 || contents[0] != "rule caps-rule hit via caps" {
		t.Fatalf("contents = %v", contents)
	}
}

func TestRegisterDuringChecks(t *testing.T) {
	e := newTestEngine()
	e.Register(singleRule(spec.Trigger{Type: "caps"}))
	mc := MessageContext{GuildID: "g", ChannelID: "c", UserID: "u"}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res := e.Check("ALL CAPS MESSAGE", mc, nil)
				if !res.Passed && len(res.Matches) == 0 {
					t.Error("failed check carried no matches")
					return
				}
			}
		}()
	}

	// Reload swaps the whole rule set while checks are in flight.
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			e.Register(singleRule(spec.Trigger{Type: "invite"}))
		} else {
			e.Register(singleRule(spec.Trigger{Type: "caps"}))
		}
	}
	close(stop)
	wg.Wait()
}

func TestRegexTriggerFoldsCase(t *testing.T) {
	e := newTestEngine()
	e.Register(singleRule(spec.Trigger{
		Type:   "regex",
		Params: map[string]any{"regex": []any{`\bfree nitro\b`}},
	}))

	if res := e.Check("FREE NITRO click here", MessageContext{}, nil); res.Passed {
		t.Fatal("uppercase variant passed a lowercase pattern")
	}
	if res := e.Check("free nitro click here", MessageContext{}, nil); res.Passed {
		t.Fatal("exact-case match passed")
	}
}

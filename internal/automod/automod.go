// Package automod evaluates content-moderation rules against incoming
// messages: static triggers (keywords, regex, links, caps) and sliding
// window triggers (spam, duplicate) keyed per guild, channel, and user.
package automod

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/spec"
)

// Default thresholds per trigger type.
const (
	defaultCapsThreshold    = 70
	defaultEmojiThreshold   = 10
	defaultMentionThreshold = 5
	defaultNewlineThreshold = 10
)

// Match is one positive trigger hit.
type Match struct {
	Rule    spec.Rule
	Trigger spec.Trigger
	Matched []string
}

// CheckResult is the outcome of running all rules over one message.
type CheckResult struct {
	Passed  bool
	Matches []Match
}

// MessageContext carries the fields triggers and exemptions consult.
type MessageContext struct {
	GuildID     string
	ChannelID   string
	UserID      string
	Roles       []string
	Permissions []string
	Mentions    int
	RoleMention int
	Attachments []string
}

// Engine holds the rule set and the per-key histories.
type Engine struct {
	eval   *expr.Evaluator
	state  expr.StateReader
	logger *slog.Logger
	now    func() time.Time

	rules    atomic.Pointer[ruleSet]
	history  *windowStore
	patterns *patternCache
}

// ruleSet is an immutable snapshot; Register swaps the pointer so a
// reload never races checks running on event goroutines.
type ruleSet struct {
	rules []spec.Rule
}

// Option configures the automod engine.
type Option func(*Engine)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
			e.history.now = now
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithState attaches the scoped-variable reader for when guards.
func WithState(s expr.StateReader) Option {
	return func(e *Engine) { e.state = s }
}

// New creates an automod engine with no rules.
func New(eval *expr.Evaluator, opts ...Option) *Engine {
	e := &Engine{
		eval:     eval,
		logger:   slog.Default(),
		now:      time.Now,
		history:  newWindowStore(time.Now),
		patterns: newPatternCache(),
	}
	e.rules.Store(&ruleSet{})
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "automod")
	return e
}

// Register replaces the rule set.
func (e *Engine) Register(rules []spec.Rule) {
	e.rules.Store(&ruleSet{rules: rules})
}

// Check evaluates every enabled rule in declared order against the
// message. Exempt entities and false when guards skip a rule entirely.
func (e *Engine) Check(content string, mc MessageContext, data map[string]any) CheckResult {
	result := CheckResult{Passed: true}
	for _, rule := range e.rules.Load().rules {
		if !rule.Enabled {
			continue
		}
		if e.exempt(rule.Exempt, mc) {
			continue
		}
		if rule.When != "" {
			scope := map[string]string{}
			if mc.GuildID != "" {
				scope["guild_id"] = mc.GuildID
			}
			if mc.ChannelID != "" {
				scope["channel_id"] = mc.ChannelID
			}
			if mc.UserID != "" {
				scope["user_id"] = mc.UserID
			}
			val, err := e.eval.EvaluateWithState(rule.When, data, e.state, scope)
			if err != nil {
				e.logger.Warn("rule guard failed", "rule", rule.Name, "error", err)
				continue
			}
			if !expr.Truthy(val) {
				continue
			}
		}
		for _, trigger := range rule.Triggers {
			matched, tokens := e.evalTrigger(trigger, content, mc)
			if matched {
				result.Passed = false
				result.Matches = append(result.Matches, Match{Rule: rule, Trigger: trigger, Matched: tokens})
			}
		}
	}
	return result
}

// ExecuteActions runs each matched rule's actions with the automod
// context folded in.
func (e *Engine) ExecuteActions(ctx context.Context, matches []Match, ac *engine.Context, eng *engine.Engine) {
	for _, m := range matches {
		child := ac.Child(map[string]any{
			"automod": map[string]any{
				"rule":    m.Rule.Name,
				"trigger": m.Trigger.Type,
				"matched": toAnySlice(m.Matched),
			},
		})
		actions, err := spec.NormalizeActions(m.Rule.Actions)
		if err != nil {
			e.logger.Warn("rule actions invalid", "rule", m.Rule.Name, "error", err)
			continue
		}
		results := eng.RunActions(ctx, actions, child)
		for _, res := range results {
			if res.Err != nil {
				e.logger.Warn("rule action failed", "rule", m.Rule.Name, "verb", res.Verb, "error", res.Err)
			}
		}
	}
}

func (e *Engine) exempt(ex spec.Exempt, mc MessageContext) bool {
	for _, u := range ex.Users {
		if u == mc.UserID {
			return true
		}
	}
	for _, role := range ex.Roles {
		for _, held := range mc.Roles {
			if role == held {
				return true
			}
		}
	}
	for _, ch := range ex.Channels {
		if ch == mc.ChannelID {
			return true
		}
	}
	for _, perm := range ex.Permissions {
		for _, held := range mc.Permissions {
			if strings.EqualFold(perm, held) {
				return true
			}
		}
	}
	return false
}

func (e *Engine) evalTrigger(trigger spec.Trigger, content string, mc MessageContext) (bool, []string) {
	switch trigger.Type {
	case "keyword":
		return matchKeyword(trigger.Params, content)
	case "regex":
		return e.matchRegex(trigger.Params, content)
	case "link":
		return matchLink(trigger.Params, content)
	case "invite":
		return matchInvite(content)
	case "caps":
		return matchCaps(trigger.Params, content)
	case "emoji_spam":
		return matchEmojiSpam(trigger.Params, content)
	case "mention_spam":
		return matchMentionSpam(trigger.Params, mc)
	case "newline_spam":
		return matchNewlineSpam(trigger.Params, content)
	case "attachment":
		return matchAttachment(trigger.Params, mc)
	case "spam":
		return e.matchSpam(trigger.Params, mc)
	case "duplicate":
		return e.matchDuplicate(trigger.Params, content, mc)
	default:
		e.logger.Warn("unknown trigger type", "type", trigger.Type)
		return false, nil
	}
}

func (e *Engine) matchSpam(params map[string]any, mc MessageContext) (bool, []string) {
	threshold := intParam(params, "threshold", 0)
	window := durationParam(params, "window", 0)
	if threshold <= 0 || window <= 0 {
		return false, nil
	}
	key := windowKey(mc)
	count := e.history.record(key, "", window)
	if count >= threshold {
		return true, []string{fmt.Sprintf("%d messages in %s", count, window)}
	}
	return false, nil
}

func (e *Engine) matchDuplicate(params map[string]any, content string, mc MessageContext) (bool, []string) {
	threshold := intParam(params, "threshold", 0)
	window := durationParam(params, "window", time.Minute)
	if threshold <= 0 {
		return false, nil
	}
	folded := strings.ToLower(strings.TrimSpace(content))
	if folded == "" {
		return false, nil
	}
	key := windowKey(mc) + ":dup"
	count := e.history.recordText(key, folded, window)
	if count >= threshold {
		return true, []string{fmt.Sprintf("repeated %d times: %s", count, truncateToken(folded))}
	}
	return false, nil
}

func windowKey(mc MessageContext) string {
	return mc.GuildID + ":" + mc.ChannelID + ":" + mc.UserID
}

func truncateToken(s string) string {
	if len(s) > 50 {
		return s[:50] + "..."
	}
	return s
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func durationParam(params map[string]any, key string, def time.Duration) time.Duration {
	switch v := params[key].(type) {
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func stringsParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

package automod

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/haasonsaas/specbot/internal/expr"
)

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s<>]+`)
	invitePattern = regexp.MustCompile(`(?i)(?:discord\.gg/|discordapp\.com/invite/)[A-Za-z0-9-]+`)
	// Custom platform emoji plus common unicode emoji blocks.
	emojiPattern = regexp.MustCompile(`<a?:\w+:\d+>|[\x{1F300}-\x{1FAFF}]|[\x{2600}-\x{27BF}]|[\x{1F1E6}-\x{1F1FF}]`)
)

// patternCache memoizes compiled automod regexes; rules re-check every
// message, so compiling per check would dominate.
type patternCache struct {
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
	rejected map[string]bool
}

func newPatternCache() *patternCache {
	return &patternCache{
		compiled: make(map[string]*regexp.Regexp),
		rejected: make(map[string]bool),
	}
}

func (c *patternCache) get(pattern string) *regexp.Regexp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejected[pattern] {
		return nil
	}
	if re, ok := c.compiled[pattern]; ok {
		return re
	}
	// Moderation patterns fold case.
	re := expr.CompilePattern("(?i)" + pattern)
	if re == nil {
		c.rejected[pattern] = true
		return nil
	}
	c.compiled[pattern] = re
	return re
}

func matchKeyword(params map[string]any, content string) (bool, []string) {
	keywords := stringsParam(params, "keywords")
	allowed := stringsParam(params, "allowed")
	lower := strings.ToLower(content)
	for _, token := range allowed {
		if strings.Contains(lower, strings.ToLower(token)) {
			return false, nil
		}
	}
	var hits []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			hits = append(hits, kw)
		}
	}
	return len(hits) > 0, hits
}

func (e *Engine) matchRegex(params map[string]any, content string) (bool, []string) {
	var hits []string
	for _, pattern := range stringsParam(params, "regex") {
		re := e.patterns.get(pattern)
		if re == nil {
			e.logger.Warn("regex trigger pattern skipped", "pattern", pattern)
			continue
		}
		hits = append(hits, re.FindAllString(content, -1)...)
	}
	return len(hits) > 0, hits
}

func matchLink(params map[string]any, content string) (bool, []string) {
	blocked := stringsParam(params, "blocked")
	allowed := stringsParam(params, "allowed")
	urls := urlPattern.FindAllString(content, -1)
	var hits []string
	for _, url := range urls {
		lower := strings.ToLower(url)
		if containsAny(lower, blocked) {
			hits = append(hits, url)
			continue
		}
		if len(allowed) > 0 {
			if !containsAny(lower, allowed) {
				hits = append(hits, url)
			}
			continue
		}
		if len(blocked) == 0 {
			hits = append(hits, url)
		}
	}
	return len(hits) > 0, hits
}

func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if token != "" && strings.Contains(s, strings.ToLower(token)) {
			return true
		}
	}
	return false
}

func matchInvite(content string) (bool, []string) {
	hits := invitePattern.FindAllString(content, -1)
	return len(hits) > 0, hits
}

func matchCaps(params map[string]any, content string) (bool, []string) {
	threshold := intParam(params, "threshold", defaultCapsThreshold)
	letters, uppers := 0, 0
	for _, r := range content {
		if r >= 'a' && r <= 'z' {
			letters++
		} else if r >= 'A' && r <= 'Z' {
			letters++
			uppers++
		}
	}
	if letters == 0 {
		return false, nil
	}
	pct := uppers * 100 / letters
	if pct >= threshold {
		return true, []string{fmt.Sprintf("%d%% caps", pct)}
	}
	return false, nil
}

func matchEmojiSpam(params map[string]any, content string) (bool, []string) {
	threshold := intParam(params, "threshold", defaultEmojiThreshold)
	count := len(emojiPattern.FindAllString(content, -1))
	if count >= threshold {
		return true, []string{fmt.Sprintf("%d emoji", count)}
	}
	return false, nil
}

func matchMentionSpam(params map[string]any, mc MessageContext) (bool, []string) {
	threshold := intParam(params, "threshold", defaultMentionThreshold)
	count := mc.Mentions + mc.RoleMention
	if count >= threshold {
		return true, []string{fmt.Sprintf("%d mentions", count)}
	}
	return false, nil
}

func matchNewlineSpam(params map[string]any, content string) (bool, []string) {
	threshold := intParam(params, "threshold", defaultNewlineThreshold)
	count := strings.Count(content, "\n")
	if count >= threshold {
		return true, []string{fmt.Sprintf("%d newlines", count)}
	}
	return false, nil
}

func matchAttachment(params map[string]any, mc MessageContext) (bool, []string) {
	if len(mc.Attachments) == 0 {
		return false, nil
	}
	blocked := stringsParam(params, "blocked")
	allowed := stringsParam(params, "allowed")
	threshold := intParam(params, "threshold", 0)

	var hits []string
	for _, name := range mc.Attachments {
		ext := strings.ToLower(extension(name))
		if len(blocked) > 0 && containsExt(blocked, ext) {
			hits = append(hits, name)
			continue
		}
		if len(allowed) > 0 && !containsExt(allowed, ext) {
			hits = append(hits, name)
		}
	}
	if threshold > 0 && len(mc.Attachments) > threshold {
		hits = append(hits, fmt.Sprintf("%d attachments", len(mc.Attachments)))
	}
	return len(hits) > 0, hits
}

func extension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

func containsExt(list []string, ext string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimPrefix(item, "."), ext) {
			return true
		}
	}
	return false
}

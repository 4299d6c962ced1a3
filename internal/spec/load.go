package spec

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a spec document from disk. Environment references like
// ${DISCORD_TOKEN} that name a set variable are expanded before parsing;
// unset names pass through untouched so expression interpolation keeps
// working.
func Load(path string) (*Document, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("spec path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and normalizes a spec document from raw YAML or JSON.
func LoadBytes(data []byte) (*Document, error) {
	expanded := expandEnv(string(data))
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNormalization, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// envRef matches ${NAME} in conventional env-var spelling. The spec's own
// expressions use lowercase identifiers and dots, so they never collide.
var envRef = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// expandEnv substitutes ${NAME} for set environment variables; unset names
// pass through untouched.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

package expr

import (
	"fmt"
	"strings"
)

// Interpolate replaces every ${expr} in template with the stringified result
// of evaluating expr against ctx. Characters outside ${...} pass through
// unchanged. An unbalanced ${ fails with ErrExpression.
func (e *Evaluator) Interpolate(template string, ctx map[string]any) (string, error) {
	if !strings.Contains(template, "${") {
		return template, nil
	}
	var sb strings.Builder
	i := 0
	for i < len(template) {
		start := strings.Index(template[i:], "${")
		if start < 0 {
			sb.WriteString(template[i:])
			break
		}
		sb.WriteString(template[i : i+start])
		exprStart := i + start + 2

		// Scan for the matching close brace, honoring nested braces from
		// object literals and quoted strings.
		depth := 1
		j := exprStart
		var quote byte
		for j < len(template) {
			ch := template[j]
			if quote != 0 {
				if ch == '\\' {
					j += 2
					continue
				}
				if ch == quote {
					quote = 0
				}
				j++
				continue
			}
			switch ch {
			case '\'', '"':
				quote = ch
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					goto closed
				}
			}
			j++
		}
		return "", fmt.Errorf("%w: unbalanced braces in %q", ErrExpression, template)

	closed:
		val, err := e.Evaluate(template[exprStart:j], ctx)
		if err != nil {
			return "", err
		}
		sb.WriteString(Stringify(val))
		i = j + 1
	}
	return sb.String(), nil
}

// InterpolateValue walks a decoded YAML/JSON value, interpolating every
// string it contains. Non-string leaves pass through untouched. A string
// that is exactly one ${expr} keeps the evaluated value's type instead of
// stringifying it.
func (e *Evaluator) InterpolateValue(v any, ctx map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		if isSingleExpression(t) {
			return e.Evaluate(t, ctx)
		}
		return e.Interpolate(t, ctx)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			iv, err := e.InterpolateValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = iv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			iv, err := e.InterpolateValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = iv
		}
		return out, nil
	default:
		return v, nil
	}
}

// isSingleExpression reports whether s is exactly one ${...} wrapper.
func isSingleExpression(s string) bool {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return false
	}
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i == len(s)-1
			}
		}
	}
	return false
}

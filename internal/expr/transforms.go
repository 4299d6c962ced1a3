package expr

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// transformFunc applies one pipe transform: value | name:arg1:arg2.
type transformFunc func(e *Evaluator, v any, args []any) (any, error)

func (e *Evaluator) applyTransform(name string, v any, args []any) (any, error) {
	fn, ok := transforms[name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	return fn(e, v, args)
}

func argString(args []any, i int, def string) string {
	if i < len(args) && args[i] != nil {
		return Stringify(args[i])
	}
	return def
}

func argFloat(args []any, i int, def float64) float64 {
	if i < len(args) {
		if f, ok := toFloat(args[i]); ok {
			return f
		}
	}
	return def
}

func asArray(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return nil
	default:
		return []any{v}
	}
}

var transforms = map[string]transformFunc{
	// String transforms.
	"lower": func(_ *Evaluator, v any, _ []any) (any, error) {
		return strings.ToLower(Stringify(v)), nil
	},
	"upper": func(_ *Evaluator, v any, _ []any) (any, error) {
		return strings.ToUpper(Stringify(v)), nil
	},
	"capitalize": func(_ *Evaluator, v any, _ []any) (any, error) {
		s := Stringify(v)
		if s == "" {
			return s, nil
		}
		return strings.ToUpper(s[:1]) + s[1:], nil
	},
	"trim": func(_ *Evaluator, v any, _ []any) (any, error) {
		return strings.TrimSpace(Stringify(v)), nil
	},
	"truncate": func(_ *Evaluator, v any, args []any) (any, error) {
		s := Stringify(v)
		n := int(argFloat(args, 0, 50))
		suffix := argString(args, 1, "...")
		if n < 0 {
			n = 0
		}
		if len(s) <= n {
			return s, nil
		}
		return s[:n] + suffix, nil
	},
	"split": func(_ *Evaluator, v any, args []any) (any, error) {
		sep := argString(args, 0, ",")
		parts := strings.Split(Stringify(v), sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	},
	"replace": func(_ *Evaluator, v any, args []any) (any, error) {
		s := Stringify(v)
		search := argString(args, 0, "")
		repl := argString(args, 1, "")
		if search == "" {
			return s, nil
		}
		if re := CompilePattern(search); re != nil {
			return re.ReplaceAllString(s, repl), nil
		}
		return strings.ReplaceAll(s, search, repl), nil
	},
	"padStart": func(_ *Evaluator, v any, args []any) (any, error) {
		return pad(Stringify(v), args, true), nil
	},
	"padEnd": func(_ *Evaluator, v any, args []any) (any, error) {
		return pad(Stringify(v), args, false), nil
	},
	"includes": func(_ *Evaluator, v any, args []any) (any, error) {
		return containsValue(v, argString(args, 0, "")), nil
	},
	"contains": func(_ *Evaluator, v any, args []any) (any, error) {
		return containsValue(v, argString(args, 0, "")), nil
	},
	"startsWith": func(_ *Evaluator, v any, args []any) (any, error) {
		return strings.HasPrefix(Stringify(v), argString(args, 0, "")), nil
	},
	"endsWith": func(_ *Evaluator, v any, args []any) (any, error) {
		return strings.HasSuffix(Stringify(v), argString(args, 0, "")), nil
	},

	// Array transforms.
	"join": func(_ *Evaluator, v any, args []any) (any, error) {
		sep := argString(args, 0, ", ")
		items := asArray(v)
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = Stringify(item)
		}
		return strings.Join(parts, sep), nil
	},
	"first": func(_ *Evaluator, v any, _ []any) (any, error) {
		items := asArray(v)
		if len(items) == 0 {
			return nil, nil
		}
		return items[0], nil
	},
	"last": func(_ *Evaluator, v any, _ []any) (any, error) {
		items := asArray(v)
		if len(items) == 0 {
			return nil, nil
		}
		return items[len(items)-1], nil
	},
	"nth": func(_ *Evaluator, v any, args []any) (any, error) {
		items := asArray(v)
		n := int(argFloat(args, 0, 0))
		if n < 0 {
			n += len(items)
		}
		if n < 0 || n >= len(items) {
			return nil, nil
		}
		return items[n], nil
	},
	"slice": func(_ *Evaluator, v any, args []any) (any, error) {
		items := asArray(v)
		a := int(argFloat(args, 0, 0))
		b := len(items)
		if len(args) > 1 {
			b = int(argFloat(args, 1, float64(b)))
		}
		a, b = clampRange(a, b, len(items))
		out := make([]any, b-a)
		copy(out, items[a:b])
		return out, nil
	},
	"reverse": func(_ *Evaluator, v any, _ []any) (any, error) {
		items := asArray(v)
		out := make([]any, len(items))
		for i, item := range items {
			out[len(items)-1-i] = item
		}
		return out, nil
	},
	"sort": func(_ *Evaluator, v any, args []any) (any, error) {
		items := asArray(v)
		out := make([]any, len(items))
		copy(out, items)
		key := argString(args, 0, "")
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if key != "" {
				a, b = member(a, key), member(b, key)
			}
			if af, aok := toFloat(a); aok {
				if bf, bok := toFloat(b); bok {
					return af < bf
				}
			}
			return Stringify(a) < Stringify(b)
		})
		return out, nil
	},
	"unique": func(_ *Evaluator, v any, _ []any) (any, error) {
		items := asArray(v)
		seen := make(map[string]bool, len(items))
		out := make([]any, 0, len(items))
		for _, item := range items {
			k := safeJSON(item)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, item)
		}
		return out, nil
	},
	"flatten": func(_ *Evaluator, v any, _ []any) (any, error) {
		items := asArray(v)
		out := make([]any, 0, len(items))
		for _, item := range items {
			if inner, ok := item.([]any); ok {
				out = append(out, inner...)
				continue
			}
			out = append(out, item)
		}
		return out, nil
	},
	"filter": func(_ *Evaluator, v any, args []any) (any, error) {
		items := asArray(v)
		key := argString(args, 0, "")
		var want any
		if len(args) > 1 {
			want = args[1]
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			got := member(item, key)
			if len(args) > 1 {
				if looseEqual(got, want) {
					out = append(out, item)
				}
			} else if Truthy(got) {
				out = append(out, item)
			}
		}
		return out, nil
	},
	"map": func(_ *Evaluator, v any, args []any) (any, error) {
		return pluck(v, argString(args, 0, "")), nil
	},
	"pluck": func(_ *Evaluator, v any, args []any) (any, error) {
		return pluck(v, argString(args, 0, "")), nil
	},
	"pick": func(_ *Evaluator, v any, _ []any) (any, error) {
		items := asArray(v)
		if len(items) == 0 {
			return nil, nil
		}
		return items[rand.Intn(len(items))], nil
	},
	"shuffle": func(_ *Evaluator, v any, _ []any) (any, error) {
		items := asArray(v)
		out := make([]any, len(items))
		copy(out, items)
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out, nil
	},

	// Number transforms.
	"round": func(_ *Evaluator, v any, args []any) (any, error) {
		f, _ := toFloat(v)
		digits := argFloat(args, 0, 0)
		scale := math.Pow(10, digits)
		return math.Round(f*scale) / scale, nil
	},
	"floor": func(_ *Evaluator, v any, _ []any) (any, error) {
		f, _ := toFloat(v)
		return math.Floor(f), nil
	},
	"ceil": func(_ *Evaluator, v any, _ []any) (any, error) {
		f, _ := toFloat(v)
		return math.Ceil(f), nil
	},
	"abs": func(_ *Evaluator, v any, _ []any) (any, error) {
		f, _ := toFloat(v)
		return math.Abs(f), nil
	},
	"format": func(_ *Evaluator, v any, args []any) (any, error) {
		f, _ := toFloat(v)
		locale := argString(args, 0, "en-US")
		tag, err := language.Parse(locale)
		if err != nil {
			tag = language.AmericanEnglish
		}
		return message.NewPrinter(tag).Sprint(number.Decimal(f)), nil
	},
	"ordinal": func(_ *Evaluator, v any, _ []any) (any, error) {
		f, _ := toFloat(v)
		n := int(f)
		return ordinal(n), nil
	},

	// Object transforms.
	"keys": func(_ *Evaluator, v any, _ []any) (any, error) {
		m, ok := v.(map[string]any)
		if !ok {
			return []any{}, nil
		}
		out := make([]any, 0, len(m))
		for _, k := range sortedKeys(m) {
			out = append(out, k)
		}
		return out, nil
	},
	"values": func(_ *Evaluator, v any, _ []any) (any, error) {
		m, ok := v.(map[string]any)
		if !ok {
			return []any{}, nil
		}
		out := make([]any, 0, len(m))
		for _, k := range sortedKeys(m) {
			out = append(out, m[k])
		}
		return out, nil
	},
	"entries": func(_ *Evaluator, v any, _ []any) (any, error) {
		m, ok := v.(map[string]any)
		if !ok {
			return []any{}, nil
		}
		out := make([]any, 0, len(m))
		for _, k := range sortedKeys(m) {
			out = append(out, map[string]any{"key": k, "value": m[k]})
		}
		return out, nil
	},
	"get": func(_ *Evaluator, v any, args []any) (any, error) {
		path := argString(args, 0, "")
		cur := v
		for _, part := range strings.Split(path, ".") {
			if part == "" {
				continue
			}
			if idx, err := strconv.Atoi(part); err == nil {
				if arr, ok := cur.([]any); ok {
					if idx < 0 || idx >= len(arr) {
						cur = nil
						break
					}
					cur = arr[idx]
					continue
				}
			}
			cur = member(cur, part)
			if cur == nil {
				break
			}
		}
		if cur == nil && len(args) > 1 {
			return args[1], nil
		}
		return cur, nil
	},

	// Type coercion.
	"string": func(_ *Evaluator, v any, _ []any) (any, error) {
		return Stringify(v), nil
	},
	"number": func(_ *Evaluator, v any, _ []any) (any, error) {
		f, _ := toFloat(v)
		return f, nil
	},
	"int": func(_ *Evaluator, v any, _ []any) (any, error) {
		f, _ := toFloat(v)
		return math.Trunc(f), nil
	},
	"float": func(_ *Evaluator, v any, _ []any) (any, error) {
		f, _ := toFloat(v)
		return f, nil
	},
	"boolean": func(_ *Evaluator, v any, _ []any) (any, error) {
		return Truthy(v), nil
	},
	"json": func(_ *Evaluator, v any, _ []any) (any, error) {
		return safeJSON(v), nil
	},

	// Utility.
	"default": func(_ *Evaluator, v any, args []any) (any, error) {
		if v == nil || v == "" {
			if len(args) > 0 {
				return args[0], nil
			}
			return nil, nil
		}
		return v, nil
	},
	"length": func(_ *Evaluator, v any, _ []any) (any, error) {
		return sizeOf(v), nil
	},
	"size": func(_ *Evaluator, v any, _ []any) (any, error) {
		return sizeOf(v), nil
	},

	// Date transforms.
	"timestamp": func(e *Evaluator, v any, args []any) (any, error) {
		sec := toEpochSeconds(v, e.now)
		format := argString(args, 0, "")
		if format == "" {
			return float64(sec), nil
		}
		marker, ok := timestampMarkers[format]
		if !ok {
			return float64(sec), nil
		}
		return fmt.Sprintf("<t:%d:%s>", sec, marker), nil
	},
	"duration": func(_ *Evaluator, v any, _ []any) (any, error) {
		ms, _ := toFloat(v)
		return humanizeDuration(time.Duration(ms) * time.Millisecond), nil
	},

	// Platform transforms.
	"mention": func(_ *Evaluator, v any, args []any) (any, error) {
		id := Stringify(v)
		switch argString(args, 0, "user") {
		case "role":
			return "<@&" + id + ">", nil
		case "channel":
			return "<#" + id + ">", nil
		case "emoji":
			return "<:emoji:" + id + ">", nil
		default:
			return "<@" + id + ">", nil
		}
	},
	"pluralize": func(_ *Evaluator, v any, args []any) (any, error) {
		count, _ := toFloat(v)
		singular := argString(args, 0, "")
		plural := argString(args, 1, "")
		if plural == "" {
			plural = singular + "s"
		}
		if count == 1 {
			return singular, nil
		}
		return plural, nil
	},
}

// timestampMarkers maps friendly format names to Discord timestamp styles.
var timestampMarkers = map[string]string{
	"short_time":     "t",
	"long_time":      "T",
	"short_date":     "d",
	"long_date":      "D",
	"short_datetime": "f",
	"long_datetime":  "F",
	"relative":       "R",
}

func pad(s string, args []any, start bool) string {
	n := int(argFloat(args, 0, 0))
	ch := argString(args, 1, " ")
	if ch == "" {
		ch = " "
	}
	for len(s) < n {
		if start {
			s = ch + s
		} else {
			s = s + ch
		}
	}
	if len(s) > n && n > 0 {
		// Overshoot from multi-byte pad strings is trimmed on the pad side.
		if start {
			s = s[len(s)-n:]
		} else {
			s = s[:n]
		}
	}
	return s
}

func containsValue(v any, needle string) bool {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if Stringify(item) == needle {
				return true
			}
		}
		return false
	default:
		return strings.Contains(Stringify(v), needle)
	}
}

func pluck(v any, key string) []any {
	items := asArray(v)
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, member(item, key))
	}
	return out
}

func clampRange(a, b, n int) (int, int) {
	if a < 0 {
		a += n
	}
	if b < 0 {
		b += n
	}
	if a < 0 {
		a = 0
	}
	if b > n {
		b = n
	}
	if a > b {
		a = b
	}
	return a, b
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sizeOf(v any) float64 {
	switch t := v.(type) {
	case string:
		return float64(len(t))
	case []any:
		return float64(len(t))
	case map[string]any:
		return float64(len(t))
	case nil:
		return 0
	default:
		return float64(len(Stringify(v)))
	}
}

func ordinal(n int) string {
	suffix := "th"
	if m := n % 100; m < 11 || m > 13 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

func humanizeDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	days := int64(d.Hours()) / 24
	hours := int64(d.Hours()) % 24
	mins := int64(d.Minutes()) % 60
	secs := int64(d.Seconds()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

func toEpochSeconds(v any, now func() time.Time) int64 {
	switch t := v.(type) {
	case time.Time:
		return t.Unix()
	case nil:
		return now().Unix()
	default:
		f, ok := toFloat(v)
		if !ok {
			return now().Unix()
		}
		// Millisecond inputs are the common case for stored timestamps.
		if f > 1e11 {
			return int64(f / 1000)
		}
		return int64(f)
	}
}

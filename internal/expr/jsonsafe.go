package expr

import (
	"math/big"
	"reflect"
	"strconv"
	"strings"
)

// safeJSON stringifies a value as JSON. Unlike encoding/json it tolerates
// cyclic graphs (emitting the literal "[Circular]") and renders big integers
// as decimal strings, so interpolation never fails on a weird context value.
func safeJSON(v any) string {
	var sb strings.Builder
	writeJSON(&sb, v, map[uintptr]bool{})
	return sb.String()
}

func writeJSON(sb *strings.Builder, v any, seen map[uintptr]bool) {
	switch t := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(t))
	case string:
		sb.WriteString(strconv.Quote(t))
	case float64:
		sb.WriteString(formatNumber(t))
	case float32:
		sb.WriteString(formatNumber(float64(t)))
	case int:
		sb.WriteString(strconv.Itoa(t))
	case int64:
		sb.WriteString(strconv.FormatInt(t, 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(t, 10))
	case *big.Int:
		sb.WriteString(strconv.Quote(t.String()))
	case []any:
		ptr := reflect.ValueOf(t).Pointer()
		if seen[ptr] {
			sb.WriteString(`"[Circular]"`)
			return
		}
		seen[ptr] = true
		sb.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSON(sb, item, seen)
		}
		sb.WriteByte(']')
		delete(seen, ptr)
	case map[string]any:
		ptr := reflect.ValueOf(t).Pointer()
		if seen[ptr] {
			sb.WriteString(`"[Circular]"`)
			return
		}
		seen[ptr] = true
		sb.WriteByte('{')
		for i, k := range sortedKeys(t) {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			writeJSON(sb, t[k], seen)
		}
		sb.WriteByte('}')
		delete(seen, ptr)
	default:
		sb.WriteString(strconv.Quote(Stringify(v)))
	}
}

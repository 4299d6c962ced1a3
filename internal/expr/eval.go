package expr

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

func (e *Evaluator) eval(n node, ctx map[string]any) (any, error) {
	switch t := n.(type) {
	case litNode:
		return t.val, nil
	case identNode:
		if ctx != nil {
			if v, ok := ctx[t.name]; ok {
				return v, nil
			}
		}
		return nil, nil
	case memberNode:
		obj, err := e.eval(t.obj, ctx)
		if err != nil {
			return nil, err
		}
		return member(obj, t.name), nil
	case indexNode:
		obj, err := e.eval(t.obj, ctx)
		if err != nil {
			return nil, err
		}
		idx, err := e.eval(t.idx, ctx)
		if err != nil {
			return nil, err
		}
		return indexValue(obj, idx), nil
	case unaryNode:
		x, err := e.eval(t.x, ctx)
		if err != nil {
			return nil, err
		}
		switch t.op {
		case "!":
			return !Truthy(x), nil
		case "-":
			f, ok := toFloat(x)
			if !ok {
				return nil, fmt.Errorf("cannot negate %T", x)
			}
			return -f, nil
		}
		return nil, fmt.Errorf("unknown unary operator %q", t.op)
	case binaryNode:
		return e.evalBinary(t, ctx)
	case ternaryNode:
		cond, err := e.eval(t.cond, ctx)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return e.eval(t.then, ctx)
		}
		return e.eval(t.els, ctx)
	case arrayNode:
		out := make([]any, 0, len(t.items))
		for _, item := range t.items {
			v, err := e.eval(item, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case objectNode:
		out := make(map[string]any, len(t.fields))
		for _, f := range t.fields {
			v, err := e.eval(f.val, ctx)
			if err != nil {
				return nil, err
			}
			out[f.key] = v
		}
		return out, nil
	case callNode:
		if len(t.args) == 0 {
			return nil, fmt.Errorf("transform %q requires at least one argument", t.name)
		}
		args := make([]any, 0, len(t.args))
		for _, a := range t.args {
			v, err := e.eval(a, ctx)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return e.applyTransform(t.name, args[0], args[1:])
	case pipeNode:
		x, err := e.eval(t.x, ctx)
		if err != nil {
			return nil, err
		}
		args := make([]any, 0, len(t.args))
		for _, a := range t.args {
			v, err := e.eval(a, ctx)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return e.applyTransform(t.name, x, args)
	}
	return nil, fmt.Errorf("unknown node %T", n)
}

func (e *Evaluator) evalBinary(n binaryNode, ctx map[string]any) (any, error) {
	// Boolean operators short-circuit.
	if n.op == "&&" || n.op == "||" {
		l, err := e.eval(n.l, ctx)
		if err != nil {
			return nil, err
		}
		if n.op == "&&" {
			if !Truthy(l) {
				return l, nil
			}
			return e.eval(n.r, ctx)
		}
		if Truthy(l) {
			return l, nil
		}
		return e.eval(n.r, ctx)
	}

	l, err := e.eval(n.l, ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.eval(n.r, ctx)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return looseEqual(l, r), nil
	case "!=":
		return !looseEqual(l, r), nil
	case "+":
		if ls, ok := l.(string); ok {
			return ls + Stringify(r), nil
		}
		if rs, ok := r.(string); ok {
			return Stringify(l) + rs, nil
		}
		lf, lok := toFloat(l)
		rf, rok := toFloat(r)
		if lok && rok {
			return lf + rf, nil
		}
		return Stringify(l) + Stringify(r), nil
	case "-", "*", "/", "%":
		lf, lok := toFloat(l)
		rf, rok := toFloat(r)
		if !lok || !rok {
			return nil, fmt.Errorf("operator %q needs numbers, got %T and %T", n.op, l, r)
		}
		switch n.op {
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return lf / rf, nil
		default:
			if rf == 0 {
				return nil, fmt.Errorf("modulo by zero")
			}
			return math.Mod(lf, rf), nil
		}
	case "<", "<=", ">", ">=":
		if lf, lok := toFloat(l); lok {
			if rf, rok := toFloat(r); rok {
				return compareFloats(n.op, lf, rf), nil
			}
		}
		ls, rs := Stringify(l), Stringify(r)
		switch n.op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		default:
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

func compareFloats(op string, l, r float64) bool {
	switch op {
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	default:
		return l >= r
	}
}

func member(obj any, name string) any {
	switch t := obj.(type) {
	case map[string]any:
		return t[name]
	case map[string]string:
		return t[name]
	case []any:
		if name == "length" {
			return float64(len(t))
		}
	case string:
		if name == "length" {
			return float64(len(t))
		}
	}
	return nil
}

func indexValue(obj, idx any) any {
	switch t := obj.(type) {
	case []any:
		i, ok := toFloat(idx)
		if !ok {
			return nil
		}
		n := int(i)
		if n < 0 || n >= len(t) {
			return nil
		}
		return t[n]
	case map[string]any:
		return t[Stringify(idx)]
	case string:
		i, ok := toFloat(idx)
		if !ok {
			return nil
		}
		n := int(i)
		if n < 0 || n >= len(t) {
			return nil
		}
		return string(t[n])
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// looseEqual compares with numeric coercion so '5' == 5 holds, matching how
// spec authors mix option values (always strings on the wire) with numbers.
func looseEqual(l, r any) bool {
	if l == nil && r == nil {
		return true
	}
	if lf, lok := numericOnly(l); lok {
		if rf, rok := numericOnly(r); rok {
			return lf == rf
		}
	}
	if ls, lok := l.(string); lok {
		if rs, rok := r.(string); rok {
			return ls == rs
		}
		if rf, rok := numericOnly(r); rok {
			if lf, err := strconv.ParseFloat(ls, 64); err == nil {
				return lf == rf
			}
		}
	}
	if rs, rok := r.(string); rok {
		if lf, lok := numericOnly(l); lok {
			if rf, err := strconv.ParseFloat(rs, 64); err == nil {
				return lf == rf
			}
		}
	}
	return reflect.DeepEqual(l, r)
}

func numericOnly(v any) (float64, bool) {
	switch v.(type) {
	case string, bool, nil:
		return 0, false
	}
	return toFloat(v)
}

// Stringify renders a value for interpolation output.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return formatNumber(t)
	case float32:
		return formatNumber(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case []any, map[string]any:
		return safeJSON(v)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

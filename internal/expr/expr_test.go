package expr

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func testContext() map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":       "12345",
			"username": "tester",
			"roles":    []any{"admin", "mod"},
		},
		"count": float64(5),
		"items": []any{
			map[string]any{"name": "a", "score": float64(3)},
			map[string]any{"name": "b", "score": float64(1)},
			map[string]any{"name": "c", "score": float64(2)},
		},
		"empty": "",
	}
}

func TestEvaluateBasics(t *testing.T) {
	e := New()
	ctx := testContext()
	cases := []struct {
		expr string
		want any
	}{
		{"1 + 2", float64(3)},
		{"2 * 3 + 4", float64(10)},
		{"2 + 3 * 4", float64(14)},
		{"(2 + 3) * 4", float64(20)},
		{"10 % 3", float64(1)},
		{"count > 3", true},
		{"count >= 5 && count < 10", true},
		{"count == 5", true},
		{"count == '5'", true},
		{"user.id == '12345'", true},
		{"user.id != '12345'", false},
		{"!empty", true},
		{"count > 3 ? 'big' : 'small'", "big"},
		{"user.roles[0]", "admin"},
		{"user.roles.length", float64(2)},
		{"'hi ' + user.username", "hi tester"},
		{"missing", nil},
		{"missing || 'fallback'", "fallback"},
		{"[1, 2, 3][1]", float64(2)},
		{"{a: 1, b: 2}.b", float64(2)},
	}
	for _, tc := range cases {
		got, err := e.Evaluate(tc.expr, ctx)
		if err != nil {
			t.Fatalf("Evaluate(%q) error = %v", tc.expr, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Evaluate(%q) = %#v, want %#v", tc.expr, got, tc.want)
		}
	}
}

func TestEvaluatePurity(t *testing.T) {
	e := New()
	ctx := testContext()
	first, err := e.Evaluate("count * 2", ctx)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	second, err := e.Evaluate("count * 2", ctx)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results, got %v and %v", first, second)
	}
	if !reflect.DeepEqual(ctx, testContext()) {
		t.Fatalf("context mutated by evaluation")
	}
}

func TestPipeTransforms(t *testing.T) {
	e := New()
	ctx := testContext()
	cases := []struct {
		expr string
		want any
	}{
		{"'Hello' | lower", "hello"},
		{"'hello' | upper", "HELLO"},
		{"'hello world' | capitalize", "Hello world"},
		{"'  x  ' | trim", "x"},
		{"'abcdefgh' | truncate:5", "abcde..."},
		{"'abcdefgh' | truncate:5:'!'", "abcde!"},
		{"'a,b,c' | split:','", []any{"a", "b", "c"}},
		{"'7' | padStart:3:'0'", "007"},
		{"user.roles | join:'/'", "admin/mod"},
		{"user.roles | first", "admin"},
		{"user.roles | last", "mod"},
		{"[3, 1, 2] | sort | first", float64(1)},
		{"[1, 2, 2, 3] | unique | length", float64(3)},
		{"[[1, 2], [3]] | flatten | length", float64(3)},
		{"items | pluck:'name' | join:''", "abc"},
		{"items | sort:'score' | first | get:'name'", "b"},
		{"items | filter:'name':'b' | length", float64(1)},
		{"3.7 | floor", float64(3)},
		{"3.2 | ceil", float64(4)},
		{"-4 | abs", float64(4)},
		{"3.14159 | round:2", 3.14},
		{"1234567 | format", "1,234,567"},
		{"1 | ordinal", "1st"},
		{"2 | ordinal", "2nd"},
		{"3 | ordinal", "3rd"},
		{"11 | ordinal", "11th"},
		{"22 | ordinal", "22nd"},
		{"{a: 1} | keys | first", "a"},
		{"{a: 1} | values | first", float64(1)},
		{"'x' | default:'y'", "x"},
		{"empty | default:'y'", "y"},
		{"'abc' | size", float64(3)},
		{"count | pluralize:'item'", "items"},
		{"1 | pluralize:'item'", "item"},
		{"user.id | mention", "<@12345>"},
		{"user.id | mention:'role'", "<@&12345>"},
		{"user.id | mention:'channel'", "<#12345>"},
		{"90061000 | duration", "1d 1h"},
		{"3660000 | duration", "1h 1m"},
		{"61000 | duration", "1m 1s"},
		{"5000 | duration", "5s"},
		{"'a-b' | replace:'-':'_'", "a_b"},
		{"count | string", "5"},
		{"'42' | number", float64(42)},
		{"'3.9' | int", float64(3)},
		{"empty | boolean", false},
	}
	for _, tc := range cases {
		got, err := e.Evaluate(tc.expr, ctx)
		if err != nil {
			t.Fatalf("Evaluate(%q) error = %v", tc.expr, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Evaluate(%q) = %#v, want %#v", tc.expr, got, tc.want)
		}
	}
}

func TestTimestampTransform(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := New(WithNow(func() time.Time { return fixed }))
	got, err := e.Evaluate("1700000000000 | timestamp:'relative'", nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != "<t:1700000000:R>" {
		t.Fatalf("timestamp = %v, want <t:1700000000:R>", got)
	}
	raw, err := e.Evaluate("1700000000000 | timestamp", nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if raw != float64(1700000000) {
		t.Fatalf("timestamp = %v, want 1700000000", raw)
	}
}

func TestInterpolate(t *testing.T) {
	e := New()
	ctx := testContext()
	got, err := e.Interpolate("You said: ${user.username} (${count | ordinal})", ctx)
	if err != nil {
		t.Fatalf("Interpolate() error = %v", err)
	}
	if got != "You said: tester (5th)" {
		t.Fatalf("Interpolate() = %q", got)
	}

	plain, err := e.Interpolate("no expressions here", ctx)
	if err != nil {
		t.Fatalf("Interpolate() error = %v", err)
	}
	if plain != "no expressions here" {
		t.Fatalf("Interpolate() = %q", plain)
	}

	if _, err := e.Interpolate("bad ${unclosed", ctx); err == nil {
		t.Fatal("expected error for unbalanced braces")
	}
}

func TestInterpolateValueKeepsTypes(t *testing.T) {
	e := New()
	ctx := testContext()
	got, err := e.InterpolateValue("${count}", ctx)
	if err != nil {
		t.Fatalf("InterpolateValue() error = %v", err)
	}
	if got != float64(5) {
		t.Fatalf("single-expression value = %#v, want float64(5)", got)
	}
	mixed, err := e.InterpolateValue("count=${count}", ctx)
	if err != nil {
		t.Fatalf("InterpolateValue() error = %v", err)
	}
	if mixed != "count=5" {
		t.Fatalf("mixed value = %#v, want \"count=5\"", mixed)
	}
}

func TestSafePattern(t *testing.T) {
	cases := []struct {
		pattern string
		want    bool
	}{
		{"hello", true},
		{"[a-z]+", true},
		{"(a+)+", false},
		{"(ab|ba)*", false},
		{`\1+`, false},
		{strings.Repeat("a", 501), false},
	}
	for _, tc := range cases {
		if got := SafePattern(tc.pattern); got != tc.want {
			t.Fatalf("SafePattern(%q) = %v, want %v", tc.pattern, got, tc.want)
		}
	}
}

func TestReplaceUnsafePatternFallsBackToLiteral(t *testing.T) {
	e := New()
	got, err := e.Evaluate("'x(a+)+y' | replace:'(a+)+':'_'", nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != "x_y" {
		t.Fatalf("replace = %v, want x_y", got)
	}
}

func TestSafeJSONCircular(t *testing.T) {
	m := map[string]any{"name": "loop"}
	m["self"] = m
	out := safeJSON(m)
	if !strings.Contains(out, "[Circular]") {
		t.Fatalf("safeJSON = %q, expected [Circular] marker", out)
	}
	if !strings.Contains(out, `"name":"loop"`) {
		t.Fatalf("safeJSON = %q, expected name field", out)
	}
}

type fakeState struct{ vars map[string]any }

func (f *fakeState) VariableNames() []string {
	names := make([]string, 0, len(f.vars))
	for k := range f.vars {
		names = append(names, k)
	}
	return names
}

func (f *fakeState) Get(name string, _ map[string]string) (any, error) {
	return f.vars[name], nil
}

func TestEvaluateWithState(t *testing.T) {
	e := New()
	state := &fakeState{vars: map[string]any{"warnings": float64(3)}}
	got, err := e.EvaluateWithState("warnings >= 3", map[string]any{}, state, nil)
	if err != nil {
		t.Fatalf("EvaluateWithState() error = %v", err)
	}
	if got != true {
		t.Fatalf("EvaluateWithState() = %v, want true", got)
	}

	// Context keys shadow state variables.
	got, err = e.EvaluateWithState("warnings", map[string]any{"warnings": float64(9)}, state, nil)
	if err != nil {
		t.Fatalf("EvaluateWithState() error = %v", err)
	}
	if got != float64(9) {
		t.Fatalf("EvaluateWithState() = %v, want 9", got)
	}
}

func TestReplaceMatchesCaseExactly(t *testing.T) {
	e := New()
	got, err := e.Evaluate("'Go go GO' | replace:'go':'stop'", nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != "Go stop GO" {
		t.Fatalf("replace = %v, want Go stop GO", got)
	}
}

package expr

import "regexp"

// Patterns compiled at runtime come from spec authors, not end users, but a
// careless pattern can still pin a CPU. Reject the classic catastrophic
// shapes before handing anything to the regexp engine.
const maxPatternLength = 500

var (
	nestedQuantifier     = regexp.MustCompile(`\([^)]*[+*][^)]*\)[+*]`)
	quantifiedAlternation = regexp.MustCompile(`\([^)]*\|[^)]*\)[+*]`)
	quantifiedBackref    = regexp.MustCompile(`\\[0-9][+*{]`)
)

// SafePattern reports whether a runtime-supplied pattern is acceptable to
// compile. Unsafe patterns fall back to literal substring behavior at the
// call site.
func SafePattern(pattern string) bool {
	if len(pattern) > maxPatternLength {
		return false
	}
	if nestedQuantifier.MatchString(pattern) {
		return false
	}
	if quantifiedAlternation.MatchString(pattern) {
		return false
	}
	if quantifiedBackref.MatchString(pattern) {
		return false
	}
	return true
}

// CompilePattern applies the safety check and compiles the pattern
// exactly as written. Returns nil when the pattern is unsafe or
// invalid. Callers that want case folding prefix (?i) themselves.
func CompilePattern(pattern string) *regexp.Regexp {
	if !SafePattern(pattern) {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	return re
}

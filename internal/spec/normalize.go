package spec

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNormalization marks a malformed spec tree. Fatal at load.
var ErrNormalization = errors.New("spec normalization failed")

// Reserved action fields copied onto the normalized record instead of
// becoming the verb or its parameters.
const (
	fieldAction       = "action"
	fieldWhen         = "when"
	fieldErrorHandler = "error_handler"
)

// actionSlots maps each flow-control verb to the parameter names that hold
// nested action lists.
var actionSlots = map[string][]string{
	"flow_if":     {"then", "else"},
	"flow_while":  {"do"},
	"repeat":      {"do"},
	"parallel":    {"actions"},
	"batch":       {"each"},
	"try":         {"do", "catch", "finally"},
	"flow_switch": {"default"},
}

// NormalizeActions canonicalizes a raw action list. It accepts an already
// normalized []Action (idempotence), a []any of raw mappings, or nil.
func NormalizeActions(v any) ([]Action, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []Action:
		return t, nil
	case []any:
		out := make([]Action, 0, len(t))
		for i, raw := range t {
			action, err := NormalizeAction(raw)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", i, err)
			}
			out = append(out, action)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: actions must be a sequence, got %T", ErrNormalization, v)
	}
}

// NormalizeAction canonicalizes one raw action. Shorthand {verb: {params}}
// folds into {action: verb, params...}; reserved fields carry over; nested
// action slots of flow-control verbs are normalized recursively.
func NormalizeAction(v any) (Action, error) {
	if a, ok := v.(Action); ok {
		return a, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return Action{}, fmt.Errorf("%w: action must be a mapping, got %T", ErrNormalization, v)
	}

	action := Action{Params: map[string]any{}}

	if verb, ok := raw[fieldAction].(string); ok && verb != "" {
		// Already canonical: action field names the verb, siblings are params.
		action.Verb = verb
		for k, val := range raw {
			switch k {
			case fieldAction, fieldWhen, fieldErrorHandler:
			default:
				action.Params[k] = val
			}
		}
	} else {
		// Shorthand: the first non-reserved field names the verb. Mapping
		// values become parameters, anything else means no parameters.
		verb, params, err := foldShorthand(raw)
		if err != nil {
			return Action{}, err
		}
		action.Verb = verb
		action.Params = params
	}

	if when, ok := raw[fieldWhen].(string); ok {
		action.When = when
	}
	if eh, ok := raw[fieldErrorHandler]; ok {
		handlers, err := NormalizeActions(eh)
		if err != nil {
			return Action{}, fmt.Errorf("error_handler: %w", err)
		}
		action.ErrorHandler = handlers
	}

	if err := normalizeSlots(&action); err != nil {
		return Action{}, err
	}
	return action, nil
}

func foldShorthand(raw map[string]any) (string, map[string]any, error) {
	candidates := make([]string, 0, len(raw))
	for k := range raw {
		if k == fieldWhen || k == fieldErrorHandler {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(candidates) == 0 {
		return "", nil, fmt.Errorf("%w: action record has no verb", ErrNormalization)
	}
	// YAML mapping order is not preserved by decoding; sorting keeps the
	// pick stable when a record carries stray extra keys.
	sort.Strings(candidates)
	verb := candidates[0]

	params := map[string]any{}
	if m, ok := raw[verb].(map[string]any); ok {
		for k, v := range m {
			params[k] = v
		}
	}
	return verb, params, nil
}

func normalizeSlots(action *Action) error {
	slots, ok := actionSlots[action.Verb]
	if ok {
		for _, slot := range slots {
			raw, present := action.Params[slot]
			if !present || raw == nil {
				continue
			}
			nested, err := NormalizeActions(raw)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", action.Verb, slot, err)
			}
			action.Params[slot] = nested
		}
	}
	if action.Verb == "flow_switch" {
		if err := normalizeSwitchCases(action); err != nil {
			return err
		}
	}
	return nil
}

func normalizeSwitchCases(action *Action) error {
	raw, present := action.Params["cases"]
	if !present || raw == nil {
		return nil
	}
	switch cases := raw.(type) {
	case map[string][]Action:
		return nil
	case map[string]any:
		out := make(map[string][]Action, len(cases))
		for key, branch := range cases {
			nested, err := NormalizeActions(branch)
			if err != nil {
				return fmt.Errorf("flow_switch.cases.%s: %w", key, err)
			}
			out[key] = nested
		}
		action.Params["cases"] = out
		return nil
	default:
		return fmt.Errorf("%w: flow_switch.cases must be a mapping, got %T", ErrNormalization, raw)
	}
}

// namedRecords converts a collection that may be either an ordered sequence
// of mappings or a name-keyed mapping into a sequence of mappings, each
// carrying its former key under keyField. Mapping form is emitted in sorted
// key order so reloads are stable.
func namedRecords(v any, keyField string) ([]map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]map[string]any, 0, len(t))
		for i, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: element %d must be a mapping, got %T", ErrNormalization, i, item)
			}
			out = append(out, m)
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			m, ok := t[k].(map[string]any)
			if !ok {
				// A bare action list keyed by name is accepted for events.
				if list, isList := t[k].([]any); isList {
					out = append(out, map[string]any{keyField: k, "actions": list})
					continue
				}
				return nil, fmt.Errorf("%w: entry %q must be a mapping, got %T", ErrNormalization, k, t[k])
			}
			rec := make(map[string]any, len(m)+1)
			for mk, mv := range m {
				rec[mk] = mv
			}
			if _, has := rec[keyField]; !has {
				rec[keyField] = k
			}
			out = append(out, rec)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: collection must be a sequence or mapping, got %T", ErrNormalization, v)
	}
}

package ruleengine

// PostClean recursively strips null leaves, empty strings, and the
// resulting empty objects/arrays from a JSON-shaped body (spec.md §4.2's
// body post-clean pass, run once after all four verbs have applied). A
// fully-empty object collapses to {} rather than disappearing, since the
// body itself must remain a JSON object. Nested objects/arrays that were
// already empty on input are kept as they are. Idempotent: cleaning an
// already-clean value returns an equal value.
func PostClean(v any) any {
	cleaned, _ := cleanValue(v)
	if cleaned == nil {
		return map[string]any{}
	}
	return cleaned
}

// cleanValue returns the cleaned value and whether it is "empty" (and so
// should be dropped from its parent container).
func cleanValue(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case string:
		return x, x == ""
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			cv, empty := cleanValue(val)
			if empty {
				continue
			}
			out[k] = cv
		}
		return out, len(out) == 0 && len(x) > 0
	case []any:
		out := make([]any, 0, len(x))
		for _, val := range x {
			cv, empty := cleanValue(val)
			if empty {
				continue
			}
			out = append(out, cv)
		}
		return out, len(out) == 0 && len(x) > 0
	default:
		return v, false
	}
}

// resolveMultiEvents checks for the `__multi_events` fan-out wrapper key
// (spec.md §4.2/§4.6): a body whose only meaningful content is an array
// under this key represents several independent events produced from one
// rule application, and is returned as []any instead of a single object.
func resolveMultiEvents(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	events, ok := obj["__multi_events"].([]any)
	if !ok {
		return v
	}
	return events
}

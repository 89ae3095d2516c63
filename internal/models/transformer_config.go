package models

import "encoding/json"

// UnmarshalJSON accepts a bare string (registry name), a single inline
// object, or an array of objects for a route/upstream "transformer" field.
func (t *TransformerRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		t.Name = name
		return nil
	}

	var list []TransformerConfig
	if err := json.Unmarshal(data, &list); err == nil {
		t.Ordered = list
		return nil
	}

	var single TransformerConfig
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	t.Inline = &single
	return nil
}

func (t *TransformerRef) MarshalJSON() ([]byte, error) {
	switch {
	case t.Name != "":
		return json.Marshal(t.Name)
	case len(t.Ordered) > 0:
		return json.Marshal(t.Ordered)
	case t.Inline != nil:
		return json.Marshal(t.Inline)
	default:
		return []byte("null"), nil
	}
}

// StreamOrLegacy is a ResponseRuleSet.Stream value: either a
// StreamTransformRules object (state-machine mode) or a plain
// ModificationRules (legacy mode, applied to every chunk).
type StreamOrLegacy struct {
	StateMachine *StreamTransformRules
	Legacy       *ModificationRules
}

// IsStateMachine reports whether this value should run in state-machine mode.
func (s *StreamOrLegacy) IsStateMachine() bool {
	return s != nil && s.StateMachine != nil && s.StateMachine.IsStateMachine()
}

func (s *StreamOrLegacy) UnmarshalJSON(data []byte) error {
	var probe struct {
		Start *ModificationRules `json:"start"`
		Chunk *ModificationRules `json:"chunk"`
		End   *ModificationRules `json:"end"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Start != nil || probe.Chunk != nil || probe.End != nil {
		s.StateMachine = &StreamTransformRules{Start: probe.Start, Chunk: probe.Chunk, End: probe.End}
		return nil
	}
	var legacy ModificationRules
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}
	s.Legacy = &legacy
	return nil
}

func (s *StreamOrLegacy) MarshalJSON() ([]byte, error) {
	if s.IsStateMachine() {
		return json.Marshal(s.StateMachine)
	}
	return json.Marshal(s.Legacy)
}

// unmarshalPathRewrite accepts an ordered list of {pattern, replacement}
// objects, an ordered list of [pattern, replacement] pairs, or a plain map
// (non-deterministic iteration order, accepted for convenience per the
// source config's historical shape).
type rawPathRewrite = []PathRewriteRule

func unmarshalPathRewrite(data []byte) ([]PathRewriteRule, error) {
	var ordered rawPathRewrite
	if err := json.Unmarshal(data, &ordered); err == nil {
		return ordered, nil
	}
	var pairs [][2]string
	if err := json.Unmarshal(data, &pairs); err == nil {
		rules := make([]PathRewriteRule, 0, len(pairs))
		for _, p := range pairs {
			rules = append(rules, PathRewriteRule{Pattern: p[0], Replacement: p[1]})
		}
		return rules, nil
	}
	var asMap map[string]string
	if err := json.Unmarshal(data, &asMap); err != nil {
		return nil, err
	}
	rules := make([]PathRewriteRule, 0, len(asMap))
	for pattern, replacement := range asMap {
		rules = append(rules, PathRewriteRule{Pattern: pattern, Replacement: replacement})
	}
	return rules, nil
}

// UnmarshalJSON lets RouteConfig accept pathRewrite as either shape.
func (r *RouteConfig) UnmarshalJSON(data []byte) error {
	type alias RouteConfig
	aux := struct {
		PathRewrite json.RawMessage `json:"pathRewrite"`
		*alias
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.PathRewrite) > 0 {
		rules, err := unmarshalPathRewrite(aux.PathRewrite)
		if err != nil {
			return err
		}
		r.PathRewrite = rules
	}
	return nil
}

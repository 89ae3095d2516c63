// Package ruleengine applies the four-verb ModificationRules (spec.md §4.2)
// to header maps and JSON body objects, deep-merges rule sets across onion
// layers, and implements the body post-clean and multi-event fan-out rules.
package ruleengine

import (
	"strings"

	"dario.cat/mergo"

	"github.com/user/bungee-go/internal/expreval"
	"github.com/user/bungee-go/internal/models"
)

// ApplyHeaders applies rules to headers (case-insensitive keys) using the
// fixed verb order: add, replace, default is not valid for headers,
// remove-unless-just-touched. The Host header is always dropped first.
func ApplyHeaders(rules *models.ModificationRules, headers map[string]string, env *expreval.Env) (map[string]string, error) {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "host") {
			continue
		}
		out[lower(k)] = v
	}
	if rules == nil {
		return out, nil
	}

	touched := make(map[string]bool)

	for k, v := range rules.Add {
		val, err := expreval.InterpolateValue(v, env)
		if err != nil {
			continue // skip failing rule, spec.md §7
		}
		key := lower(k)
		out[key] = expreval.Stringify(val)
		touched[key] = true
	}

	for k, v := range rules.Replace {
		key := lower(k)
		if _, present := out[key]; !present {
			continue
		}
		val, err := expreval.InterpolateValue(v, env)
		if err != nil {
			continue
		}
		out[key] = expreval.Stringify(val)
		touched[key] = true
	}

	for _, k := range rules.Remove {
		key := lower(k)
		if touched[key] {
			continue
		}
		delete(out, key)
	}

	return out, nil
}

// ApplyBody applies rules to a parsed JSON body object, using all four
// verbs including `default`, then runs the post-clean pass and resolves
// multi-event fan-out. The return value is either a map[string]any (single
// event) or []any (fan-out).
func ApplyBody(rules *models.ModificationRules, body map[string]any, env *expreval.Env) (any, error) {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	if rules == nil {
		return PostClean(out), nil
	}

	touched := make(map[string]bool)

	for k, v := range rules.Add {
		val, err := expreval.InterpolateValue(v, env)
		if err != nil {
			continue
		}
		out[k] = val
		touched[k] = true
	}

	for k, v := range rules.Replace {
		if _, present := out[k]; !present {
			continue
		}
		val, err := expreval.InterpolateValue(v, env)
		if err != nil {
			continue
		}
		out[k] = val
		touched[k] = true
	}

	for k, v := range rules.Default {
		if _, present := out[k]; present {
			continue
		}
		val, err := expreval.InterpolateValue(v, env)
		if err != nil {
			continue
		}
		out[k] = val
	}

	for _, k := range rules.Remove {
		if touched[k] {
			continue
		}
		delete(out, k)
	}

	cleaned := PostClean(out)
	return resolveMultiEvents(cleaned), nil
}

func lower(s string) string { return strings.ToLower(s) }

// DeepMerge composes two ModificationRules, outer ⊕ inner with inner
// winning on value-key conflicts and `remove` lists concatenated and
// de-duplicated. Associative under inner-wins (spec.md §8).
func DeepMerge(outer, inner *models.ModificationRules) *models.ModificationRules {
	result := &models.ModificationRules{
		Add:     cloneMap(safeAdd(outer)),
		Replace: cloneMap(safeReplace(outer)),
		Default: cloneMap(safeDefault(outer)),
	}
	if inner != nil {
		// mergo.Merge(dst, src, WithOverride) makes src (inner) win —
		// exactly the onion's inner-wins semantics.
		_ = mergo.Merge(&result.Add, safeAdd(inner), mergo.WithOverride)
		_ = mergo.Merge(&result.Replace, safeReplace(inner), mergo.WithOverride)
		_ = mergo.Merge(&result.Default, safeDefault(inner), mergo.WithOverride)
	}
	result.Remove = dedupConcat(safeRemove(outer), safeRemove(inner))
	return result
}

func safeAdd(r *models.ModificationRules) map[string]any {
	if r == nil {
		return nil
	}
	return r.Add
}

func safeReplace(r *models.ModificationRules) map[string]any {
	if r == nil {
		return nil
	}
	return r.Replace
}

func safeDefault(r *models.ModificationRules) map[string]any {
	if r == nil {
		return nil
	}
	return r.Default
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func safeRemove(r *models.ModificationRules) []string {
	if r == nil {
		return nil
	}
	return r.Remove
}

func dedupConcat(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, k := range list {
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

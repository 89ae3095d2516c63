// Package transformer holds the built-in API-format transformer rule sets
// (spec.md §4.3) as embedded JSON assets and resolves a route/upstream's
// `transformer` reference to the concrete TransformerConfig entries to
// apply, in order.
package transformer

import (
	"embed"
	"fmt"
	"regexp"
	"sync"

	"github.com/user/bungee-go/internal/jsonutil"
	"github.com/user/bungee-go/internal/models"
)

//go:embed assets/*.json
var assetFS embed.FS

// builtinNames are the registry entries spec.md §4.3 requires by name.
var builtinNames = []string{"anthropic-to-openai", "anthropic-to-gemini"}

// Registry resolves a TransformerRef into the ordered TransformerConfig
// list the pipeline applies for one request.
type Registry struct {
	mu      sync.RWMutex
	bundles map[string][]models.TransformerConfig
}

// New loads and parses the embedded built-in rule sets. A malformed asset
// is a programming error in this package, not a runtime condition, so New
// panics rather than threading an error through every caller — mirrors the
// teacher's embedded-prompt-asset loading style.
func New() *Registry {
	r := &Registry{bundles: make(map[string][]models.TransformerConfig, len(builtinNames))}
	for _, name := range builtinNames {
		data, err := assetFS.ReadFile("assets/" + name + ".json")
		if err != nil {
			panic(fmt.Sprintf("transformer: missing embedded asset %q: %v", name, err))
		}
		var bundle []models.TransformerConfig
		if err := jsonutil.Unmarshal(data, &bundle); err != nil {
			panic(fmt.Sprintf("transformer: malformed embedded asset %q: %v", name, err))
		}
		r.bundles[name] = bundle
	}
	return r
}

// Resolve returns the ordered TransformerConfig list to apply for pathname,
// given a route's or upstream's transformer reference. A nil/empty ref
// yields no entries (no error). An inline or ordered ref bypasses the
// registry entirely, per spec.md §4.3.
func (r *Registry) Resolve(ref *models.TransformerRef, pathname string) ([]models.TransformerConfig, error) {
	if ref.IsZero() {
		return nil, nil
	}
	if ref.Inline != nil {
		return []models.TransformerConfig{*ref.Inline}, nil
	}
	if len(ref.Ordered) > 0 {
		return ref.Ordered, nil
	}

	r.mu.RLock()
	bundle, ok := r.bundles[ref.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transformer: unknown registry name %q", ref.Name)
	}

	for _, entry := range bundle {
		if entry.Path == nil {
			return []models.TransformerConfig{entry}, nil
		}
		matched, err := regexp.MatchString(entry.Path.Match, pathname)
		if err != nil {
			return nil, fmt.Errorf("transformer %q: bad path.match regex: %w", ref.Name, err)
		}
		if matched {
			return []models.TransformerConfig{entry}, nil
		}
	}
	return nil, nil
}

// Names reports the registered built-in transformer names, in no
// particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bundles))
	for name := range r.bundles {
		names = append(names, name)
	}
	return names
}

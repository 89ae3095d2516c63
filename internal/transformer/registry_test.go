//go:build !integration && !e2e

package transformer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bungee-go/internal/expreval"
	"github.com/user/bungee-go/internal/models"
)

func TestNew_LoadsBothBuiltins(t *testing.T) {
	r := New()
	assert.ElementsMatch(t, builtinNames, r.Names())
}

func TestResolve_ByRegistryName(t *testing.T) {
	r := New()
	ref := &models.TransformerRef{Name: "anthropic-to-openai"}
	entries, err := r.Resolve(ref, "/v1/messages")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/v1/chat/completions", entries[0].Path.Replace)
}

func TestResolve_UnknownNameErrors(t *testing.T) {
	r := New()
	ref := &models.TransformerRef{Name: "does-not-exist"}
	_, err := r.Resolve(ref, "/v1/messages")
	assert.Error(t, err)
}

func TestResolve_NonMatchingPathReturnsNoEntries(t *testing.T) {
	r := New()
	ref := &models.TransformerRef{Name: "anthropic-to-openai"}
	entries, err := r.Resolve(ref, "/unrelated/path")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolve_ZeroRefReturnsNoEntries(t *testing.T) {
	r := New()
	entries, err := r.Resolve(&models.TransformerRef{}, "/v1/messages")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolve_InlineBypassesRegistry(t *testing.T) {
	r := New()
	inline := &models.TransformerConfig{Request: &models.ModificationRules{Add: map[string]any{"k": "v"}}}
	ref := &models.TransformerRef{Inline: inline}
	entries, err := r.Resolve(ref, "/anything")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, inline, &entries[0])
}

func TestRewritePath_SimpleRegexReplace(t *testing.T) {
	rule := &models.PathRule{Match: "^/v1/messages$", Replace: "/v1/chat/completions"}
	newPath, search, err := RewritePath(rule, "/v1/messages", expreval.NewEnv(&models.RequestContext{}))
	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", newPath)
	assert.Empty(t, search)
}

func TestAnthropicToOpenAI_FieldMapping(t *testing.T) {
	r := New()
	entries, err := r.Resolve(&models.TransformerRef{Name: "anthropic-to-openai"}, "/v1/messages")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Request.Add, "max_tokens")
	assert.Contains(t, entries[0].Request.Remove, "max_tokens_to_sample")
}

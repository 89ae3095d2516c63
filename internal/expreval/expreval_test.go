//go:build !integration && !e2e

package expreval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bungee-go/internal/models"
)

func testEnv() *Env {
	return NewEnv(&models.RequestContext{
		Headers: map[string]string{"x-api-key": "secret", "content-type": "application/json"},
		Body:    map[string]any{"model": "claude-3-opus", "max_tokens": float64(1024)},
		URL:     models.RequestURL{Pathname: "/v1/messages", Search: "", Host: "example.com", Protocol: "https"},
		Method:  "POST",
		Env:     map[string]string{"FOO": "bar"},
	})
}

func TestEval_Arithmetic(t *testing.T) {
	v, err := Eval("1 + 2 * 3", testEnv())
	require.NoError(t, err)
	assert.Equal(t, float64(7), v)
}

func TestEval_MemberAndIndex(t *testing.T) {
	v, err := Eval("body.model", testEnv())
	require.NoError(t, err)
	assert.Equal(t, "claude-3-opus", v)

	v, err = Eval("body['max_tokens']", testEnv())
	require.NoError(t, err)
	assert.Equal(t, float64(1024), v)
}

func TestEval_TernaryAndComparison(t *testing.T) {
	v, err := Eval("body.max_tokens > 1000 ? 'big' : 'small'", testEnv())
	require.NoError(t, err)
	assert.Equal(t, "big", v)
}

func TestEval_NullishAndOptionalChaining(t *testing.T) {
	v, err := Eval("body.missing?.field ?? 'fallback'", testEnv())
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}

func TestEval_HelperCall(t *testing.T) {
	v, err := Eval("toUpperCase(body.model)", testEnv())
	require.NoError(t, err)
	assert.Equal(t, "CLAUDE-3-OPUS", v)
}

func TestEval_StringMethod(t *testing.T) {
	v, err := Eval("url.pathname.startsWith('/v1')", testEnv())
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEval_TinyTimeoutDoesNotPanic(t *testing.T) {
	// No loops exist in the grammar, so this exercises the timeout path via
	// an artificially tiny budget instead.
	env := testEnv()
	env.Timeout = 1
	_, err := Eval("toUpperCase(body.model)", env)
	// Either it completes within 1ns (unlikely) or times out — both are
	// acceptable outcomes for this test; we only assert no panic escapes.
	_ = err
}

func TestInterpolateValue_WholeMarker(t *testing.T) {
	v, err := InterpolateValue("{{ body.max_tokens }}", testEnv())
	require.NoError(t, err)
	assert.Equal(t, float64(1024), v)
}

func TestInterpolateValue_EmbeddedMarkers(t *testing.T) {
	v, err := InterpolateValue("model=:{{ body.model }}:", testEnv())
	require.NoError(t, err)
	assert.Equal(t, "model=:claude-3-opus:", v)
}

func TestInterpolateValue_NoMarkers(t *testing.T) {
	v, err := InterpolateValue("plain", testEnv())
	require.NoError(t, err)
	assert.Equal(t, "plain", v)
}

func TestHelperLibrary_UUIDAndHashes(t *testing.T) {
	env := testEnv()
	id, err := Eval("uuid()", env)
	require.NoError(t, err)
	assert.Len(t, id.(string), 36)

	hash, err := Eval(`md5("hello")`, env)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", hash)
}

func TestDeepClean(t *testing.T) {
	env := testEnv()
	v, err := Eval(`deepClean(body, ["model"])`, env)
	require.NoError(t, err)
	obj := v.(map[string]any)
	_, hasModel := obj["model"]
	assert.False(t, hasModel)
	assert.Equal(t, float64(1024), obj["max_tokens"])
}

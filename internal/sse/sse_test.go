//go:build !integration && !e2e

package sse

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bungee-go/internal/expreval"
	"github.com/user/bungee-go/internal/models"
)

func envBuilder() EnvBuilder {
	return func(body map[string]any, stream models.StreamContext) *expreval.Env {
		return expreval.NewEnv(&models.RequestContext{Body: body, Stream: &stream})
	}
}

func frame(data string) string {
	return "data: " + data + "\n\n"
}

func TestTransformer_StateMachine_MultiEventEndPhase(t *testing.T) {
	rules := &models.StreamOrLegacy{StateMachine: &models.StreamTransformRules{
		Start: &models.ModificationRules{Add: map[string]any{"type": "message_start"}},
		Chunk: &models.ModificationRules{Add: map[string]any{
			"type":  `{{ stream.chunkIndex === 0 ? "content_block_start" : "content_block_delta" }}`,
			"index": "{{ stream.chunkIndex }}",
		}},
		End: &models.ModificationRules{Add: map[string]any{
			"__multi_events": []any{
				map[string]any{"type": "message_delta"},
				map[string]any{"type": "message_stop"},
			},
		}},
	}}

	tr := New(rules, envBuilder())

	var upstream strings.Builder
	upstream.WriteString(frame(`{"n":0}`))
	upstream.WriteString(frame(`{"n":1}`))
	upstream.WriteString(frame(`{"n":2}`))
	upstream.WriteString(frame(`{"finishReason":"stop"}`))

	var out bytes.Buffer
	require.NoError(t, tr.Run(strings.NewReader(upstream.String()), &out))

	types := extractTypes(t, out.String())
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"message_delta",
		"message_stop",
	}, types)
}

func TestTransformer_Legacy_AppliesToEveryChunkAndPassesDone(t *testing.T) {
	rules := &models.StreamOrLegacy{Legacy: &models.ModificationRules{Add: map[string]any{"tagged": true}}}
	tr := New(rules, envBuilder())

	var upstream strings.Builder
	upstream.WriteString(frame(`{"n":0}`))
	upstream.WriteString("data: [DONE]\n\n")

	var out bytes.Buffer
	require.NoError(t, tr.Run(strings.NewReader(upstream.String()), &out))

	output := out.String()
	assert.Contains(t, output, `"tagged":true`)
	assert.Contains(t, output, "[DONE]")
}

func TestTransformer_FlushesEndOnStreamCloseWithoutTerminal(t *testing.T) {
	rules := &models.StreamOrLegacy{StateMachine: &models.StreamTransformRules{
		End: &models.ModificationRules{Add: map[string]any{"type": "message_stop"}},
	}}
	tr := New(rules, envBuilder())

	var upstream strings.Builder
	upstream.WriteString(frame(`{"n":0}`))

	var out bytes.Buffer
	require.NoError(t, tr.Run(strings.NewReader(upstream.String()), &out))

	assert.Contains(t, out.String(), "message_stop")
}

func TestTransformer_UnknownEventLineForwardedVerbatim(t *testing.T) {
	tr := New(nil, envBuilder())
	var upstream strings.Builder
	upstream.WriteString("event: ping\n\n")

	var out bytes.Buffer
	require.NoError(t, tr.Run(strings.NewReader(upstream.String()), &out))
	assert.Contains(t, out.String(), "event: ping")
}

func extractTypes(t *testing.T, stream string) []string {
	t.Helper()
	var types []string
	for _, line := range strings.Split(stream, "\n") {
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if strings.Contains(payload, `"message_start"`) {
			types = append(types, "message_start")
		} else if strings.Contains(payload, `"content_block_start"`) {
			types = append(types, "content_block_start")
		} else if strings.Contains(payload, `"content_block_delta"`) {
			types = append(types, "content_block_delta")
		} else if strings.Contains(payload, `"message_delta"`) {
			types = append(types, "message_delta")
		} else if strings.Contains(payload, `"message_stop"`) {
			types = append(types, "message_stop")
		}
	}
	return types
}

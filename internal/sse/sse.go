// Package sse implements the stateful Server-Sent-Events rewriter
// (spec.md §4.6): it reads an upstream text/event-stream body frame by
// frame, applies a route/upstream's stream rules (state-machine mode or
// legacy mode) to each event, and writes the rewritten stream to the
// client, including multi-event fan-out via the rule engine's
// `__multi_events` convention.
package sse

import (
	"fmt"
	"io"
	"strings"

	"github.com/user/bungee-go/internal/expreval"
	"github.com/user/bungee-go/internal/jsonutil"
	"github.com/user/bungee-go/internal/models"
	"github.com/user/bungee-go/internal/ruleengine"
)

const doneMarker = "[DONE]"

// EnvBuilder constructs the expression-evaluation environment for one
// frame, given the frame's parsed body and the current stream phase.
type EnvBuilder func(body map[string]any, stream models.StreamContext) *expreval.Env

// Transformer rewrites one upstream SSE response for one client. It is not
// safe for concurrent use — one instance per in-flight streaming request.
type Transformer struct {
	rules      *models.StreamOrLegacy
	buildEnv   EnvBuilder
	hasStarted bool
	isFinished bool
	chunkIndex int
}

// New builds a Transformer. rules may be nil, in which case the stream is
// forwarded unmodified.
func New(rules *models.StreamOrLegacy, buildEnv EnvBuilder) *Transformer {
	return &Transformer{rules: rules, buildEnv: buildEnv}
}

// Run reads upstream frame by frame and writes the rewritten stream to out.
// It returns once upstream is exhausted (io.EOF) or a hard error occurs.
func (t *Transformer) Run(upstream io.Reader, out io.Writer) error {
	var pending strings.Builder
	buf := make([]byte, 8192)

	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			if err := t.drainFrames(&pending, out); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if !t.isFinished {
		if err := t.flushEnd(out); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transformer) drainFrames(pending *strings.Builder, out io.Writer) error {
	for {
		frame, rest, ok := nextFrame(pending.String())
		if !ok {
			return nil
		}
		pending.Reset()
		pending.WriteString(rest)
		if err := t.processFrame(frame, out); err != nil {
			return err
		}
	}
}

func (t *Transformer) processFrame(frame string, out io.Writer) error {
	data, ok := extractData(frame)
	if !ok {
		if t.rules != nil && !t.rules.IsStateMachine() {
			// Legacy rules configured: non-data frames are dropped.
			return nil
		}
		return writeRaw(out, frame)
	}

	if data == doneMarker {
		return t.handleDone(out)
	}

	if t.rules == nil {
		return writeRaw(out, frame)
	}

	var body map[string]any
	if err := jsonutil.Unmarshal([]byte(data), &body); err != nil {
		// Not a JSON payload the transformer understands; forward verbatim.
		return writeRaw(out, frame)
	}

	if !t.rules.IsStateMachine() {
		return t.applyAndEmit(t.rules.Legacy, body, models.PhaseChunk, out)
	}
	return t.processStateMachine(body, out)
}

func (t *Transformer) processStateMachine(body map[string]any, out io.Writer) error {
	sm := t.rules.StateMachine

	if !t.hasStarted && sm.Start != nil {
		if err := t.applyAndEmit(sm.Start, body, models.PhaseStart, out); err != nil {
			return err
		}
	}
	t.hasStarted = true

	if isTerminalChunk(body) && sm.End != nil {
		if err := t.applyAndEmit(sm.End, body, models.PhaseEnd, out); err != nil {
			return err
		}
		t.isFinished = true
		return nil
	}

	if err := t.applyAndEmit(sm.Chunk, body, models.PhaseChunk, out); err != nil {
		return err
	}
	t.chunkIndex++
	return nil
}

func (t *Transformer) handleDone(out io.Writer) error {
	if t.rules == nil || !t.rules.IsStateMachine() {
		return writeRaw(out, "data: "+doneMarker)
	}
	if end := t.rules.StateMachine.End; end != nil && !t.isFinished {
		if err := t.applyAndEmit(end, map[string]any{}, models.PhaseEnd, out); err != nil {
			return err
		}
	}
	t.isFinished = true
	return nil
}

func (t *Transformer) flushEnd(out io.Writer) error {
	if t.rules == nil || !t.rules.IsStateMachine() {
		return nil
	}
	end := t.rules.StateMachine.End
	if end == nil {
		return nil
	}
	return t.applyAndEmit(end, map[string]any{}, models.PhaseEnd, out)
}

func (t *Transformer) applyAndEmit(rules *models.ModificationRules, body map[string]any, phase models.StreamPhase, out io.Writer) error {
	env := t.buildEnv(body, models.StreamContext{Phase: phase, ChunkIndex: t.chunkIndex})
	result, err := ruleengine.ApplyBody(rules, body, env)
	if err != nil {
		return fmt.Errorf("sse: applying %s rules: %w", phase, err)
	}
	return emitResult(result, out)
}

func emitResult(result any, out io.Writer) error {
	switch v := result.(type) {
	case []any:
		for _, item := range v {
			if err := emitOne(item, out); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		return emitOne(v, out)
	default:
		return nil
	}
}

func emitOne(v any, out io.Writer) error {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil
	}
	b, err := jsonutil.Marshal(obj)
	if err != nil {
		return fmt.Errorf("sse: marshaling emitted event: %w", err)
	}
	_, err = fmt.Fprintf(out, "data: %s\n\n", b)
	return err
}

func writeRaw(out io.Writer, frame string) error {
	_, err := fmt.Fprintf(out, "%s\n\n", frame)
	return err
}

// isTerminalChunk implements spec.md §4.6's terminal-chunk detection:
// Gemini's candidates[0].finishReason, OpenAI's choices[0].finish_reason,
// or a bare finishReason field.
func isTerminalChunk(body map[string]any) bool {
	if v, ok := firstArrayField(body, "candidates", "finishReason"); ok && truthyNonEmpty(v) {
		return true
	}
	if v, ok := firstArrayField(body, "choices", "finish_reason"); ok && truthyNonEmpty(v) {
		return true
	}
	if v, ok := body["finishReason"]; ok && truthyNonEmpty(v) {
		return true
	}
	return false
}

func firstArrayField(body map[string]any, arrKey, field string) (any, bool) {
	arr, ok := body[arrKey].([]any)
	if !ok || len(arr) == 0 {
		return nil, false
	}
	obj, ok := arr[0].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[field]
	return v, ok
}

func truthyNonEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	default:
		return true
	}
}

// nextFrame extracts the first complete SSE frame from s, accepting either
// a blank-line boundary of "\n\n" or "\r\n\r\n" — whichever occurs first.
func nextFrame(s string) (frame, rest string, ok bool) {
	idxLF := strings.Index(s, "\n\n")
	idxCRLF := strings.Index(s, "\r\n\r\n")

	switch {
	case idxLF == -1 && idxCRLF == -1:
		return "", s, false
	case idxCRLF == -1 || (idxLF != -1 && idxLF < idxCRLF):
		return s[:idxLF], s[idxLF+2:], true
	default:
		return s[:idxCRLF], s[idxCRLF+4:], true
	}
}

// extractData returns the first `data:` line's payload within frame.
func extractData(frame string) (string, bool) {
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "data:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
		}
	}
	return "", false
}

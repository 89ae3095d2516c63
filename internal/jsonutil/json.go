// Package jsonutil wraps JSON encode/decode behind sonic for request and
// response bodies, SSE payloads, config and transformer assets, with a
// deterministic-marshal escape hatch for tests that compare JSON bytes.
// It is the only importer of bytedance/sonic; the config model's custom
// unmarshalers and the supervisor/worker stdio protocol use encoding/json
// directly.
package jsonutil

import (
	"testing"

	sonicjson "github.com/bytedance/sonic"
)

var api = sonicjson.ConfigDefault

// RawMessage is an unprocessed JSON value, aliasing sonic's.
type RawMessage = sonicjson.NoCopyRawMessage

// Marshal encodes v as compact JSON.
func Marshal(v any) ([]byte, error) {
	if testing.Testing() {
		return MarshalForDeterministicTesting(v)
	}
	return api.Marshal(v)
}

// Unmarshal decodes JSON data into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// MarshalForDeterministicTesting sorts map keys via encoding/json's default
// behavior so golden-byte comparisons in tests are stable; sonic does not
// guarantee key order.
func MarshalForDeterministicTesting(v any) ([]byte, error) {
	return stdlibMarshal(v)
}

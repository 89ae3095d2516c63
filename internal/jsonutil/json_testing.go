package jsonutil

import "encoding/json"

// stdlibMarshal backs MarshalForDeterministicTesting; kept in its own file
// since it is the one place this package is allowed to import encoding/json.
func stdlibMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

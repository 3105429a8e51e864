// Package jsonx provides the JSON codec used for embedding literals and
// SPARQL results JSON, using Sonic instead of encoding/json for the
// allocation-heavy marshal/unmarshal paths in the store package.
//
// Trimmed from the teacher's internal/jsonx/sonic.go, which additionally
// wrapped streaming Decoder/Encoder types and byte-buffer
// Compact/Indent/HTMLEscape helpers this module never calls; only the
// Marshal/Unmarshal surface SemanticStore actually exercises is kept.
package jsonx

import "github.com/bytedance/sonic"

var config = sonic.Config{EscapeHTML: false, UseInt64: true}.Froze()

// Marshal returns the JSON encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	return config.Marshal(v)
}

// Unmarshal parses JSON-encoded data into v.
func Unmarshal(data []byte, v interface{}) error {
	return config.Unmarshal(data, v)
}

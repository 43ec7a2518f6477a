// Package partialjson provides best-effort decoding of possibly-truncated
// JSON, the kind produced by accumulating TOOL_CALL_ARGS deltas mid-stream.
// Parsing never returns an error to the caller: on failure the previous
// successfully parsed value (or nil, on the very first attempt) is returned
// unchanged, so a UI can keep rendering the last good preview while the
// model finishes emitting arguments.
package partialjson

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Parser incrementally decodes a growing JSON string, caching the last
// value that parsed successfully so a caller can render a stable preview
// between successful parses.
type Parser struct {
	last any
	ok   bool
}

// New returns a Parser with no cached value.
func New() *Parser {
	return &Parser{}
}

// Parse attempts to decode raw as JSON. It first tries raw verbatim, then
// falls back to jsonrepair's best-effort completion of a truncated
// document. When both fail, it returns the last value that did parse
// successfully (ok reports false only when nothing has ever parsed).
func (p *Parser) Parse(raw string) (value any, ok bool) {
	if v, err := decode(raw); err == nil {
		p.last, p.ok = v, true
		return v, true
	}
	if repaired, err := jsonrepair.JSONRepair(raw); err == nil {
		if v, err := decode(repaired); err == nil {
			p.last, p.ok = v, true
			return v, true
		}
	}
	return p.last, p.ok
}

// Parse is a stateless convenience wrapper around a fresh Parser, useful
// when no rolling preview needs to be maintained across calls.
func Parse(raw string) (value any, ok bool) {
	return New().Parse(raw)
}

func decode(raw string) (any, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

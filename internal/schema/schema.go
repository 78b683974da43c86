// Package schema validates tool outputs against their declared JSON Schema.
//
// Validation is stateless and runs after a tool call succeeds. A missing
// schema is a distinct, non-error outcome: most provider tools declare no
// output schema at all.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Status is the outcome of a validation.
type Status string

const (
	StatusValid    Status = "valid"
	StatusInvalid  Status = "invalid"
	StatusNoSchema Status = "no-schema"
)

// Result reports a validation outcome. Errors is populated only when
// Status is StatusInvalid.
type Result struct {
	Status Status          `json:"status"`
	Errors []string        `json:"errors,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// ContentItem is one element of a tool result's content list. Only
// text-typed items participate in content validation.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Validate checks output against schemaJSON. A nil or JSON-null schema
// yields no-schema. An empty object schema matches anything. A schema that
// fails to compile is reported as invalid, never raised.
func Validate(schemaJSON json.RawMessage, output any) Result {
	trimmed := bytes.TrimSpace(schemaJSON)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Result{Status: StatusNoSchema}
	}

	// The empty schema accepts every instance; skip compilation.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err == nil && len(probe) == 0 {
		return Result{Status: StatusValid, Schema: schemaJSON}
	}

	var sch jsonschema.Schema
	if err := json.Unmarshal(trimmed, &sch); err != nil {
		return invalid(schemaJSON, fmt.Sprintf("schema does not parse: %v", err))
	}

	resolved, err := sch.Resolve(nil)
	if err != nil {
		return invalid(schemaJSON, fmt.Sprintf("schema does not compile: %v", err))
	}

	if err := resolved.Validate(normalize(output)); err != nil {
		return invalid(schemaJSON, err.Error())
	}
	return Result{Status: StatusValid, Schema: schemaJSON}
}

// ValidateContent validates the textual payload of a tool result. All
// text-typed items are concatenated; the concatenation is parsed as JSON
// when possible and validated as a plain string otherwise. An empty text
// payload is trivially valid against any schema.
func ValidateContent(schemaJSON json.RawMessage, items []ContentItem) Result {
	var sb strings.Builder
	for _, item := range items {
		if item.Type == "text" {
			sb.WriteString(item.Text)
		}
	}
	text := sb.String()
	if text == "" {
		return Result{Status: StatusValid, Schema: schemaJSON}
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return Validate(schemaJSON, parsed)
	}
	return Validate(schemaJSON, text)
}

func invalid(schemaJSON json.RawMessage, msgs ...string) Result {
	return Result{Status: StatusInvalid, Errors: msgs, Schema: schemaJSON}
}

// normalize round-trips the output through JSON so struct values and typed
// maps validate the same way their wire form would.
func normalize(output any) any {
	switch output.(type) {
	case nil, bool, string, float64, map[string]any, []any:
		return output
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return output
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return output
	}
	return v
}

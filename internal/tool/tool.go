// Package tool provides the unified tool registry: the single execution
// surface the agent loop calls, merging tool definitions from multiple
// origins (built-in, plugin, MCP provider) behind one name index.
package tool

import (
	"context"
	"encoding/json"
	"time"
)

// Source tags where a registration came from. The set is closed; new
// origins get a named constant, not an ad-hoc string.
type Source string

const (
	SourcePrimary Source = "primary"
	SourcePlugin  Source = "plugin"
	SourceMCP     Source = "mcp"
)

// Definition is the boundary shape consumed by Register. InputSchema and
// OutputSchema are JSON Schema documents; OutputSchema is optional and,
// when present, successful results are checked against it.
type Definition struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// ExecutionContext is passed per call and never retained. Both it and the
// call arguments are deep-copied before the executor sees them, so neither
// side can mutate the other's view.
type ExecutionContext struct {
	Source    Source         `json:"source"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Result is the uniform outcome of a tool execution. Executors must return
// this exact shape; the registry reshapes failures, never successes.
type Result struct {
	Success bool           `json:"success"`
	Output  string         `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Executor runs one tool call.
type Executor func(ctx context.Context, args map[string]any, execCtx *ExecutionContext) Result

// Info is the full registration record for one tool, returned by lookups
// that need more than the definition.
type Info struct {
	Definition   Definition
	Source       Source
	Tags         []string
	RegisteredAt time.Time
}

// RegisterOptions modifies a single registration.
type RegisterOptions struct {
	// AllowOverwrite permits replacing an existing registration with the
	// same name; without it a duplicate name is rejected.
	AllowOverwrite bool
	// Tags are free-form capability labels used for filtering.
	Tags []string
}

// BatchItem is one entry of a bulk registration.
type BatchItem struct {
	Definition Definition
	Executor   Executor
	Tags       []string
}

// Stats aggregates registry contents for observability.
type Stats struct {
	Total    int            `json:"total"`
	BySource map[Source]int `json:"bySource"`
	ByTag    map[string]int `json:"byTag"`
}

// Package mcp connects to Model Context Protocol providers over the
// official MCP Go SDK and exposes their tools through the unified tool
// registry.
package mcp

import (
	"encoding/json"

	"github.com/toolgate/toolgate/internal/invariant"
	"github.com/toolgate/toolgate/internal/remedy"
)

// TransportType selects how a provider is reached.
type TransportType string

const (
	TransportStdio      TransportType = "stdio"
	TransportHTTP       TransportType = "http"
	TransportSSE        TransportType = "sse"
	TransportStreamable TransportType = "streamable_http"
)

// Config defines one provider connection. Exactly one transport shape
// applies: stdio configs carry a command, network configs carry a URL.
// Credential resolution belongs to the configuration loader; values arrive
// here already expanded.
type Config struct {
	Enabled     bool              `json:"enabled"`
	Type        TransportType     `json:"type"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // milliseconds
}

// Validate checks the config shape.
func (c *Config) Validate() error {
	return invariant.ValidTransportConfig(invariant.TransportShape{
		Type:       string(c.Type),
		HasCommand: len(c.Command) > 0,
		HasURL:     c.URL != "",
	})
}

// TransportKind reports the transport for failure diagnosis.
func (c *Config) TransportKind() string {
	return string(c.Type)
}

// remedyKind maps the config's transport to the remediator's taxonomy.
func (c *Config) remedyKind() remedy.TransportKind {
	switch c.Type {
	case TransportStdio:
		return remedy.TransportStdio
	case TransportHTTP:
		return remedy.TransportHTTP
	case TransportSSE:
		return remedy.TransportSSE
	case TransportStreamable:
		return remedy.TransportStreamable
	default:
		return remedy.TransportUnknown
	}
}

// Status represents a provider's connection status.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisabled     Status = "disabled"
	StatusFailed       Status = "failed"
	StatusConnecting   Status = "connecting"
	StatusDisconnected Status = "disconnected"
)

// Tool is a provider tool as exposed to the registry, with the
// server-prefixed name.
type Tool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`

	// original is the provider-side name before prefixing.
	original string
}

// Resource represents a provider resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContent represents one chunk of a read resource.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ServerInfo identifies a connected provider implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerStatus is the externally visible state of one provider.
type ServerStatus struct {
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	ToolCount int     `json:"toolCount"`
	Error     *string `json:"error,omitempty"`
}

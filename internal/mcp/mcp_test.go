package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/tool"
)

func newTestClient() *Client {
	return New(tool.NewRegistry(), nil)
}

func TestNewClient(t *testing.T) {
	client := newTestClient()
	assert.NotNil(t, client)
	assert.Equal(t, 0, client.ServerCount())
	assert.Equal(t, 0, client.ConnectedCount())
}

func TestClient_Status_Empty(t *testing.T) {
	client := newTestClient()
	assert.Empty(t, client.Status())
}

func TestClient_Close(t *testing.T) {
	client := newTestClient()
	assert.NoError(t, client.Close())
}

func TestClient_GetServer_NotFound(t *testing.T) {
	client := newTestClient()
	_, err := client.GetServer("nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server not found")
}

func TestClient_RemoveServer_NotFound(t *testing.T) {
	client := newTestClient()
	err := client.RemoveServer("nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server not found")
}

func TestClient_Tools_Empty(t *testing.T) {
	client := newTestClient()
	assert.Empty(t, client.Tools())
}

func TestClient_AddServer_Disabled(t *testing.T) {
	client := newTestClient()
	err := client.AddServer(context.Background(), "disabled-one", &Config{
		Enabled: false,
		Type:    TransportStdio,
		Command: []string{"some-server"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, client.ServerCount())
	assert.Equal(t, 0, client.ConnectedCount())

	st, err := client.GetServer("disabled-one")
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, st.Status)
}

func TestClient_AddServer_Duplicate(t *testing.T) {
	client := newTestClient()
	cfg := &Config{Enabled: false, Type: TransportStdio, Command: []string{"srv"}}
	require.NoError(t, client.AddServer(context.Background(), "dup", cfg))

	err := client.AddServer(context.Background(), "dup", cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestClient_AddServer_InvalidName(t *testing.T) {
	client := newTestClient()
	err := client.AddServer(context.Background(), "Bad Name!", &Config{
		Enabled: true,
		Type:    TransportStdio,
		Command: []string{"srv"},
	})
	assert.Error(t, err)
}

func TestClient_CallTool_NoServer(t *testing.T) {
	client := newTestClient()
	_, err := client.CallTool(context.Background(), "missing_tool", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no server found for tool")
}

func TestClient_ReadResource_InvalidURI(t *testing.T) {
	client := newTestClient()

	_, err := client.ReadResource(context.Background(), "http://not-mcp")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid MCP URI")

	_, err = client.ReadResource(context.Background(), "mcp://only-server")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid MCP URI format")
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", "simple"},
		{"with-dash", "with_dash"},
		{"with_underscore", "with_underscore"},
		{"with.dot", "with_dot"},
		{"with space", "with_space"},
		{"CamelCase", "CamelCase"},
		{"with123numbers", "with123numbers"},
		{"special!@#chars", "special___chars"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"stdio with command", Config{Type: TransportStdio, Command: []string{"srv"}}, false},
		{"stdio without command", Config{Type: TransportStdio}, true},
		{"stdio with url", Config{Type: TransportStdio, Command: []string{"srv"}, URL: "http://x"}, true},
		{"http with url", Config{Type: TransportHTTP, URL: "http://localhost:8080"}, false},
		{"http without url", Config{Type: TransportHTTP}, true},
		{"http with command", Config{Type: TransportHTTP, URL: "http://x", Command: []string{"srv"}}, true},
		{"sse with url", Config{Type: TransportSSE, URL: "http://localhost:8080/sse"}, false},
		{"streamable with url", Config{Type: TransportStreamable, URL: "http://localhost:8080/mcp"}, false},
		{"unknown type", Config{Type: "carrier-pigeon", URL: "http://x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_TransportKind(t *testing.T) {
	cfg := Config{Type: TransportSSE}
	assert.Equal(t, "sse", cfg.TransportKind())
}

func TestFromSDKTool_Prefixing(t *testing.T) {
	out := Tool{}
	out.Name = sanitizeName("my-server") + "_" + sanitizeName("read.file")
	assert.Equal(t, "my_server_read_file", out.Name)
}

func TestTool_Serialization(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}}}`)
	tl := Tool{
		Name:        "srv_echo",
		Description: "echoes input",
		InputSchema: schema,
	}

	data, err := json.Marshal(tl)
	require.NoError(t, err)

	var decoded Tool
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, tl.Name, decoded.Name)
	assert.Equal(t, tl.Description, decoded.Description)
	assert.JSONEq(t, string(schema), string(decoded.InputSchema))
}

func TestIsTransportFailure(t *testing.T) {
	assert.False(t, isTransportFailure(errors.New("tool error: division by zero")))
	assert.False(t, isTransportFailure(errors.New("tool execution failed")))
	assert.True(t, isTransportFailure(errors.New("connection refused")))
	assert.True(t, isTransportFailure(errors.New("context deadline exceeded")))
}

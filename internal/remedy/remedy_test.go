package remedy

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnose_CommandNotFound(t *testing.T) {
	err := errors.New(`exec: "mcp-server-git": executable file not found in $PATH`)
	d := Diagnose(err, TransportStdio)
	assert.Equal(t, "Server command not found", d.Title)
	assert.NotEmpty(t, d.Steps)
	assert.Contains(t, d.DocsCommand, "which")
}

func TestDiagnose_ConnectionRefused(t *testing.T) {
	err := errors.New("dial tcp 127.0.0.1:8931: connect: connection refused")
	d := Diagnose(err, TransportHTTP)
	assert.Equal(t, "Connection refused", d.Title)
}

func TestDiagnose_HostNotFound(t *testing.T) {
	err := errors.New("dial tcp: lookup mcp.internal.example: no such host")
	d := Diagnose(err, TransportSSE)
	assert.Equal(t, "Host not found", d.Title)
	assert.Contains(t, d.DocsCommand, "nslookup")
}

func TestDiagnose_TLS(t *testing.T) {
	err := errors.New("x509: certificate signed by unknown authority")
	d := Diagnose(err, TransportHTTP)
	assert.Equal(t, "TLS verification failed", d.Title)
}

func TestDiagnose_HTTPStatuses(t *testing.T) {
	cases := map[string]string{
		"HTTP error 401: unauthorized":   "Authentication failed (HTTP 401)",
		"HTTP error 403: forbidden":      "Access forbidden (HTTP 403)",
		"HTTP error 500: internal error": "Server error (HTTP 500)",
		"HTTP error 502: bad gateway":    "Bad gateway (HTTP 502)",
		"HTTP error 503: unavailable":    "Service unavailable (HTTP 503)",
	}
	for msg, title := range cases {
		d := Diagnose(errors.New(msg), TransportStreamable)
		assert.Equal(t, title, d.Title, "message %q", msg)
	}
}

func TestDiagnose_InitializeFailure(t *testing.T) {
	err := fmt.Errorf("failed to initialize session: %w", errors.New("EOF"))
	d := Diagnose(err, TransportStdio)
	assert.Equal(t, "Protocol initialization failed", d.Title)
}

func TestDiagnose_UnknownTool(t *testing.T) {
	d := Diagnose(errors.New("no server found for tool: calc_sum"), TransportUnknown)
	assert.Equal(t, "Unknown tool", d.Title)
}

func TestDiagnose_PermissionDenied(t *testing.T) {
	d := Diagnose(errors.New("fork/exec ./server.py: permission denied"), TransportStdio)
	assert.Equal(t, "Permission denied", d.Title)
}

func TestDiagnose_FallbackPerTransport(t *testing.T) {
	err := errors.New("something entirely novel went wrong")

	d := Diagnose(err, TransportStdio)
	assert.Equal(t, "Server connection failed (stdio)", d.Title)
	joined := strings.Join(d.Steps, " ")
	assert.Contains(t, joined, "interactive shell")

	d = Diagnose(err, TransportHTTP)
	assert.Equal(t, "Server connection failed (http)", d.Title)

	d = Diagnose(err, TransportSSE)
	assert.Equal(t, "Server connection failed (sse)", d.Title)

	d = Diagnose(err, TransportUnknown)
	assert.Equal(t, "Server connection failed", d.Title)
}

func TestDiagnose_CredentialHint(t *testing.T) {
	err := errors.New("HTTP error 401: invalid api key")
	d := Diagnose(err, TransportHTTP)
	require.NotEmpty(t, d.Steps)
	last := d.Steps[len(d.Steps)-1]
	assert.Contains(t, last, "export")

	// The hint applies even when only the fallback matched.
	d = Diagnose(errors.New("weird token mishap"), TransportStdio)
	last = d.Steps[len(d.Steps)-1]
	assert.Contains(t, last, "export")

	// And never when no credential term appears.
	d = Diagnose(errors.New("connection refused"), TransportHTTP)
	for _, step := range d.Steps {
		assert.NotContains(t, step, "export")
	}
}

func TestDiagnose_NilError(t *testing.T) {
	d := Diagnose(nil, TransportStdio)
	assert.Equal(t, "No error", d.Title)
	assert.Empty(t, d.Steps)
}

func TestFormat(t *testing.T) {
	d := Diagnosis{
		Title:       "Connection refused",
		Steps:       []string{"Check the server is running", "Verify host and port"},
		DocsCommand: "curl -v <url>",
	}
	out := Format(d)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Connection refused", lines[0])
	assert.Contains(t, lines[1], "1. Check the server is running")
	assert.Contains(t, lines[2], "2. Verify host and port")
	assert.Contains(t, lines[3], "Try: curl -v <url>")
}

func TestFormat_NoDocsCommand(t *testing.T) {
	out := Format(Diagnosis{Title: "T", Steps: []string{"s"}})
	assert.NotContains(t, out, "Try:")
}

// Package remedy turns raw provider failures into human-actionable
// guidance. Classification is pattern-based over error codes and message
// substrings and exists purely for diagnosis; control flow never branches
// on it.
package remedy

import (
	"fmt"
	"strings"
)

// TransportKind identifies the transport a failing provider uses, when
// known. It selects the generic fallback guidance.
type TransportKind string

const (
	TransportStdio      TransportKind = "stdio"
	TransportHTTP       TransportKind = "http"
	TransportSSE        TransportKind = "sse"
	TransportStreamable TransportKind = "streamable_http"
	TransportUnknown    TransportKind = ""
)

// Diagnosis is a structured, human-readable explanation of a failure.
type Diagnosis struct {
	Title       string
	Steps       []string
	DocsCommand string
}

// pattern maps message substrings to fixed guidance. Every substring must
// appear for the pattern to match.
type pattern struct {
	substrings  []string
	title       string
	steps       []string
	docsCommand string
}

var patterns = []pattern{
	{
		substrings: []string{"executable file not found"},
		title:      "Server command not found",
		steps: []string{
			"Verify the command is installed and on your PATH",
			"Use an absolute path to the executable in the server config",
			"For npm-based servers, check that npx can resolve the package",
		},
		docsCommand: "which <command>",
	},
	{
		substrings: []string{"permission denied"},
		title:      "Permission denied",
		steps: []string{
			"Check that the server executable has execute permission (chmod +x)",
			"Verify the current user may access the configured path or port",
		},
	},
	{
		substrings: []string{"connection refused"},
		title:      "Connection refused",
		steps: []string{
			"Check that the server process is running",
			"Verify the host and port in the server URL",
			"Check for a local firewall blocking the connection",
		},
		docsCommand: "curl -v <url>",
	},
	{
		substrings: []string{"no such host"},
		title:      "Host not found",
		steps: []string{
			"Check the hostname in the server URL for typos",
			"Verify DNS resolution works from this machine",
			"If the server is internal, confirm you are on the right network or VPN",
		},
		docsCommand: "nslookup <host>",
	},
	{
		substrings: []string{"certificate"},
		title:      "TLS verification failed",
		steps: []string{
			"Check that the server certificate is valid and not expired",
			"If the server uses a private CA, install the CA certificate locally",
			"Confirm the URL scheme (https) matches what the server expects",
		},
	},
	{
		substrings: []string{"tls"},
		title:      "TLS verification failed",
		steps: []string{
			"Check that the server certificate is valid and not expired",
			"If the server uses a private CA, install the CA certificate locally",
			"Confirm the URL scheme (https) matches what the server expects",
		},
	},
	{
		substrings: []string{"401"},
		title:      "Authentication failed (HTTP 401)",
		steps: []string{
			"Check that the API key or token in the server headers is set and current",
			"Verify the credential has not expired or been revoked",
		},
	},
	{
		substrings: []string{"unauthorized"},
		title:      "Authentication failed (HTTP 401)",
		steps: []string{
			"Check that the API key or token in the server headers is set and current",
			"Verify the credential has not expired or been revoked",
		},
	},
	{
		substrings: []string{"403"},
		title:      "Access forbidden (HTTP 403)",
		steps: []string{
			"The credential is recognized but lacks permission for this server",
			"Check the account or token scopes with the server operator",
		},
	},
	{
		substrings: []string{"502"},
		title:      "Bad gateway (HTTP 502)",
		steps: []string{
			"The server's upstream is failing; this is usually transient",
			"Retry shortly, and check the provider's status page if it persists",
		},
	},
	{
		substrings: []string{"503"},
		title:      "Service unavailable (HTTP 503)",
		steps: []string{
			"The server is overloaded or down for maintenance",
			"Retry with backoff; check the provider's status page if it persists",
		},
	},
	{
		substrings: []string{"500"},
		title:      "Server error (HTTP 500)",
		steps: []string{
			"The server failed internally; the request itself is probably fine",
			"Check the server's own logs, and report the failure to its maintainer",
		},
	},
	{
		substrings: []string{"failed to initialize"},
		title:      "Protocol initialization failed",
		steps: []string{
			"The process started but did not complete the MCP handshake",
			"Run the server command manually and watch its stderr for startup errors",
			"Check that the server speaks the expected MCP protocol version",
		},
	},
	{
		substrings: []string{"initialize"},
		title:      "Protocol initialization failed",
		steps: []string{
			"The process started but did not complete the MCP handshake",
			"Run the server command manually and watch its stderr for startup errors",
			"Check that the server speaks the expected MCP protocol version",
		},
	},
	{
		substrings: []string{"tool not found"},
		title:      "Unknown tool",
		steps: []string{
			"The server no longer exposes this tool; list the server's tools to confirm",
			"A server restart may have changed its tool set; reconnect to refresh",
		},
	},
	{
		substrings: []string{"no server found for tool"},
		title:      "Unknown tool",
		steps: []string{
			"No connected server exposes this tool; check the server connection status",
			"A server restart may have changed its tool set; reconnect to refresh",
		},
	},
}

// credentialTerms trigger the environment-variable hint regardless of which
// pattern matched.
var credentialTerms = []string{"key", "token", "secret", "auth", "credential"}

// Diagnose maps err to guidance. When no specific pattern matches, the
// fallback is transport-specific generic advice.
func Diagnose(err error, transport TransportKind) Diagnosis {
	if err == nil {
		return Diagnosis{Title: "No error"}
	}

	msg := strings.ToLower(err.Error())
	d := match(msg)
	if d == nil {
		d = fallback(transport)
	}

	out := *d
	if mentionsCredentials(msg) {
		out.Steps = append(append([]string{}, out.Steps...),
			"If a credential is read from the environment, export it before launching: export NAME=value (or add it to your shell profile)")
	}
	return out
}

func match(msg string) *Diagnosis {
	for _, p := range patterns {
		all := true
		for _, s := range p.substrings {
			if !strings.Contains(msg, s) {
				all = false
				break
			}
		}
		if all {
			return &Diagnosis{Title: p.title, Steps: p.steps, DocsCommand: p.docsCommand}
		}
	}
	return nil
}

func fallback(transport TransportKind) *Diagnosis {
	switch transport {
	case TransportStdio:
		return &Diagnosis{
			Title: "Server connection failed (stdio)",
			Steps: []string{
				"Verify the command is installed and runnable from a terminal",
				"Check that the arguments start a server script, not an interactive shell that waits for input",
				"Run the command manually and watch for errors on stderr",
			},
		}
	case TransportHTTP, TransportStreamable:
		return &Diagnosis{
			Title: "Server connection failed (http)",
			Steps: []string{
				"Check that the URL is reachable from this machine",
				"Verify any required headers are configured for the server",
			},
			DocsCommand: "curl -v <url>",
		}
	case TransportSSE:
		return &Diagnosis{
			Title: "Server connection failed (sse)",
			Steps: []string{
				"Check that the URL is reachable and serves an event stream",
				"Some proxies buffer or break server-sent events; try connecting directly",
			},
			DocsCommand: "curl -N <url>",
		}
	default:
		return &Diagnosis{
			Title: "Server connection failed",
			Steps: []string{
				"Check the server configuration for this provider",
				"Review the logs for the underlying transport error",
			},
		}
	}
}

func mentionsCredentials(msg string) bool {
	for _, term := range credentialTerms {
		if strings.Contains(msg, term) {
			return true
		}
	}
	return false
}

// Format renders a diagnosis as the multi-line block shown to users:
// title, numbered steps, optional diagnostic command.
func Format(d Diagnosis) string {
	var sb strings.Builder
	sb.WriteString(d.Title)
	for i, step := range d.Steps {
		sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, step))
	}
	if d.DocsCommand != "" {
		sb.WriteString("\n  Try: " + d.DocsCommand)
	}
	return sb.String()
}

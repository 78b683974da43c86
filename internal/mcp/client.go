package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/toolgate/toolgate/internal/event"
	"github.com/toolgate/toolgate/internal/invariant"
	"github.com/toolgate/toolgate/internal/keyedmutex"
	"github.com/toolgate/toolgate/internal/logging"
	"github.com/toolgate/toolgate/internal/reconnect"
	"github.com/toolgate/toolgate/internal/remedy"
	"github.com/toolgate/toolgate/internal/tool"
)

const defaultTimeout = 5 * time.Second

// Client manages provider connections. Every state-mutating operation
// against a given provider runs under that provider's keyed mutex entry;
// operations against different providers proceed independently.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*server
	sdkClient *sdkmcp.Client

	locks      *keyedmutex.Map
	reconnects *reconnect.Manager
	registry   *tool.Registry
	log        zerolog.Logger
}

// server is one tracked provider connection.
type server struct {
	name       string
	config     *Config
	session    *sdkmcp.ClientSession
	tools      []Tool
	status     Status
	err        string
	serverInfo *ServerInfo
}

// New creates a client wired to the given registry and reconnection
// manager. Either may be nil, in which case the process-wide defaults are
// used.
func New(registry *tool.Registry, reconnects *reconnect.Manager) *Client {
	if registry == nil {
		registry = tool.Default()
	}
	if reconnects == nil {
		reconnects = reconnect.New(nil)
	}
	sdkClient := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "toolgate",
		Version: "1.0.0",
	}, nil)

	return &Client{
		servers:    make(map[string]*server),
		sdkClient:  sdkClient,
		locks:      keyedmutex.New(),
		reconnects: reconnects,
		registry:   registry,
		log:        logging.Component("mcp"),
	}
}

// Reconnects exposes the reconnection manager for status reporting.
func (c *Client) Reconnects() *reconnect.Manager {
	return c.reconnects
}

// Registry exposes the tool registry this client registers into.
func (c *Client) Registry() *tool.Registry {
	return c.registry
}

// AddServer connects to a provider and registers its tools. On connection
// failure the server is tracked as failed, a reconnection is scheduled,
// and the returned error carries the remediation diagnosis.
func (c *Client) AddServer(ctx context.Context, name string, config *Config) error {
	if err := invariant.ValidIdentifier(name, "server name"); err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if _, ok := c.servers[name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("server already exists: %s", name)
	}
	if !config.Enabled {
		c.servers[name] = &server{name: name, config: config, status: StatusDisabled}
		c.mu.Unlock()
		return nil
	}
	c.servers[name] = &server{name: name, config: config, status: StatusConnecting}
	c.mu.Unlock()

	err := c.locks.RunExclusive(ctx, name, func() error {
		return c.connect(ctx, name, config)
	})
	if err != nil {
		c.markFailed(name, err)
		c.scheduleReconnect(name, config)
		diag := remedy.Diagnose(err, config.remedyKind())
		return fmt.Errorf("connect %s: %w\n%s", name, err, remedy.Format(diag))
	}
	return nil
}

// connect dials the provider, lists its tools and registers them. Caller
// holds the server's keyed mutex entry.
func (c *Client) connect(ctx context.Context, name string, config *Config) error {
	timeout := time.Duration(config.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = defaultTimeout
	}

	session, info, err := c.dial(ctx, config, timeout)
	if err != nil {
		return err
	}

	listCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := session.ListTools(listCtx, nil)
	if err != nil {
		session.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]Tool, len(result.Tools))
	for i, t := range result.Tools {
		tools[i] = fromSDKTool(name, t)
	}

	c.mu.Lock()
	s := c.servers[name]
	if s == nil {
		s = &server{name: name, config: config}
		c.servers[name] = s
	}
	if s.session != nil {
		s.session.Close()
	}
	s.session = session
	s.tools = tools
	s.status = StatusConnected
	s.err = ""
	s.serverInfo = info
	c.mu.Unlock()

	c.registerTools(name, tools)

	c.log.Info().Str("server", name).Int("tools", len(tools)).Msg("server connected")
	event.Publish(event.Event{
		Type: event.ServerConnected,
		Data: event.ServerConnectedData{ServerName: name, ToolCount: len(tools)},
	})
	return nil
}

// dial opens a session over the configured transport. For plain "http"
// the streamable transport is tried first, then SSE, matching how remote
// providers commonly downgrade.
func (c *Client) dial(ctx context.Context, config *Config, timeout time.Duration) (*sdkmcp.ClientSession, *ServerInfo, error) {
	switch config.Type {
	case TransportStdio:
		if len(config.Command) == 0 {
			return nil, nil, fmt.Errorf("empty command")
		}
		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.Command(config.Command[0], config.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range config.Environment {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		return c.open(connectCtx, &sdkmcp.CommandTransport{Command: cmd})

	case TransportSSE:
		httpClient := httpClientWithHeaders(config.Headers)
		return c.open(ctx, &sdkmcp.SSEClientTransport{Endpoint: config.URL, HTTPClient: httpClient})

	case TransportStreamable:
		httpClient := httpClientWithHeaders(config.Headers)
		return c.open(ctx, &sdkmcp.StreamableClientTransport{Endpoint: config.URL, HTTPClient: httpClient})

	case TransportHTTP:
		httpClient := httpClientWithHeaders(config.Headers)
		candidates := []struct {
			name      string
			transport sdkmcp.Transport
		}{
			{"streamable", &sdkmcp.StreamableClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
			{"sse", &sdkmcp.SSEClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
		}
		var lastErr error
		for _, cand := range candidates {
			session, info, err := c.open(ctx, cand.transport)
			if err != nil {
				lastErr = fmt.Errorf("%s transport: %w", cand.name, err)
				continue
			}
			return session, info, nil
		}
		return nil, nil, lastErr

	default:
		return nil, nil, fmt.Errorf("unknown transport type: %s", config.Type)
	}
}

func (c *Client) open(ctx context.Context, transport sdkmcp.Transport) (*sdkmcp.ClientSession, *ServerInfo, error) {
	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	var info *ServerInfo
	if initResult := session.InitializeResult(); initResult != nil && initResult.ServerInfo != nil {
		info = &ServerInfo{
			Name:    initResult.ServerInfo.Name,
			Version: initResult.ServerInfo.Version,
		}
	}
	return session, info, nil
}

func httpClientWithHeaders(headers map[string]string) *http.Client {
	client := &http.Client{}
	if len(headers) == 0 {
		return client
	}
	client.Transport = &headerRoundTripper{headers: headers, next: http.DefaultTransport}
	return client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}

// markFailed records a connection failure without touching an existing
// healthy session.
func (c *Client) markFailed(name string, err error) {
	c.mu.Lock()
	if s := c.servers[name]; s != nil {
		s.status = StatusFailed
		s.err = err.Error()
	}
	c.mu.Unlock()

	event.Publish(event.Event{
		Type: event.ServerDisconnected,
		Data: event.ServerDisconnectedData{ServerName: name, Error: err.Error()},
	})
}

// scheduleReconnect hands the provider to the reconnection manager.
// Scheduling while an attempt is already pending is a no-op.
func (c *Client) scheduleReconnect(name string, config *Config) {
	_, err := c.reconnects.Schedule(name, config, func(ctx context.Context, cfg any) error {
		conf, ok := cfg.(*Config)
		if !ok {
			return fmt.Errorf("unexpected reconnect config type %T", cfg)
		}
		return c.locks.RunExclusive(ctx, name, func() error {
			return c.connect(ctx, name, conf)
		})
	})
	if err != nil {
		c.log.Error().Str("server", name).Err(err).Msg("failed to schedule reconnection")
	}
}

// CallTool executes a prefixed tool on its provider, serialized under the
// provider's mutex entry. A transport-level failure marks the server
// disconnected and schedules a reconnection.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (string, error) {
	serverName, originalName, s := c.resolve(toolName)
	if s == nil {
		return "", fmt.Errorf("no server found for tool: %s", toolName)
	}

	var output string
	err := c.locks.RunExclusive(ctx, serverName, func() error {
		c.mu.RLock()
		session := s.session
		c.mu.RUnlock()
		if session == nil {
			return fmt.Errorf("server not connected: %s", serverName)
		}

		result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      originalName,
			Arguments: args,
		})
		if err != nil {
			return err
		}
		text := textContent(result)
		if result.IsError {
			if text == "" {
				return fmt.Errorf("tool execution failed")
			}
			return fmt.Errorf("tool error: %s", text)
		}
		output = text
		return nil
	})
	if err != nil {
		if isTransportFailure(err) {
			c.markFailed(serverName, err)
			c.mu.RLock()
			config := s.config
			c.mu.RUnlock()
			c.scheduleReconnect(serverName, config)
		}
		return "", err
	}
	return output, nil
}

// resolve maps a prefixed tool name back to its server and original name.
func (c *Client) resolve(toolName string) (serverName, originalName string, s *server) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, srv := range c.servers {
		if srv.status != StatusConnected {
			continue
		}
		prefix := sanitizeName(name) + "_"
		if !strings.HasPrefix(toolName, prefix) {
			continue
		}
		stripped := strings.TrimPrefix(toolName, prefix)
		for _, t := range srv.tools {
			if strings.TrimPrefix(t.Name, prefix) == stripped {
				return name, t.originalName(prefix), srv
			}
		}
	}
	return "", "", nil
}

// originalName recovers the provider-side tool name from the prefixed one.
func (t Tool) originalName(prefix string) string {
	if t.original != "" {
		return t.original
	}
	return strings.TrimPrefix(t.Name, prefix)
}

// Tools returns prefixed tools from all connected providers, sorted.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []Tool
	for _, s := range c.servers {
		if s.status != StatusConnected {
			continue
		}
		all = append(all, s.tools...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// ListResources lists resources from all connected providers, URI-prefixed
// with the server name.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	c.mu.RLock()
	snapshot := make(map[string]*sdkmcp.ClientSession)
	for name, s := range c.servers {
		if s.status == StatusConnected && s.session != nil {
			snapshot[name] = s.session
		}
	}
	c.mu.RUnlock()

	var all []Resource
	for name, session := range snapshot {
		result, err := session.ListResources(ctx, nil)
		if err != nil {
			continue // skip providers without resource support
		}
		for _, r := range result.Resources {
			all = append(all, Resource{
				URI:         fmt.Sprintf("mcp://%s/%s", name, r.URI),
				Name:        r.Name,
				Description: r.Description,
				MimeType:    r.MIMEType,
			})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].URI < all[j].URI })
	return all, nil
}

// ReadResource reads an mcp://server/uri resource.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]ResourceContent, error) {
	if !strings.HasPrefix(uri, "mcp://") {
		return nil, fmt.Errorf("invalid MCP URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "mcp://"), "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid MCP URI format: %s", uri)
	}
	serverName, resourceURI := parts[0], parts[1]

	c.mu.RLock()
	s, ok := c.servers[serverName]
	var session *sdkmcp.ClientSession
	if ok {
		session = s.session
	}
	c.mu.RUnlock()

	if !ok || session == nil {
		return nil, fmt.Errorf("server not connected: %s", serverName)
	}

	result, err := session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: resourceURI})
	if err != nil {
		return nil, err
	}
	contents := make([]ResourceContent, len(result.Contents))
	for i, rc := range result.Contents {
		contents[i] = ResourceContent{
			URI:      rc.URI,
			MimeType: rc.MIMEType,
			Text:     rc.Text,
		}
		if len(rc.Blob) > 0 {
			contents[i].Blob = string(rc.Blob)
		}
	}
	return contents, nil
}

// Status returns the status of every tracked server, sorted by name.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ServerStatus, 0, len(c.servers))
	for name, s := range c.servers {
		st := ServerStatus{Name: name, Status: s.status, ToolCount: len(s.tools)}
		if s.err != "" {
			errCopy := s.err
			st.Error = &errCopy
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetServer returns the status of one server.
func (c *Client) GetServer(name string) (*ServerStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.servers[name]
	if !ok {
		return nil, fmt.Errorf("server not found: %s", name)
	}
	st := &ServerStatus{Name: name, Status: s.status, ToolCount: len(s.tools)}
	if s.err != "" {
		errCopy := s.err
		st.Error = &errCopy
	}
	return st, nil
}

// RemoveServer disconnects a server, cancels any pending reconnection and
// unregisters its tools.
func (c *Client) RemoveServer(name string) error {
	c.mu.Lock()
	s, ok := c.servers[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("server not found: %s", name)
	}
	if s.session != nil {
		s.session.Close()
	}
	tools := s.tools
	delete(c.servers, name)
	c.mu.Unlock()

	c.reconnects.Cancel(name)
	for _, t := range tools {
		c.registry.Unregister(t.Name)
	}
	return nil
}

// Close disconnects every server and cancels all reconnection state.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, s := range c.servers {
		if s.session != nil {
			s.session.Close()
		}
	}
	c.servers = make(map[string]*server)
	c.mu.Unlock()

	c.reconnects.CancelAll()
	c.registry.Clear(tool.SourceMCP)
	return nil
}

// ServerCount returns the number of configured servers.
func (c *Client) ServerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.servers)
}

// ConnectedCount returns the number of connected servers.
func (c *Client) ConnectedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, s := range c.servers {
		if s.status == StatusConnected {
			count++
		}
	}
	return count
}

// textContent concatenates the text items of a tool result.
func textContent(result *sdkmcp.CallToolResult) string {
	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*sdkmcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// isTransportFailure distinguishes connection-level failures (which should
// trigger reconnection) from tool-level errors reported by a healthy
// server.
func isTransportFailure(err error) bool {
	msg := err.Error()
	if strings.HasPrefix(msg, "tool error:") || msg == "tool execution failed" {
		return false
	}
	return true
}

// fromSDKTool converts an SDK tool into the registry shape, prefixing the
// name with the sanitized server name.
func fromSDKTool(serverName string, t *sdkmcp.Tool) Tool {
	out := Tool{
		Name:        sanitizeName(serverName) + "_" + sanitizeName(t.Name),
		Description: t.Description,
		original:    t.Name,
	}
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			out.InputSchema = raw
		}
	}
	if t.OutputSchema != nil {
		if raw, err := json.Marshal(t.OutputSchema); err == nil {
			out.OutputSchema = raw
		}
	}
	return out
}

// sanitizeName replaces non-alphanumeric characters with underscores so
// prefixed tool names stay valid identifiers for model-facing tool lists.
func sanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

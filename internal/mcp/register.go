package mcp

import (
	"context"

	"github.com/toolgate/toolgate/internal/tool"
)

// registerTools registers every prefixed provider tool as an executor that
// routes back through CallTool. Re-registration after a reconnect
// overwrites the previous entries in place.
func (c *Client) registerTools(serverName string, tools []Tool) {
	for _, t := range tools {
		def := tool.Definition{
			Name:         t.Name,
			Description:  t.Description,
			InputSchema:  t.InputSchema,
			OutputSchema: t.OutputSchema,
		}
		opts := tool.RegisterOptions{
			AllowOverwrite: true,
			Tags:           []string{serverName, "mcp"},
		}
		if err := c.registry.Register(tool.SourceMCP, def, c.executor(t.Name), opts); err != nil {
			c.log.Warn().Str("tool", t.Name).Err(err).Msg("failed to register tool")
		}
	}
}

// executor adapts a provider tool call into the registry's executor shape.
func (c *Client) executor(prefixedName string) tool.Executor {
	return func(ctx context.Context, args map[string]any, _ *tool.ExecutionContext) tool.Result {
		output, err := c.CallTool(ctx, prefixedName, args)
		if err != nil {
			return tool.Result{Success: false, Error: err.Error()}
		}
		return tool.Result{Success: true, Output: output}
	}
}

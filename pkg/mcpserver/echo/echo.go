// Package echo provides a small MCP server used for exercising the
// client: an echo tool, an add tool with a declared output schema, and a
// flaky tool that fails on demand.
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// addOutputSchema describes the JSON shape of the add tool's result.
var addOutputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"sum": {"type": "number"}
	},
	"required": ["sum"]
}`)

// flakyCalls counts flaky invocations so every other call fails.
var flakyCalls atomic.Int64

// NewServer creates the echo MCP server.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"echo",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	echoTool := mcp.NewTool("echo",
		mcp.WithDescription("Echoes the message back unchanged"),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message to echo"),
		),
	)
	s.AddTool(echoTool, echoHandler)

	addTool := mcp.NewTool("add",
		mcp.WithDescription("Adds two numbers and returns {\"sum\": n}"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("First operand")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("Second operand")),
	)
	addTool.RawOutputSchema = addOutputSchema
	s.AddTool(addTool, addHandler)

	flakyTool := mcp.NewTool("flaky",
		mcp.WithDescription("Fails every other call; useful for retry testing"),
	)
	s.AddTool(flakyTool, flakyHandler)

	return s
}

func echoHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	message, ok := args["message"].(string)
	if !ok {
		return mcp.NewToolResultError("message argument is required"), nil
	}
	return mcp.NewToolResultText(message), nil
}

func addHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	a, err := toFloat64(args["a"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid a: %v", err)), nil
	}
	b, err := toFloat64(args["b"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid b: %v", err)), nil
	}

	payload, err := json.Marshal(map[string]float64{"sum": a + b})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func flakyHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := flakyCalls.Add(1)
	if n%2 == 1 {
		return mcp.NewToolResultError("flaky failure on call " + strconv.FormatInt(n, 10)), nil
	}
	return mcp.NewToolResultText("ok on call " + strconv.FormatInt(n, 10)), nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

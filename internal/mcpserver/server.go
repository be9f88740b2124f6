// Package mcpserver exposes every tool of a tools.Registry over the Model
// Context Protocol, either as a streamable HTTP handler or on stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/tools"
	"AIWeb3-Agents/pkg/logger"
)

// Name is the MCP implementation name advertised to clients.
const Name = "aiweb3-agents"

// New builds an MCP server with one MCP tool per registry entry. Calls go
// through Registry.Dispatch so observers, records and metrics apply.
func New(registry *tools.Registry, version string) *mcp.Server {
	if version == "" {
		version = "dev"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: Name, Version: version}, nil)
	log := logger.Named("mcp")

	for _, name := range registry.Names() {
		desc, _ := registry.Describe(name)
		schema := desc.Schema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		tool := &mcp.Tool{
			Name:        name,
			Description: desc.Description,
			InputSchema: schema,
		}
		toolName := name
		mcp.AddTool(server, tool, func(ctx context.Context, _ *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, any, error) {
			out, err := registry.Dispatch(ctx, toolName, input)
			if err != nil {
				log.Debug("MCP 工具调用失败", slog.String("tool", toolName), slog.Any("error", err))
				return errorResult(err), nil, nil
			}
			return jsonResult(out), nil, nil
		})
	}
	return server
}

// HTTPHandler wraps server in the streamable HTTP transport.
func HTTPHandler(server *mcp.Server, stateless bool) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{Stateless: stateless})
}

// RunStdio serves server on stdin/stdout until ctx is done or the client
// disconnects.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorResult(err error) *mcp.CallToolResult {
	payload, _ := json.Marshal(errorPayload{Code: string(xerrors.CodeOf(err)), Message: err.Error()})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}
}

func jsonResult(out any) *mcp.CallToolResult {
	payload, err := json.Marshal(out)
	if err != nil {
		return errorResult(xerrors.Wrap(xerrors.CodeUnknown, err, "无法序列化工具输出"))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}
}

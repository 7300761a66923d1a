package mcp

import (
	"context"
	"encoding/json"

	"github.com/m4xw311/mailtriage/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler is the shape of a tool that can be served. It matches tools.Tool.
type Handler interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// NewServer registers each handler as an MCP tool.
func NewServer(version string, handlers []Handler) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "mailtriage", Version: version}, nil)
	for _, h := range handlers {
		server.AddTool(&mcpsdk.Tool{
			Name:        h.Name(),
			Description: h.Description(),
			InputSchema: h.InputSchema(),
		}, toolHandler(h))
	}
	return server
}

// Serve exposes handlers over stdio until ctx is done or the client disconnects.
func Serve(ctx context.Context, version string, handlers []Handler) error {
	return NewServer(version, handlers).Run(ctx, &mcpsdk.StdioTransport{})
}

func toolHandler(h Handler) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := map[string]interface{}{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return nil, errors.Wrapf(err, "invalid arguments for %s", h.Name())
			}
		}
		out, err := h.Execute(ctx, args)
		if err != nil {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
		}, nil
	}
}

// Package mcp connects mailtriage to Model Context Protocol servers in both
// directions: MCPClient imports an external server's tools into the agent's
// tool set, and Serve exports the business tools to other MCP clients.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/logging"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// MCPClient manages the connection to a single MCP server.
type MCPClient struct {
	Name  string
	conn  *mcpsdk.ClientSession
	tools map[string]*MCPTool // keyed by the server's own tool name
	log   *zap.Logger
}

// NewMCPClient starts the MCP server subprocess and discovers its tools.
func NewMCPClient(ctx context.Context, name, command string, args []string, logger *zap.Logger) (*MCPClient, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	return Connect(ctx, name, &mcpsdk.CommandTransport{Command: cmd}, logger)
}

// Connect opens a session over an arbitrary transport and lists the server's tools.
func Connect(ctx context.Context, name string, transport mcpsdk.Transport, logger *zap.Logger) (*MCPClient, error) {
	log := logging.OrNop(logger).Named("mcp").With(zap.String("server", name))
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mailtriage", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	c := &MCPClient{
		Name:  name,
		conn:  conn,
		tools: make(map[string]*MCPTool),
		log:   log,
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range list.Tools {
			c.tools[t.Name] = &MCPTool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				schema:      schemaMap(t.InputSchema),
				client:      c,
			}
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	log.Info("initialized MCP client", zap.Int("tools", len(c.tools)))
	return c, nil
}

// Tools returns every tool the server advertised.
func (c *MCPClient) Tools() []*MCPTool {
	out := make([]*MCPTool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	return out
}

// GetTool returns a specific tool provided by this MCP server by its short name.
func (c *MCPClient) GetTool(toolName string) (*MCPTool, bool) {
	tool, ok := c.tools[toolName]
	return tool, ok
}

// Stop closes the session, which also terminates a command-backed server.
func (c *MCPClient) Stop() error {
	if c.conn == nil {
		return nil
	}
	c.log.Info("terminating MCP server")
	return c.conn.Close()
}

// MCPTool represents a tool available from an external MCP server.
type MCPTool struct {
	serverName  string
	toolName    string
	description string
	schema      map[string]interface{}
	client      *MCPClient
}

// Name returns the server's own tool name. Provider APIs reject dots and
// colons in tool names, so the qualified form is only used for toolset matching.
func (t *MCPTool) Name() string {
	return t.toolName
}

// QualifiedName is "<server>.<tool>", the form toolset patterns match against.
func (t *MCPTool) QualifiedName() string {
	return t.serverName + "." + t.toolName
}

func (t *MCPTool) Description() string {
	return t.description
}

func (t *MCPTool) InputSchema() map[string]interface{} {
	return t.schema
}

// Execute sends the arguments to the MCP server and concatenates the text content of the result.
func (t *MCPTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.QualifiedName())
	}
	var sb strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' failed: %s", t.QualifiedName(), sb.String())
	}
	return sb.String(), nil
}

// schemaMap converts whatever the SDK decoded into a plain JSON object.
func schemaMap(schema any) map[string]interface{} {
	out := map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	if schema == nil {
		return out
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return out
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return out
	}
	return m
}

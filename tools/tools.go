// Package tools holds the business tools the agent can call and the registry
// that resolves a configured toolset into the tools offered to the model.
package tools

import (
	"context"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/mailtriage/config"
	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/logging"
	"github.com/m4xw311/mailtriage/metrics"
	"github.com/m4xw311/mailtriage/store"
	"github.com/m4xw311/mailtriage/tools/mcp"
	"go.uber.org/zap"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// qualified is implemented by tools imported from an MCP server.
type qualified interface {
	QualifiedName() string
}

// ToolRegistry holds all available tools.
type ToolRegistry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.MCPClient
	log        *zap.Logger
}

// NewToolRegistry registers the business tools over st.
func NewToolRegistry(st *store.Store, rec *metrics.Recorder, logger *zap.Logger) (*ToolRegistry, error) {
	r := &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
		log:        logging.OrNop(logger).Named("tools"),
	}
	business, err := BusinessTools(st, rec, logger)
	if err != nil {
		return nil, err
	}
	for _, t := range business {
		r.Register(t)
	}
	return r, nil
}

// ConnectMCPServers starts each configured server and registers its tools. A
// server that fails to start is logged and skipped.
func (r *ToolRegistry) ConnectMCPServers(ctx context.Context, servers []config.MCPServer) {
	for _, s := range servers {
		client, err := mcp.NewMCPClient(ctx, s.Name, s.Command, s.Args, r.log)
		if err != nil {
			r.log.Warn("failed to initialize MCP server", zap.String("server", s.Name), zap.Error(err))
			continue
		}
		r.AddMCPClient(client)
	}
}

// AddMCPClient registers every tool of an already connected MCP client.
func (r *ToolRegistry) AddMCPClient(client *mcp.MCPClient) {
	r.mcpClients[client.Name] = client
	for _, t := range client.Tools() {
		if _, clash := r.tools[t.Name()]; clash {
			r.log.Warn("MCP tool shadows an existing tool, skipping",
				zap.String("server", client.Name), zap.String("tool", t.Name()))
			continue
		}
		r.Register(t)
	}
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns every registered tool sorted by name.
func (r *ToolRegistry) Tools() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// GetActiveTools returns the tool instances for a given toolset. Each entry of
// the toolset is a doublestar pattern matched against tool names and, for MCP
// tools, against "<server>.<tool>". A pattern that matches nothing is an error.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var active []Tool
	seen := make(map[string]bool)
	all := r.Tools()
	for _, pattern := range ts.Tools {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Wrapf(errors.ErrInvalid, "invalid tool pattern '%s' in toolset '%s'", pattern, ts.Name)
		}
		matched := false
		for _, t := range all {
			if !toolMatches(pattern, t) {
				continue
			}
			matched = true
			if !seen[t.Name()] {
				seen[t.Name()] = true
				active = append(active, t)
			}
		}
		if !matched {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", pattern, ts.Name)
		}
	}
	return active, nil
}

func toolMatches(pattern string, t Tool) bool {
	if ok, _ := doublestar.Match(pattern, t.Name()); ok {
		return true
	}
	if q, isMCP := t.(qualified); isMCP {
		ok, _ := doublestar.Match(pattern, q.QualifiedName())
		return ok
	}
	return false
}

// Close stops every MCP server started by the registry.
func (r *ToolRegistry) Close() error {
	var errs []error
	for name, c := range r.mcpClients {
		if err := c.Stop(); err != nil {
			errs = append(errs, errors.Wrapf(err, "failed to stop MCP server '%s'", name))
		}
	}
	return errors.Join(errs...)
}

// Handlers adapts tools for mcp.Serve.
func Handlers(ts []Tool) []mcp.Handler {
	out := make([]mcp.Handler, len(ts))
	for i, t := range ts {
		out[i] = t
	}
	return out
}

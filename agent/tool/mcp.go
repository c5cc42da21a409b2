package tool

import (
	"context"
	"errors"
	"sort"

	"github.com/cloudwego/eino/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

// MCPServer exposes the domain actions to external MCP clients. Every call
// runs under one fixed identity.
type MCPServer struct {
	exec      contractx.Executor
	auth      contractx.AuthContext
	mcpServer *server.MCPServer
}

func NewMCPServer(exec contractx.Executor, auth contractx.AuthContext, version string) (*MCPServer, error) {
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	s := &MCPServer{
		exec:      exec,
		auth:      auth,
		mcpServer: server.NewMCPServer("portal-assistant", version, server.WithToolCapabilities(false)),
	}
	for _, info := range All() {
		s.mcpServer.AddTool(toMCPTool(info), s.handler(info.Name))
	}
	return s, nil
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *MCPServer) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := s.exec.Invoke(ctx, name, req.GetArguments(), s.auth)
		if err != nil {
			return nil, err
		}
		if res.IsError {
			return mcp.NewToolResultError(res.Text()), nil
		}
		return mcp.NewToolResultText(res.Text()), nil
	}
}

func toMCPTool(info *schema.ToolInfo) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(info.Desc)}
	for _, p := range paramsOf(info) {
		propOpts := []mcp.PropertyOption{mcp.Description(p.info.Desc)}
		if p.info.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		if len(p.info.Enum) > 0 {
			propOpts = append(propOpts, mcp.Enum(p.info.Enum...))
		}
		switch p.info.Type {
		case schema.Boolean:
			opts = append(opts, mcp.WithBoolean(p.name, propOpts...))
		case schema.Integer, schema.Number:
			opts = append(opts, mcp.WithNumber(p.name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.name, propOpts...))
		}
	}
	return mcp.NewTool(info.Name, opts...)
}

type namedParam struct {
	name string
	info *schema.ParameterInfo
}

// paramsOf returns the catalog parameters of info sorted by name.
func paramsOf(info *schema.ToolInfo) []namedParam {
	params := paramCatalog[info.Name]
	out := make([]namedParam, 0, len(params))
	for name, p := range params {
		out = append(out, namedParam{name: name, info: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

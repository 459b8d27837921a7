// Package mcp exposes the skill registry as MCP tools, so any MCP client
// can invoke registered skills through the executor.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/metislabs/metis/pkg/skills"
)

// Server wraps the mcp-go server around the skill registry.
type Server struct {
	mcpServer *server.MCPServer
	executor  *skills.Executor
}

// NewServer creates an MCP server that serves every skill registered at call
// time as a tool.
func NewServer(name, version string, registry *skills.Registry, executor *skills.Executor) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
		executor:  executor,
	}
	for _, skill := range registry.List() {
		s.addSkill(skill)
	}
	return s
}

func (s *Server) addSkill(skill *skills.Skill) {
	name := skill.Name
	s.mcpServer.AddTool(skills.ToolDefinition(skill), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		result, err := s.executor.Execute(ctx, name, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(result.Text), nil
	})
}

// ServeStdio serves the registry over stdio until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

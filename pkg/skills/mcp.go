package skills

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolDefinition projects a skill as an MCP tool so collaborators can expose
// the registry to MCP clients. The skill's input schema becomes the tool's
// input schema; every declared key is required.
func ToolDefinition(s *Skill) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(s.Description),
	}

	keys := make([]string, 0, len(s.InputSchema))
	for key := range s.InputSchema {
		keys = append(keys, key)
	}
	// Deterministic option order keeps generated schemas diffable.
	sort.Strings(keys)

	for _, key := range keys {
		props := []mcp.PropertyOption{mcp.Required()}
		switch s.InputSchema[key] {
		case "number":
			opts = append(opts, mcp.WithNumber(key, props...))
		case "bool":
			opts = append(opts, mcp.WithBoolean(key, props...))
		case "list":
			opts = append(opts, mcp.WithArray(key, props...))
		case "map":
			opts = append(opts, mcp.WithObject(key, props...))
		default:
			opts = append(opts, mcp.WithString(key, props...))
		}
	}

	return mcp.NewTool(s.Name, opts...)
}

// ToolDefinitions projects every registered skill in registration order.
func ToolDefinitions(r *Registry) []mcp.Tool {
	list := r.List()
	out := make([]mcp.Tool, 0, len(list))
	for _, skill := range list {
		out = append(out, ToolDefinition(skill))
	}
	return out
}

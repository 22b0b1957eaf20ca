// Package mcp exposes read-only agent state to other local agents over
// the Model Context Protocol. Write access stays behind the backend's
// capability gate; this surface only observes.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ponderer/ponderer/internal/memory"
	"github.com/ponderer/ponderer/internal/store"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = map[string]toolEntry{
	"memory_search": {
		def: mcp.NewTool("memory_search",
			mcp.WithDescription("Search the agent's working memory by key or content."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search text; matches keys first, then values.")),
			mcp.WithNumber("limit", mcp.Description("Maximum results to return (default 10).")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMemorySearch },
	},
	"journal_recent": {
		def: mcp.NewTool("journal_recent",
			mcp.WithDescription("Return the agent's most recent journal entries, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 10).")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleJournalRecent },
	},
	"concern_list": {
		def: mcp.NewTool("concern_list",
			mcp.WithDescription("List the agent's concerns, optionally filtered by salience tier."),
			mcp.WithString("salience", mcp.Description("Filter: active, monitoring, background, or dormant.")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleConcernList },
	},
}

// AllToolNames returns every registered tool name.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// NewServer creates an MCP server with the read tools registered.
func NewServer(st *store.Store, backend memory.Backend, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"ponderer",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(st, backend)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves over stdio until the peer disconnects.
func Run(st *store.Store, backend memory.Backend, version string) error {
	return server.ServeStdio(NewServer(st, backend, version))
}

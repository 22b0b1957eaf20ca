package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
	"github.com/ponderer/ponderer/internal/memory"
	"github.com/ponderer/ponderer/internal/store"
)

const defaultLimit = 10

// Handlers holds dependencies for the MCP tool handlers.
type Handlers struct {
	store  *store.Store
	memory memory.Backend
}

// NewHandlers creates a Handlers instance.
func NewHandlers(st *store.Store, backend memory.Backend) *Handlers {
	return &Handlers{store: st, memory: backend}
}

// SearchRequest represents the arguments for memory_search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// RecentRequest represents the arguments for journal_recent.
type RecentRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ConcernListRequest represents the arguments for concern_list.
type ConcernListRequest struct {
	Salience string `json:"salience,omitempty"`
}

// HandleMemorySearch handles the memory_search tool call.
func (h *Handlers) HandleMemorySearch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return errorResult(errors.NewInvalidRequest("query is required")), nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	entries, err := h.searchMemory(input.Query, limit)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"entries": entries})
}

// searchMemory prefers a ranked backend search and falls back to a
// substring scan for designs without one.
func (h *Handlers) searchMemory(query string, limit int) ([]store.WorkingMemoryEntry, error) {
	if searcher, ok := h.memory.(memory.Searcher); ok {
		return searcher.Search(query, limit)
	}

	all, err := h.memory.IterAll()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	matches := make([]store.WorkingMemoryEntry, 0, limit)
	for _, e := range all {
		if strings.Contains(strings.ToLower(e.Key), needle) ||
			strings.Contains(strings.ToLower(e.Value), needle) {
			matches = append(matches, e)
			if len(matches) >= limit {
				break
			}
		}
	}
	return matches, nil
}

// HandleJournalRecent handles the journal_recent tool call.
func (h *Handlers) HandleJournalRecent(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecentRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	entries, err := h.store.RecentJournalEntries(limit)
	if err != nil {
		return errorResult(err), nil
	}
	if entries == nil {
		entries = []agent.JournalEntry{}
	}
	return successResult(map[string]any{"entries": entries})
}

// HandleConcernList handles the concern_list tool call.
func (h *Handlers) HandleConcernList(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ConcernListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var concerns []agent.Concern
	switch input.Salience {
	case "":
		concerns, err = h.store.ListConcerns()
	case "active", "monitoring", "background", "dormant":
		concerns, err = h.store.ListConcernsBySalience(agent.SalienceFromDB(input.Salience))
	default:
		return errorResult(errors.NewInvalidRequest("unknown salience tier: " + input.Salience)), nil
	}
	if err != nil {
		return errorResult(err), nil
	}
	if concerns == nil {
		concerns = []agent.Concern{}
	}
	return successResult(map[string]any{"concerns": concerns})
}

// errorResult creates an MCP error result. Storage internals are not
// exposed to peers.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any
	if aErr, ok := err.(*errors.AgentError); ok {
		errorObj := map[string]any{
			"code":    string(aErr.Code),
			"message": aErr.Message,
			"status":  aErr.Status,
		}
		if aErr.Code == errors.ErrStorage {
			errorObj["message"] = "a storage error occurred"
		} else if aErr.Details != nil {
			errorObj["details"] = aErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

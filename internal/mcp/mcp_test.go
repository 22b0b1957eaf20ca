package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/memory"
	"github.com/ponderer/ponderer/internal/store"
)

func testHandlers(t *testing.T) (*Handlers, *store.Store, memory.Backend) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ponderer.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	backend, _, err := memory.OpenActive(st)
	if err != nil {
		t.Fatal(err)
	}
	return NewHandlers(st, backend), st, backend
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// resultPayload unmarshals the JSON text content of a tool result.
func resultPayload(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty result content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T, want TextContent", res.Content[0])
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Fatalf("unmarshal result %q: %v", text.Text, err)
	}
	return payload
}

func TestMemorySearch(t *testing.T) {
	h, _, backend := testHandlers(t)
	if err := backend.Put("morning.coffee", "prefers a flat white"); err != nil {
		t.Fatal(err)
	}
	if err := backend.Put("garden.notes", "ferns need water twice a week"); err != nil {
		t.Fatal(err)
	}

	res, err := h.HandleMemorySearch(context.Background(), makeRequest(map[string]any{"query": "coffee"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", resultPayload(t, res))
	}
	payload := resultPayload(t, res)
	entries, _ := payload["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want one coffee match", payload)
	}

	res, err = h.HandleMemorySearch(context.Background(), makeRequest(map[string]any{"query": ""}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("empty query must return an error result")
	}
}

func TestJournalRecent(t *testing.T) {
	h, st, _ := testHandlers(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i, content := range []string{"first", "second", "third"} {
		entry := &agent.JournalEntry{
			ID:        store.NewID(),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Type:      agent.EntryObservation,
			Content:   content,
		}
		if err := st.InsertJournalEntry(entry); err != nil {
			t.Fatal(err)
		}
	}

	res, err := h.HandleJournalRecent(context.Background(), makeRequest(map[string]any{"limit": 2}))
	if err != nil {
		t.Fatal(err)
	}
	payload := resultPayload(t, res)
	entries, _ := payload["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	newest, _ := entries[0].(map[string]any)
	if newest["content"] != "third" {
		t.Errorf("newest entry = %v, want third", newest["content"])
	}
}

func TestJournalRecentEmpty(t *testing.T) {
	h, _, _ := testHandlers(t)
	res, err := h.HandleJournalRecent(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatal(err)
	}
	payload := resultPayload(t, res)
	if entries, ok := payload["entries"].([]any); !ok || len(entries) != 0 {
		t.Errorf("entries = %v, want empty list", payload["entries"])
	}
}

func TestConcernList(t *testing.T) {
	h, st, _ := testHandlers(t)
	now := time.Now().UTC()
	active := &agent.Concern{
		ID:          store.NewID(),
		CreatedAt:   now,
		LastTouched: now,
		Summary:     "fern watering schedule",
		Type:        agent.ConcernType{Kind: agent.ConcernHouseholdAwareness},
		Salience:    agent.SalienceActive,
	}
	dormant := &agent.Concern{
		ID:          store.NewID(),
		CreatedAt:   now.Add(-time.Hour),
		LastTouched: now.Add(-time.Hour),
		Summary:     "old reading list",
		Type:        agent.ConcernType{Kind: agent.ConcernPersonalInterest},
		Salience:    agent.SalienceDormant,
	}
	for _, c := range []*agent.Concern{active, dormant} {
		if err := st.InsertConcern(c); err != nil {
			t.Fatal(err)
		}
	}

	res, err := h.HandleConcernList(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatal(err)
	}
	payload := resultPayload(t, res)
	if concerns, _ := payload["concerns"].([]any); len(concerns) != 2 {
		t.Fatalf("concerns = %v, want 2", payload)
	}

	res, err = h.HandleConcernList(context.Background(), makeRequest(map[string]any{"salience": "dormant"}))
	if err != nil {
		t.Fatal(err)
	}
	payload = resultPayload(t, res)
	concerns, _ := payload["concerns"].([]any)
	if len(concerns) != 1 {
		t.Fatalf("dormant concerns = %v, want 1", payload)
	}
	only, _ := concerns[0].(map[string]any)
	if only["summary"] != "old reading list" {
		t.Errorf("dormant concern = %v", only["summary"])
	}

	res, err = h.HandleConcernList(context.Background(), makeRequest(map[string]any{"salience": "loud"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("unknown salience must return an error result")
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	want := map[string]bool{"memory_search": true, "journal_recent": true, "concern_list": true}
	if len(names) != len(want) {
		t.Fatalf("tool names = %v", names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected tool %q", n)
		}
	}
}

package web

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/logging"
	"github.com/ponderer/ponderer/internal/store"
)

func newTestHandler(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ponderer.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewHandler(st, "test", logging.Nop()), st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusPageEmpty(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := get(t, h, "/ui/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "No orientation recorded yet") {
		t.Error("empty status page must say so")
	}
	if !strings.Contains(body, "0 journal entries") {
		t.Error("status page must show the journal count")
	}
}

func TestStatusPageShowsOrientationAndConcerns(t *testing.T) {
	h, st := newTestHandler(t)

	o := &agent.Orientation{
		UserState:    agent.UserState{Kind: agent.UserLightWork},
		Disposition:  agent.DispositionObserve,
		RawSynthesis: "quiet house, rain outside",
		GeneratedAt:  time.Now().UTC(),
	}
	if _, err := st.InsertOrientationSnapshot(o); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	c := &agent.Concern{
		ID:          store.NewID(),
		CreatedAt:   now,
		LastTouched: now,
		Summary:     "fern watering schedule",
		Type:        agent.ConcernType{Kind: agent.ConcernHouseholdAwareness},
		Salience:    agent.SalienceActive,
	}
	if err := st.InsertConcern(c); err != nil {
		t.Fatal(err)
	}

	body := get(t, h, "/ui/status").Body.String()
	if !strings.Contains(body, "quiet house, rain outside") {
		t.Error("status page must show the latest synthesis")
	}
	if !strings.Contains(body, "fern watering schedule") {
		t.Error("status page must list concerns")
	}
	if !strings.Contains(body, "active") {
		t.Error("status page must show the salience tier")
	}
}

func TestJournalPageRendersMarkdown(t *testing.T) {
	h, st := newTestHandler(t)
	entry := &agent.JournalEntry{
		ID:        store.NewID(),
		Timestamp: time.Now().UTC(),
		Type:      agent.EntryReflection,
		Content:   "the **ferns** seem happier today",
	}
	if err := st.InsertJournalEntry(entry); err != nil {
		t.Fatal(err)
	}

	rec := get(t, h, "/ui/journal")
	if rec.Code != http.StatusOK {
		t.Fatalf("journal = %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>ferns</strong>") {
		t.Errorf("markdown not rendered: %s", body)
	}
	if !strings.Contains(body, "reflection") {
		t.Error("entry type must be visible")
	}
}

func TestUIRootRedirects(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := get(t, h, "/ui/")
	if rec.Code != http.StatusFound {
		t.Fatalf("redirect = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/ui/status" {
		t.Errorf("location = %q", loc)
	}
}

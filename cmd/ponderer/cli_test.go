package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/config"
	"github.com/ponderer/ponderer/internal/logging"
	"github.com/ponderer/ponderer/internal/memory"
	"github.com/ponderer/ponderer/internal/store"
)

// runCapture runs the app with args and returns captured stdout.
func runCapture(t *testing.T, app *cli.App, args ...string) (string, error) {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	runErr := app.Run(append([]string{"ponderer"}, args...))

	w.Close()
	os.Stdout = oldStdout
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	return buf.String(), runErr
}

// seedStore opens the store under baseDir, applies fn, and closes it so
// a later CLI invocation sees the data through its own handle.
func seedStore(t *testing.T, baseDir string, fn func(st *store.Store)) {
	t.Helper()
	st, _, err := openStore(baseDir)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	fn(st)
	st.Close()
}

func TestCLIStatusEmpty(t *testing.T) {
	baseDir := t.TempDir()
	app := newCLIApp(baseDir)

	out, err := runCapture(t, app, "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}

	var output map[string]any
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output["journal_entries"].(float64) != 0 {
		t.Errorf("expected 0 journal entries, got %v", output["journal_entries"])
	}
	if output["orientation_snapshots"].(float64) != 0 {
		t.Errorf("expected 0 orientation snapshots, got %v", output["orientation_snapshots"])
	}
	if _, ok := output["orientation"]; ok {
		t.Error("expected no orientation on a fresh store")
	}
}

func TestCLIStatusShowsOrientation(t *testing.T) {
	baseDir := t.TempDir()
	seedStore(t, baseDir, func(st *store.Store) {
		o := &agent.Orientation{
			UserState:    agent.UserState{Kind: agent.UserIdle},
			Disposition:  agent.DispositionJournal,
			RawSynthesis: "slow afternoon",
			GeneratedAt:  time.Now().UTC(),
		}
		if _, err := st.InsertOrientationSnapshot(o); err != nil {
			t.Fatal(err)
		}
	})

	out, err := runCapture(t, newCLIApp(baseDir), "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}

	var output struct {
		Orientation struct {
			Disposition string `json:"disposition"`
			Synthesis   string `json:"synthesis"`
		} `json:"orientation"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Orientation.Disposition != "journal" {
		t.Errorf("expected disposition=journal, got %s", output.Orientation.Disposition)
	}
	if output.Orientation.Synthesis != "slow afternoon" {
		t.Errorf("unexpected synthesis: %s", output.Orientation.Synthesis)
	}
}

func TestCLIJournalList(t *testing.T) {
	baseDir := t.TempDir()
	seedStore(t, baseDir, func(st *store.Store) {
		for i, content := range []string{"first", "second", "third"} {
			entry := &agent.JournalEntry{
				ID:        store.NewID(),
				Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Minute),
				Type:      agent.EntryObservation,
				Content:   content,
			}
			if err := st.InsertJournalEntry(entry); err != nil {
				t.Fatal(err)
			}
		}
	})

	out, err := runCapture(t, newCLIApp(baseDir), "journal", "--limit=2")
	if err != nil {
		t.Fatalf("journal command failed: %v", err)
	}

	var output struct {
		Entries []agent.JournalEntry `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(output.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(output.Entries))
	}
	if output.Entries[0].Content != "third" {
		t.Errorf("expected newest first, got %s", output.Entries[0].Content)
	}
}

func TestCLIConcernsFilter(t *testing.T) {
	baseDir := t.TempDir()
	now := time.Now().UTC()
	seedStore(t, baseDir, func(st *store.Store) {
		for _, c := range []agent.Concern{
			{
				ID:          store.NewID(),
				CreatedAt:   now,
				LastTouched: now,
				Summary:     "water the ferns",
				Type:        agent.ConcernType{Kind: agent.ConcernHouseholdAwareness},
				Salience:    agent.SalienceActive,
			},
			{
				ID:          store.NewID(),
				CreatedAt:   now.Add(-90 * 24 * time.Hour),
				LastTouched: now.Add(-90 * 24 * time.Hour),
				Summary:     "old reading list",
				Type:        agent.ConcernType{Kind: agent.ConcernPersonalInterest},
				Salience:    agent.SalienceDormant,
			},
		} {
			c := c
			if err := st.InsertConcern(&c); err != nil {
				t.Fatal(err)
			}
		}
	})

	app := newCLIApp(baseDir)

	t.Run("all concerns", func(t *testing.T) {
		out, err := runCapture(t, app, "concerns")
		if err != nil {
			t.Fatalf("concerns command failed: %v", err)
		}
		var output struct {
			Concerns []agent.Concern `json:"concerns"`
		}
		if err := json.Unmarshal([]byte(out), &output); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(output.Concerns) != 2 {
			t.Errorf("expected 2 concerns, got %d", len(output.Concerns))
		}
	})

	t.Run("filter by salience", func(t *testing.T) {
		out, err := runCapture(t, app, "concerns", "--salience=dormant")
		if err != nil {
			t.Fatalf("concerns command failed: %v", err)
		}
		var output struct {
			Concerns []agent.Concern `json:"concerns"`
		}
		if err := json.Unmarshal([]byte(out), &output); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(output.Concerns) != 1 {
			t.Fatalf("expected 1 concern, got %d", len(output.Concerns))
		}
		if output.Concerns[0].Summary != "old reading list" {
			t.Errorf("unexpected concern: %s", output.Concerns[0].Summary)
		}
	})

	t.Run("invalid salience returns error", func(t *testing.T) {
		_, err := runCapture(t, app, "concerns", "--salience=loud")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestCLIMemoryRollback(t *testing.T) {
	baseDir := t.TempDir()

	if _, err := runCapture(t, newCLIApp(baseDir), "memory", "rollback"); err == nil {
		t.Error("rollback without promotions must fail")
	}

	seedStore(t, baseDir, func(st *store.Store) {
		if _, _, err := memory.OpenActive(st); err != nil {
			t.Fatal(err)
		}
		err := st.RecordPromotion(&store.PromotionDecision{
			ID:                    store.NewID(),
			DecidedAt:             time.Now().UTC(),
			PromotedDesignID:      "fts_v2",
			PromotedSchemaVersion: 2,
			RollbackDesignID:      "kv_v1",
			RollbackSchemaVersion: 1,
			Reason:                "eval cleared the gates",
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	out, err := runCapture(t, newCLIApp(baseDir), "memory", "rollback")
	if err != nil {
		t.Fatalf("rollback command failed: %v", err)
	}
	var result struct {
		DesignID      string `json:"design_id"`
		SchemaVersion int    `json:"schema_version"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if result.DesignID != "kv_v1" || result.SchemaVersion != 1 {
		t.Errorf("restored = %+v, want kv_v1 schema 1", result)
	}

	seedStore(t, baseDir, func(st *store.Store) {
		active, err := st.ActiveMemoryDesign()
		if err != nil || active == nil || active.DesignID != "kv_v1" || active.SchemaVersion != 1 {
			t.Errorf("active design = %+v, %v", active, err)
		}
	})
}

func TestRunServeShutsDownCleanly(t *testing.T) {
	baseDir := t.TempDir()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(baseDir, "ponderer.db")
	cfg.Bind = "127.0.0.1:0"
	cfg.AuthMode = config.AuthDisabled
	cfg.EnableAmbientLoop = false
	cfg.EnableDreamCycle = false

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runServe(ctx, baseDir, cfg, logging.Nop()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runServe: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runServe did not shut down")
	}
}

func TestLoadOrCreateToken(t *testing.T) {
	baseDir := t.TempDir()

	first, err := loadOrCreateToken(baseDir)
	if err != nil {
		t.Fatalf("loadOrCreateToken: %v", err)
	}
	if first == "" {
		t.Fatal("expected a non-empty token")
	}

	second, err := loadOrCreateToken(baseDir)
	if err != nil {
		t.Fatalf("loadOrCreateToken: %v", err)
	}
	if second != first {
		t.Errorf("token not stable across runs: %q vs %q", first, second)
	}
}

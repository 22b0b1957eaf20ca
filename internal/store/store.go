// Package store is the single durable store for all agent entities.
// It owns schema bootstrap, typed CRUD, and the generic agent_state
// key-value table. One writer at a time; readers observe committed state.
package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/ponderer/ponderer/internal/errors"
)

// CurrentSchemaVersion is the latest schema version. Bump when adding
// migrations.
const CurrentSchemaVersion = 1

// Store wraps the SQLite handle. Writes are serialized behind mu; a write
// is never held across an LLM call.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open initializes the database at path, creating parent directories and
// bootstrapping the schema idempotently. Failure here is fatal to the
// process by design.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.NewStorage("create database directory", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewStorage("open database", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(path, 0o600)

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for read-only collaborators (web UI, MCP).
func (s *Store) DB() *sql.DB {
	return s.db
}

func verifyWALMode(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return errors.NewStorage("query journal_mode", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return errors.NewStorage(fmt.Sprintf("journal_mode is %q, want wal", mode), nil)
	}
	return nil
}

func getUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, errors.NewStorage("query user_version", err)
	}
	return version, nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := getUserVersion(db)
	if err != nil {
		return err
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS journal_entries (
		  id                 TEXT PRIMARY KEY,
		  ts                 TEXT NOT NULL,
		  entry_type         TEXT NOT NULL,
		  content            TEXT NOT NULL,
		  "trigger"          TEXT NOT NULL DEFAULT '',
		  user_state_at_time TEXT NOT NULL DEFAULT '',
		  time_of_day        TEXT NOT NULL DEFAULT '',
		  related_concerns   TEXT,
		  mood_valence       REAL,
		  mood_arousal       REAL
		);
		CREATE INDEX IF NOT EXISTS idx_journal_entries_ts ON journal_entries(ts);

		CREATE TABLE IF NOT EXISTS concerns (
		  id                  TEXT PRIMARY KEY,
		  created_at          TEXT NOT NULL,
		  last_touched        TEXT NOT NULL,
		  summary             TEXT NOT NULL,
		  kind                TEXT NOT NULL,
		  type_json           TEXT NOT NULL,
		  salience            TEXT NOT NULL,
		  my_thoughts         TEXT NOT NULL DEFAULT '',
		  related_memory_keys TEXT,
		  context_json        TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_concerns_salience_touched
		ON concerns(salience, last_touched);

		CREATE TABLE IF NOT EXISTS orientation_snapshots (
		  id           INTEGER PRIMARY KEY AUTOINCREMENT,
		  generated_at TEXT NOT NULL,
		  user_state   TEXT NOT NULL,
		  disposition  TEXT NOT NULL,
		  synthesis    TEXT NOT NULL DEFAULT '',
		  payload_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orientation_snapshots_ts
		ON orientation_snapshots(generated_at);

		CREATE TABLE IF NOT EXISTS pending_thoughts_queue (
		  id           TEXT PRIMARY KEY,
		  content      TEXT NOT NULL,
		  context      TEXT NOT NULL DEFAULT '',
		  priority     REAL NOT NULL DEFAULT 0,
		  relates_to   TEXT,
		  created_at   TEXT NOT NULL,
		  surfaced_at  TEXT,
		  dismissed_at TEXT,
		  CHECK (surfaced_at IS NULL OR dismissed_at IS NULL)
		);
		CREATE INDEX IF NOT EXISTS idx_pending_thoughts_unsurfaced
		ON pending_thoughts_queue(priority DESC, created_at)
		WHERE surfaced_at IS NULL AND dismissed_at IS NULL;

		CREATE TABLE IF NOT EXISTS agent_state (
		  key        TEXT PRIMARY KEY,
		  value      TEXT NOT NULL,
		  updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS memory_design_archive (
		  design_id      TEXT NOT NULL,
		  schema_version INTEGER NOT NULL,
		  registered_at  TEXT NOT NULL,
		  notes          TEXT NOT NULL DEFAULT '',
		  PRIMARY KEY (design_id, schema_version)
		);

		CREATE TABLE IF NOT EXISTS memory_eval_runs (
		  id               TEXT PRIMARY KEY,
		  design_id        TEXT NOT NULL,
		  schema_version   INTEGER NOT NULL,
		  ran_at           TEXT NOT NULL,
		  recall_rate      REAL NOT NULL,
		  blob_utilization REAL NOT NULL,
		  op_count         INTEGER NOT NULL,
		  report_json      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS memory_promotion_decisions (
		  id                      TEXT PRIMARY KEY,
		  decided_at              TEXT NOT NULL,
		  promoted_design_id      TEXT NOT NULL,
		  promoted_schema_version INTEGER NOT NULL,
		  rollback_design_id      TEXT NOT NULL,
		  rollback_schema_version INTEGER NOT NULL,
		  eval_run_id             TEXT,
		  reason                  TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS working_memory (
		  key        TEXT PRIMARY KEY,
		  value      TEXT NOT NULL,
		  updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
		  id         TEXT PRIMARY KEY,
		  title      TEXT NOT NULL DEFAULT '',
		  created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_messages (
		  id              TEXT PRIMARY KEY,
		  conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		  role            TEXT NOT NULL,
		  content         TEXT NOT NULL,
		  created_at      TEXT NOT NULL,
		  processed       INTEGER NOT NULL DEFAULT 0,
		  prompt_payload  TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_conversation
		ON chat_messages(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_unprocessed
		ON chat_messages(created_at)
		WHERE processed = 0 AND role = 'user';

		CREATE TABLE IF NOT EXISTS persona_snapshots (
		  id               TEXT PRIMARY KEY,
		  created_at       TEXT NOT NULL,
		  system_prompt    TEXT NOT NULL DEFAULT '',
		  trajectory_notes TEXT NOT NULL DEFAULT '',
		  traits_json      TEXT,
		  "trigger"        TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS character_card (
		  singleton  INTEGER PRIMARY KEY CHECK (singleton = 1),
		  name       TEXT NOT NULL,
		  card       TEXT NOT NULL,
		  updated_at TEXT NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return errors.NewStorage("apply schema v1", err)
		}
		if _, err := db.Exec("PRAGMA user_version = 1"); err != nil {
			return errors.NewStorage("set user_version", err)
		}
	}

	return nil
}

// NewID returns a new ULID string.
func NewID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// fmtTime renders a timestamp in the canonical stored form (RFC 3339, UTC).
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses the canonical stored form back to an absolute instant.
func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.NewStorage(fmt.Sprintf("parse timestamp %q", raw), err)
	}
	return t.UTC(), nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// inTx runs fn inside a transaction under the writer lock.
func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.NewStorage("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorage("commit transaction", err)
	}
	return nil
}

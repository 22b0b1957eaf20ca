package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ponderer/ponderer/internal/errors"
)

// WorkingMemoryEntry is one key-value pair of the agent's working memory.
type WorkingMemoryEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryDesignVersion designates a memory implementation. The active
// designator lives in agent_state under StateActiveMemoryDesign.
type MemoryDesignVersion struct {
	DesignID      string `json:"memory_design_id"`
	SchemaVersion int    `json:"memory_schema_version"`
}

// MemoryEvalRun is the persisted result of one offline replay evaluation.
type MemoryEvalRun struct {
	ID              string    `json:"id"`
	Design          MemoryDesignVersion `json:"design"`
	RanAt           time.Time `json:"ran_at"`
	RecallRate      float64   `json:"recall_rate"`
	BlobUtilization float64   `json:"blob_utilization"`
	OpCount         int       `json:"op_count"`
	ReportJSON      string    `json:"report_json"`
}

// PromotionDecision is the audit record of one promotion. Rollback fields
// are always populated.
type PromotionDecision struct {
	ID                    string    `json:"id"`
	DecidedAt             time.Time `json:"decided_at"`
	PromotedDesignID      string    `json:"promoted_design_id"`
	PromotedSchemaVersion int       `json:"promoted_schema_version"`
	RollbackDesignID      string    `json:"rollback_design_id"`
	RollbackSchemaVersion int       `json:"rollback_schema_version"`
	EvalRunID             string    `json:"eval_run_id,omitempty"`
	Reason                string    `json:"reason,omitempty"`
}

// MemPut upserts a working-memory pair.
func (s *Store) MemPut(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO working_memory (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, fmtTime(time.Now()),
	)
	if err != nil {
		return errors.NewStorage("put working memory", err)
	}
	return nil
}

// MemGet reads a working-memory value; ok is false when absent.
func (s *Store) MemGet(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM working_memory WHERE key = ?`, key).Scan(&value)
	switch err {
	case nil:
		return value, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, errors.NewStorage("get working memory", err)
	}
}

// MemDelete removes a working-memory key.
func (s *Store) MemDelete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM working_memory WHERE key = ?`, key); err != nil {
		return errors.NewStorage("delete working memory", err)
	}
	return nil
}

// MemIterAll returns every working-memory entry, most recently updated
// first.
func (s *Store) MemIterAll() ([]WorkingMemoryEntry, error) {
	rows, err := s.db.Query(`SELECT key, value, updated_at FROM working_memory ORDER BY updated_at DESC, key`)
	if err != nil {
		return nil, errors.NewStorage("iterate working memory", err)
	}
	defer rows.Close()

	var entries []WorkingMemoryEntry
	for rows.Next() {
		var (
			e       WorkingMemoryEntry
			updated string
		)
		if err := rows.Scan(&e.Key, &e.Value, &updated); err != nil {
			return nil, errors.NewStorage("scan working memory", err)
		}
		if e.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("iterate working memory", err)
	}
	return entries, nil
}

// ActiveMemoryDesign reads the active designator. Exactly one is active
// after initialization.
func (s *Store) ActiveMemoryDesign() (*MemoryDesignVersion, error) {
	raw, ok, err := s.GetState(StateActiveMemoryDesign)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var v MemoryDesignVersion
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, errors.NewStorage("unmarshal active memory design", err)
	}
	return &v, nil
}

// SetActiveMemoryDesign writes the active designator outside a promotion,
// e.g. during first-run initialization.
func (s *Store) SetActiveMemoryDesign(v MemoryDesignVersion) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.NewStorage("marshal active memory design", err)
	}
	return s.SetState(StateActiveMemoryDesign, string(raw))
}

// ArchiveMemoryDesign records a design in the archive. Re-registering the
// same design and version is a no-op.
func (s *Store) ArchiveMemoryDesign(v MemoryDesignVersion, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO memory_design_archive (design_id, schema_version, registered_at, notes)
		VALUES (?, ?, ?, ?)`,
		v.DesignID, v.SchemaVersion, fmtTime(time.Now()), notes,
	)
	if err != nil {
		return errors.NewStorage("archive memory design", err)
	}
	return nil
}

// InsertMemoryEvalRun appends an eval run to the archive.
func (s *Store) InsertMemoryEvalRun(run *MemoryEvalRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO memory_eval_runs (id, design_id, schema_version, ran_at, recall_rate, blob_utilization, op_count, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Design.DesignID, run.Design.SchemaVersion, fmtTime(run.RanAt),
		run.RecallRate, run.BlobUtilization, run.OpCount, run.ReportJSON,
	)
	if err != nil {
		return errors.NewStorage("insert memory eval run", err)
	}
	return nil
}

// LatestEvalRunForDesign returns the newest eval run for a design, or nil.
func (s *Store) LatestEvalRunForDesign(designID string) (*MemoryEvalRun, error) {
	row := s.db.QueryRow(`
		SELECT id, design_id, schema_version, ran_at, recall_rate, blob_utilization, op_count, report_json
		FROM memory_eval_runs WHERE design_id = ?
		ORDER BY ran_at DESC LIMIT 1`, designID)
	run, err := scanEvalRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func scanEvalRun(row rowScanner) (*MemoryEvalRun, error) {
	var (
		run   MemoryEvalRun
		ranAt string
	)
	err := row.Scan(&run.ID, &run.Design.DesignID, &run.Design.SchemaVersion,
		&ranAt, &run.RecallRate, &run.BlobUtilization, &run.OpCount, &run.ReportJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.NewStorage("scan memory eval run", err)
	}
	if run.RanAt, err = parseTime(ranAt); err != nil {
		return nil, err
	}
	return &run, nil
}

// RecordPromotion writes the decision row and flips the active designator
// in the same transaction. Rollback fields must be populated; the store
// enforces it rather than trusting callers.
func (s *Store) RecordPromotion(d *PromotionDecision) error {
	if d.RollbackDesignID == "" || d.RollbackSchemaVersion == 0 {
		return errors.NewValidation("promotion decision requires a rollback target")
	}
	designator, err := json.Marshal(MemoryDesignVersion{
		DesignID:      d.PromotedDesignID,
		SchemaVersion: d.PromotedSchemaVersion,
	})
	if err != nil {
		return errors.NewStorage("marshal designator", err)
	}

	return s.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO memory_promotion_decisions
				(id, decided_at, promoted_design_id, promoted_schema_version,
				 rollback_design_id, rollback_schema_version, eval_run_id, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, fmtTime(d.DecidedAt), d.PromotedDesignID, d.PromotedSchemaVersion,
			d.RollbackDesignID, d.RollbackSchemaVersion, nullIfEmpty(d.EvalRunID), d.Reason,
		)
		if err != nil {
			return errors.NewStorage("insert promotion decision", err)
		}
		_, err = tx.Exec(`
			INSERT INTO agent_state (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			StateActiveMemoryDesign, string(designator), fmtTime(time.Now()),
		)
		if err != nil {
			return errors.NewStorage("update active designator", err)
		}
		return nil
	})
}

// ListPromotionDecisions returns decisions newest first.
func (s *Store) ListPromotionDecisions() ([]PromotionDecision, error) {
	rows, err := s.db.Query(`
		SELECT id, decided_at, promoted_design_id, promoted_schema_version,
			rollback_design_id, rollback_schema_version, eval_run_id, reason
		FROM memory_promotion_decisions ORDER BY decided_at DESC, id DESC`)
	if err != nil {
		return nil, errors.NewStorage("query promotion decisions", err)
	}
	defer rows.Close()

	var decisions []PromotionDecision
	for rows.Next() {
		var (
			d       PromotionDecision
			decided string
			evalRun sql.NullString
		)
		if err := rows.Scan(&d.ID, &decided, &d.PromotedDesignID, &d.PromotedSchemaVersion,
			&d.RollbackDesignID, &d.RollbackSchemaVersion, &evalRun, &d.Reason); err != nil {
			return nil, errors.NewStorage("scan promotion decision", err)
		}
		if d.DecidedAt, err = parseTime(decided); err != nil {
			return nil, err
		}
		d.EvalRunID = evalRun.String
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("iterate promotion decisions", err)
	}
	return decisions, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

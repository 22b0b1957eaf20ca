package store

import (
	"database/sql"
	"encoding/json"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
)

// OrientationSnapshot is one persisted orientation with its insertion id.
// generated_at is non-decreasing in insertion order; ties break on ID.
type OrientationSnapshot struct {
	ID          int64             `json:"id"`
	Orientation agent.Orientation `json:"orientation"`
}

// InsertOrientationSnapshot persists a successful orientation.
func (s *Store) InsertOrientationSnapshot(o *agent.Orientation) (int64, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return 0, errors.NewStorage("marshal orientation", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		INSERT INTO orientation_snapshots (generated_at, user_state, disposition, synthesis, payload_json)
		VALUES (?, ?, ?, ?, ?)`,
		fmtTime(o.GeneratedAt), o.UserState.Kind.AsDBStr(),
		o.Disposition.AsDBStr(), o.RawSynthesis, string(payload),
	)
	if err != nil {
		return 0, errors.NewStorage("insert orientation snapshot", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.NewStorage("orientation snapshot id", err)
	}
	return id, nil
}

// LatestOrientationSnapshot returns the most recent snapshot, or nil when
// none exist yet.
func (s *Store) LatestOrientationSnapshot() (*OrientationSnapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, payload_json FROM orientation_snapshots
		ORDER BY generated_at DESC, id DESC LIMIT 1`)
	snap, err := scanOrientationSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return snap, err
}

// ListOrientationSnapshots returns snapshots in insertion order, oldest
// first, up to limit.
func (s *Store) ListOrientationSnapshots(limit int) ([]OrientationSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, payload_json FROM orientation_snapshots
		ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewStorage("query orientation snapshots", err)
	}
	defer rows.Close()

	var snaps []OrientationSnapshot
	for rows.Next() {
		snap, err := scanOrientationSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("iterate orientation snapshots", err)
	}
	return snaps, nil
}

// CountOrientationSnapshots returns the number of persisted snapshots.
func (s *Store) CountOrientationSnapshots() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM orientation_snapshots`).Scan(&n); err != nil {
		return 0, errors.NewStorage("count orientation snapshots", err)
	}
	return n, nil
}

func scanOrientationSnapshot(row rowScanner) (*OrientationSnapshot, error) {
	var (
		snap    OrientationSnapshot
		payload string
	)
	if err := row.Scan(&snap.ID, &payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.NewStorage("scan orientation snapshot", err)
	}
	if err := json.Unmarshal([]byte(payload), &snap.Orientation); err != nil {
		return nil, errors.NewStorage("unmarshal orientation payload", err)
	}
	return &snap, nil
}

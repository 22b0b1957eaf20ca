package store

import (
	"database/sql"
	"encoding/json"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
)

// InsertPersonaSnapshot appends one self-model record. The log is
// append-only; snapshots are never rewritten.
func (s *Store) InsertPersonaSnapshot(p *agent.PersonaSnapshot) error {
	var traits sql.NullString
	if len(p.Traits) > 0 {
		data, err := json.Marshal(p.Traits)
		if err != nil {
			return errors.NewStorage("marshal persona traits", err)
		}
		traits = sql.NullString{String: string(data), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO persona_snapshots (id, created_at, system_prompt, trajectory_notes, traits_json, "trigger")
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, fmtTime(p.CreatedAt), p.SystemPrompt, p.TrajectoryNotes, traits, p.Trigger,
	)
	if err != nil {
		return errors.NewStorage("insert persona snapshot", err)
	}
	return nil
}

// LatestPersonaSnapshot returns the most recent snapshot, or nil.
func (s *Store) LatestPersonaSnapshot() (*agent.PersonaSnapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, system_prompt, trajectory_notes, traits_json, "trigger"
		FROM persona_snapshots ORDER BY created_at DESC, id DESC LIMIT 1`)

	var (
		p       agent.PersonaSnapshot
		created string
		traits  sql.NullString
	)
	err := row.Scan(&p.ID, &created, &p.SystemPrompt, &p.TrajectoryNotes, &traits, &p.Trigger)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorage("scan persona snapshot", err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if traits.Valid {
		if err := json.Unmarshal([]byte(traits.String), &p.Traits); err != nil {
			return nil, errors.NewStorage("unmarshal persona traits", err)
		}
	}
	return &p, nil
}

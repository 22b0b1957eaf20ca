package store

import (
	"database/sql"
	"time"

	"github.com/ponderer/ponderer/internal/errors"
)

// Well-known agent_state keys.
const (
	StateCurrentSystemPrompt = "current_system_prompt"
	StateLastReflectionTime  = "last_reflection_time"
	StateActiveMemoryDesign  = "active_memory_design"
	StateLastDreamTime       = "last_dream_time"
)

// SetState upserts a generic key-value row.
func (s *Store) SetState(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO agent_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, fmtTime(time.Now()),
	)
	if err != nil {
		return errors.NewStorage("set agent state", err)
	}
	return nil
}

// GetState reads a key; ok is false when the key is absent.
func (s *Store) GetState(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM agent_state WHERE key = ?`, key).Scan(&value)
	switch err {
	case nil:
		return value, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, errors.NewStorage("get agent state", err)
	}
}

package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
)

// InsertConcern stores a new concern.
func (s *Store) InsertConcern(c *agent.Concern) error {
	typeJSON, err := json.Marshal(c.Type)
	if err != nil {
		return errors.NewStorage("marshal concern type", err)
	}
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return errors.NewStorage("marshal concern context", err)
	}
	keys, err := marshalStrings(c.RelatedMemoryKeys)
	if err != nil {
		return errors.NewStorage("marshal related_memory_keys", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO concerns (
			id, created_at, last_touched, summary, kind, type_json,
			salience, my_thoughts, related_memory_keys, context_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, fmtTime(c.CreatedAt), fmtTime(c.LastTouched), c.Summary,
		string(c.Type.Kind), string(typeJSON), c.Salience.AsDBStr(),
		c.MyThoughts, keys, string(ctxJSON),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewInvalidRequest("concern id already exists: " + c.ID)
		}
		return errors.NewStorage("insert concern", err)
	}
	return nil
}

// UpdateConcern rewrites the mutable fields of an existing concern.
func (s *Store) UpdateConcern(c *agent.Concern) error {
	typeJSON, err := json.Marshal(c.Type)
	if err != nil {
		return errors.NewStorage("marshal concern type", err)
	}
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return errors.NewStorage("marshal concern context", err)
	}
	keys, err := marshalStrings(c.RelatedMemoryKeys)
	if err != nil {
		return errors.NewStorage("marshal related_memory_keys", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		UPDATE concerns SET
			last_touched = ?, summary = ?, kind = ?, type_json = ?,
			salience = ?, my_thoughts = ?, related_memory_keys = ?, context_json = ?
		WHERE id = ?`,
		fmtTime(c.LastTouched), c.Summary, string(c.Type.Kind), string(typeJSON),
		c.Salience.AsDBStr(), c.MyThoughts, keys, string(ctxJSON), c.ID,
	)
	if err != nil {
		return errors.NewStorage("update concern", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("concern", c.ID)
	}
	return nil
}

// GetConcern fetches a single concern by id.
func (s *Store) GetConcern(id string) (*agent.Concern, error) {
	row := s.db.QueryRow(concernSelect+` WHERE id = ?`, id)
	c, err := scanConcern(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("concern", id)
	}
	return c, err
}

// ListConcerns returns every concern, highest salience tier first, then
// most recently touched. Equal timestamps resolve to the higher tier.
func (s *Store) ListConcerns() ([]agent.Concern, error) {
	rows, err := s.db.Query(concernSelect + `
		ORDER BY CASE salience
			WHEN 'active' THEN 0
			WHEN 'monitoring' THEN 1
			WHEN 'background' THEN 2
			ELSE 3
		END, last_touched DESC`)
	if err != nil {
		return nil, errors.NewStorage("query concerns", err)
	}
	defer rows.Close()
	return collectConcerns(rows)
}

// ListConcernsBySalience returns concerns in one tier, most recently
// touched first.
func (s *Store) ListConcernsBySalience(sal agent.Salience) ([]agent.Concern, error) {
	rows, err := s.db.Query(concernSelect+`
		WHERE salience = ? ORDER BY last_touched DESC`, sal.AsDBStr())
	if err != nil {
		return nil, errors.NewStorage("query concerns by salience", err)
	}
	defer rows.Close()
	return collectConcerns(rows)
}

// ConcernIDsExist reports which of the given ids are present.
func (s *Store) ConcernIDsExist(ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	for _, id := range ids {
		var one int
		err := s.db.QueryRow(`SELECT 1 FROM concerns WHERE id = ?`, id).Scan(&one)
		switch err {
		case nil:
			found[id] = true
		case sql.ErrNoRows:
			found[id] = false
		default:
			return nil, errors.NewStorage("probe concern id", err)
		}
	}
	return found, nil
}

const concernSelect = `
	SELECT id, created_at, last_touched, summary, type_json, salience,
		my_thoughts, related_memory_keys, context_json
	FROM concerns`

func scanConcern(row rowScanner) (*agent.Concern, error) {
	var (
		c                    agent.Concern
		createdAt, touched   string
		typeJSON, salience   string
		keys, ctxJSON        sql.NullString
	)
	err := row.Scan(&c.ID, &createdAt, &touched, &c.Summary, &typeJSON,
		&salience, &c.MyThoughts, &keys, &ctxJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.NewStorage("scan concern", err)
	}

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.LastTouched, err = parseTime(touched); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(typeJSON), &c.Type); err != nil {
		return nil, errors.NewStorage("unmarshal concern type", err)
	}
	c.Salience = agent.SalienceFromDB(salience)
	if c.RelatedMemoryKeys, err = unmarshalStrings(keys); err != nil {
		return nil, errors.NewStorage("unmarshal related_memory_keys", err)
	}
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &c.Context); err != nil {
			return nil, errors.NewStorage("unmarshal concern context", err)
		}
	}
	return &c, nil
}

func collectConcerns(rows *sql.Rows) ([]agent.Concern, error) {
	var concerns []agent.Concern
	for rows.Next() {
		c, err := scanConcern(rows)
		if err != nil {
			return nil, err
		}
		concerns = append(concerns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("iterate concerns", err)
	}
	return concerns, nil
}

// ReplaceConcerns atomically deletes the merged-away ids and updates the
// survivor; used by consolidation so a crash can't half-merge.
func (s *Store) ReplaceConcerns(survivor *agent.Concern, removedIDs []string) error {
	typeJSON, err := json.Marshal(survivor.Type)
	if err != nil {
		return errors.NewStorage("marshal concern type", err)
	}
	ctxJSON, err := json.Marshal(survivor.Context)
	if err != nil {
		return errors.NewStorage("marshal concern context", err)
	}
	keys, err := marshalStrings(survivor.RelatedMemoryKeys)
	if err != nil {
		return errors.NewStorage("marshal related_memory_keys", err)
	}

	return s.inTx(func(tx *sql.Tx) error {
		for _, id := range removedIDs {
			if _, err := tx.Exec(`DELETE FROM concerns WHERE id = ?`, id); err != nil {
				return errors.NewStorage("delete merged concern", err)
			}
		}
		_, err := tx.Exec(`
			UPDATE concerns SET
				created_at = ?, last_touched = ?, summary = ?, kind = ?,
				type_json = ?, salience = ?, my_thoughts = ?,
				related_memory_keys = ?, context_json = ?
			WHERE id = ?`,
			fmtTime(survivor.CreatedAt), fmtTime(survivor.LastTouched),
			survivor.Summary, string(survivor.Type.Kind), string(typeJSON),
			survivor.Salience.AsDBStr(), survivor.MyThoughts, keys,
			string(ctxJSON), survivor.ID,
		)
		if err != nil {
			return errors.NewStorage("update surviving concern", err)
		}
		return nil
	})
}

// TouchConcern bumps last_touched and records the reason, reactivating the
// concern. Touch always wins over decay.
func (s *Store) TouchConcern(id, reason string, at time.Time) error {
	c, err := s.GetConcern(id)
	if err != nil {
		return err
	}
	c.LastTouched = at
	c.Salience = agent.SalienceActive
	c.Context.LastUpdateReason = reason
	if reason != "" {
		c.Context.KeyEvents = append(c.Context.KeyEvents, reason)
	}
	return s.UpdateConcern(c)
}

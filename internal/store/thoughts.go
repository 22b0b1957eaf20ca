package store

import (
	"database/sql"
	"time"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
)

// EnqueuePendingThought adds a thought to the surface queue.
func (s *Store) EnqueuePendingThought(t *agent.PendingThought) error {
	relates, err := marshalStrings(t.RelatesTo)
	if err != nil {
		return errors.NewStorage("marshal relates_to", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO pending_thoughts_queue (id, content, context, priority, relates_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Content, t.Context, t.Priority, relates, fmtTime(t.CreatedAt),
	)
	if err != nil {
		return errors.NewStorage("enqueue pending thought", err)
	}
	return nil
}

// UnsurfacedThoughts returns queued thoughts that have been neither
// surfaced nor dismissed, highest priority first.
func (s *Store) UnsurfacedThoughts(limit int) ([]agent.PendingThought, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, content, context, priority, relates_to, created_at, surfaced_at, dismissed_at
		FROM pending_thoughts_queue
		WHERE surfaced_at IS NULL AND dismissed_at IS NULL
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewStorage("query pending thoughts", err)
	}
	defer rows.Close()

	var thoughts []agent.PendingThought
	for rows.Next() {
		var (
			t                   agent.PendingThought
			relates             sql.NullString
			created             string
			surfaced, dismissed sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Content, &t.Context, &t.Priority,
			&relates, &created, &surfaced, &dismissed); err != nil {
			return nil, errors.NewStorage("scan pending thought", err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if t.RelatesTo, err = unmarshalStrings(relates); err != nil {
			return nil, errors.NewStorage("unmarshal relates_to", err)
		}
		if surfaced.Valid {
			ts, err := parseTime(surfaced.String)
			if err != nil {
				return nil, err
			}
			t.SurfacedAt = &ts
		}
		if dismissed.Valid {
			ts, err := parseTime(dismissed.String)
			if err != nil {
				return nil, err
			}
			t.DismissedAt = &ts
		}
		thoughts = append(thoughts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("iterate pending thoughts", err)
	}
	return thoughts, nil
}

// MarkThoughtSurfaced stamps surfaced_at. The schema CHECK keeps surfaced
// and dismissed mutually exclusive.
func (s *Store) MarkThoughtSurfaced(id string, at time.Time) error {
	return s.stampThought(id, "surfaced_at", at)
}

// MarkThoughtDismissed stamps dismissed_at.
func (s *Store) MarkThoughtDismissed(id string, at time.Time) error {
	return s.stampThought(id, "dismissed_at", at)
}

func (s *Store) stampThought(id, column string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE pending_thoughts_queue SET `+column+` = ?
		 WHERE id = ? AND surfaced_at IS NULL AND dismissed_at IS NULL`,
		fmtTime(at), id,
	)
	if err != nil {
		return errors.NewStorage("stamp pending thought", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewConcurrency("pending thought already resolved: " + id)
	}
	return nil
}

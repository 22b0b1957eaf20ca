package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
)

// InsertJournalEntry appends one entry to the inner-life log. Entries are
// immutable after creation; there is deliberately no update path.
func (s *Store) InsertJournalEntry(e *agent.JournalEntry) error {
	related, err := marshalStrings(e.RelatedConcerns)
	if err != nil {
		return errors.NewStorage("marshal related_concerns", err)
	}

	var valence, arousal sql.NullFloat64
	if e.MoodAtTime != nil {
		valence = sql.NullFloat64{Float64: e.MoodAtTime.Valence, Valid: true}
		arousal = sql.NullFloat64{Float64: e.MoodAtTime.Arousal, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO journal_entries (
			id, ts, entry_type, content, "trigger", user_state_at_time,
			time_of_day, related_concerns, mood_valence, mood_arousal
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, fmtTime(e.Timestamp), e.Type.AsDBStr(), e.Content,
		e.Context.Trigger, e.Context.UserStateAtTime, e.Context.TimeOfDay,
		related, valence, arousal,
	)
	if err != nil {
		return errors.NewStorage("insert journal entry", err)
	}
	return nil
}

// RecentJournalEntries returns the newest entries, newest first.
func (s *Store) RecentJournalEntries(limit int) ([]agent.JournalEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(`
		SELECT id, ts, entry_type, content, "trigger", user_state_at_time,
			time_of_day, related_concerns, mood_valence, mood_arousal
		FROM journal_entries
		ORDER BY ts DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewStorage("query journal entries", err)
	}
	defer rows.Close()

	var entries []agent.JournalEntry
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("iterate journal entries", err)
	}
	return entries, nil
}

// JournalEntryByID fetches a single entry.
func (s *Store) JournalEntryByID(id string) (*agent.JournalEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, ts, entry_type, content, "trigger", user_state_at_time,
			time_of_day, related_concerns, mood_valence, mood_arousal
		FROM journal_entries WHERE id = ?`, id)
	entry, err := scanJournalEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("journal entry", id)
	}
	return entry, err
}

// LastJournalEntryTime returns the timestamp of the newest entry; the zero
// time when the log is empty.
func (s *Store) LastJournalEntryTime() (time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRow(`SELECT MAX(ts) FROM journal_entries`).Scan(&raw)
	if err != nil {
		return time.Time{}, errors.NewStorage("query last journal time", err)
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, nil
	}
	return parseTime(raw.String)
}

// CountJournalEntries returns the total number of entries.
func (s *Store) CountJournalEntries() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM journal_entries`).Scan(&n); err != nil {
		return 0, errors.NewStorage("count journal entries", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJournalEntry(row rowScanner) (*agent.JournalEntry, error) {
	var (
		e              agent.JournalEntry
		ts, entryType  string
		related        sql.NullString
		valence, arousal sql.NullFloat64
	)
	err := row.Scan(&e.ID, &ts, &entryType, &e.Content, &e.Context.Trigger,
		&e.Context.UserStateAtTime, &e.Context.TimeOfDay, &related, &valence, &arousal)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.NewStorage("scan journal entry", err)
	}

	e.Timestamp, err = parseTime(ts)
	if err != nil {
		return nil, err
	}
	e.Type = agent.JournalEntryTypeFromDB(entryType)
	if e.RelatedConcerns, err = unmarshalStrings(related); err != nil {
		return nil, errors.NewStorage("unmarshal related_concerns", err)
	}
	if valence.Valid {
		e.MoodAtTime = &agent.JournalMood{Valence: valence.Float64, Arousal: arousal.Float64}
	}
	return &e, nil
}

func marshalStrings(values []string) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalStrings(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}

package store

import (
	"database/sql"
	"time"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
)

// ReplaceCharacterCard atomically replaces the singleton card. At most one
// card exists at any instant.
func (s *Store) ReplaceCharacterCard(card *agent.CharacterCard) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM character_card`); err != nil {
			return errors.NewStorage("clear character card", err)
		}
		_, err := tx.Exec(`
			INSERT INTO character_card (singleton, name, card, updated_at)
			VALUES (1, ?, ?, ?)`,
			card.Name, card.Card, fmtTime(time.Now()),
		)
		if err != nil {
			return errors.NewStorage("insert character card", err)
		}
		return nil
	})
}

// DeleteCharacterCard removes the card; the delete is a singleton
// replace-all with nothing inserted.
func (s *Store) DeleteCharacterCard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM character_card`); err != nil {
		return errors.NewStorage("delete character card", err)
	}
	return nil
}

// GetCharacterCard returns the card, or nil when none is stored.
func (s *Store) GetCharacterCard() (*agent.CharacterCard, error) {
	row := s.db.QueryRow(`SELECT name, card, updated_at FROM character_card WHERE singleton = 1`)
	var (
		card    agent.CharacterCard
		updated string
	)
	err := row.Scan(&card.Name, &card.Card, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorage("scan character card", err)
	}
	if card.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &card, nil
}

// CountCharacterCards reports how many cards are stored (0 or 1).
func (s *Store) CountCharacterCards() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM character_card`).Scan(&n); err != nil {
		return 0, errors.NewStorage("count character cards", err)
	}
	return n, nil
}

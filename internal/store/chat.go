package store

import (
	"database/sql"
	"time"

	"github.com/ponderer/ponderer/internal/errors"
)

// Conversation is one operator chat thread.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is one message in a conversation. Operator messages carry
// processed=false until the engaged path has replied.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Processed      bool      `json:"processed"`
}

// CreateConversation starts a new thread.
func (s *Store) CreateConversation(title string) (*Conversation, error) {
	c := &Conversation{ID: NewID(), Title: title, CreatedAt: time.Now().UTC()}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO conversations (id, title, created_at) VALUES (?, ?, ?)`,
		c.ID, c.Title, fmtTime(c.CreatedAt))
	if err != nil {
		return nil, errors.NewStorage("create conversation", err)
	}
	return c, nil
}

// ListConversations returns all threads, newest first.
func (s *Store) ListConversations() ([]Conversation, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.NewStorage("query conversations", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var (
			c       Conversation
			created string
		)
		if err := rows.Scan(&c.ID, &c.Title, &created); err != nil {
			return nil, errors.NewStorage("scan conversation", err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("iterate conversations", err)
	}
	return convs, nil
}

// InsertChatMessage appends a message to a conversation.
func (s *Store) InsertChatMessage(m *ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	processed := 0
	if m.Processed {
		processed = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO chat_messages (id, conversation_id, role, content, created_at, processed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, fmtTime(m.CreatedAt), processed,
	)
	if err != nil {
		return errors.NewStorage("insert chat message", err)
	}
	return nil
}

// MessagesForConversation returns a thread's messages in order.
func (s *Store) MessagesForConversation(conversationID string) ([]ChatMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, created_at, processed
		FROM chat_messages WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, errors.NewStorage("query chat messages", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// UnprocessedUserMessages returns operator messages awaiting the engaged
// path, oldest first.
func (s *Store) UnprocessedUserMessages() ([]ChatMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, created_at, processed
		FROM chat_messages WHERE processed = 0 AND role = 'user'
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, errors.NewStorage("query unprocessed messages", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// CompleteTurn marks the operator message processed and inserts the agent
// reply in one transaction, storing the exact prompt payload used for the
// turn alongside the reply.
func (s *Store) CompleteTurn(userMessageID string, reply *ChatMessage, promptPayload string) error {
	return s.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE chat_messages SET processed = 1 WHERE id = ? AND processed = 0`, userMessageID)
		if err != nil {
			return errors.NewStorage("mark message processed", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewConcurrency("message already processed: " + userMessageID)
		}
		_, err = tx.Exec(`
			INSERT INTO chat_messages (id, conversation_id, role, content, created_at, processed, prompt_payload)
			VALUES (?, ?, ?, ?, ?, 1, ?)`,
			reply.ID, reply.ConversationID, reply.Role, reply.Content,
			fmtTime(reply.CreatedAt), nullIfEmpty(promptPayload),
		)
		if err != nil {
			return errors.NewStorage("insert agent reply", err)
		}
		return nil
	})
}

// PromptForTurn returns the stored prompt payload for an agent turn.
func (s *Store) PromptForTurn(messageID string) (string, error) {
	var payload sql.NullString
	err := s.db.QueryRow(`SELECT prompt_payload FROM chat_messages WHERE id = ?`, messageID).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFound("turn", messageID)
	}
	if err != nil {
		return "", errors.NewStorage("query turn prompt", err)
	}
	if !payload.Valid {
		return "", errors.NewNotFound("turn prompt", messageID)
	}
	return payload.String, nil
}

func collectMessages(rows *sql.Rows) ([]ChatMessage, error) {
	var msgs []ChatMessage
	for rows.Next() {
		var (
			m         ChatMessage
			created   string
			processed int
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &created, &processed); err != nil {
			return nil, errors.NewStorage("scan chat message", err)
		}
		var err error
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		m.Processed = processed != 0
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("iterate chat messages", err)
	}
	return msgs, nil
}

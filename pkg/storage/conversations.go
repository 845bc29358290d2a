package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hearthhq/hearth/pkg/auth"
)

// Conversation is a chat thread owned by a single user.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a stored chat message. Content holds ciphertext (or legacy
// plaintext, flagged by the IV sentinel); the store never sees plaintext
// for newly written rows. Encryption happens in the handler layer.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        []byte    `json:"-"`
	ContentIV      []byte    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateConversation starts a new thread for a user.
func (s *Store) CreateConversation(userID int64, title, model string) (*Conversation, error) {
	res, err := s.db.Exec(`
		INSERT INTO conversations (user_id, title, model)
		VALUES (?, ?, ?)
	`, userID, title, model)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading conversation id: %w", err)
	}
	return s.GetConversation(id, userID)
}

// GetConversation fetches a thread scoped by owner, so one user cannot read
// another's conversation by id.
func (s *Store) GetConversation(id, userID int64) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(`
		SELECT id, user_id, title, model, created_at, updated_at
		FROM conversations WHERE id = ? AND user_id = ?
	`, id, userID).Scan(&c.ID, &c.UserID, &c.Title, &c.Model, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns a user's threads, most recently active first.
func (s *Store) ListConversations(userID int64) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, model, created_at, updated_at
		FROM conversations WHERE user_id = ? ORDER BY updated_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]Conversation, 0)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Model, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// UpdateConversationTitle renames a thread, scoped by owner.
func (s *Store) UpdateConversationTitle(id, userID int64, title string) error {
	res, err := s.db.Exec(`
		UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?
	`, title, time.Now().UTC(), id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// DeleteConversation removes a thread and, via cascade, its messages.
func (s *Store) DeleteConversation(id, userID int64) error {
	res, err := s.db.Exec(`
		DELETE FROM conversations WHERE id = ? AND user_id = ?
	`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// AppendMessage stores one message and bumps the thread's updated_at.
func (s *Store) AppendMessage(conversationID int64, role string, content, contentIV []byte) (*Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO messages (conversation_id, role, content, content_iv)
		VALUES (?, ?, ?, ?)
	`, conversationID, role, content, contentIV)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading message id: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, time.Now().UTC(), conversationID); err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	var m Message
	err = s.db.QueryRow(`
		SELECT id, conversation_id, role, content, content_iv, created_at
		FROM messages WHERE id = ?
	`, id).Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.ContentIV, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return &m, nil
}

// ListMessages returns a thread's messages in insertion order.
func (s *Store) ListMessages(conversationID int64) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, content_iv, created_at
		FROM messages WHERE conversation_id = ? ORDER BY id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.ContentIV, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountConversations counts all threads across users.
func (s *Store) CountConversations() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}

// CountMessages counts all stored messages across threads.
func (s *Store) CountMessages() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

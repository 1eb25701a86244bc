package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/quantumlife/companion/internal/core"
)

// ConversationStore handles chat history persistence
type ConversationStore struct {
	q Querier
}

// NewConversationStore creates a new conversation store
func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{q: db.conn}
}

// WithTx returns a store bound to tx.
func (s *ConversationStore) WithTx(tx *sql.Tx) *ConversationStore {
	return &ConversationStore{q: tx}
}

// Create appends a chat turn.
func (s *ConversationStore) Create(ctx context.Context, c *core.Conversation) error {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	if c.UserID == 0 {
		c.UserID = core.DefaultUserID
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO conversations (user_id, session_id, message, response, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, c.UserID, nullString(c.SessionID), c.Message, c.Response, formatTime(c.Timestamp))
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// Recent returns the latest turns, newest first.
func (s *ConversationStore) Recent(ctx context.Context, userID core.UserID, limit int) ([]*core.Conversation, error) {
	return s.query(ctx, `
		SELECT id, user_id, session_id, message, response, timestamp
		FROM conversations WHERE user_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?
	`, userID, limit)
}

// Get returns one turn owned by userID.
func (s *ConversationStore) Get(ctx context.Context, userID core.UserID, id int64) (*core.Conversation, error) {
	rows, err := s.query(ctx, `
		SELECT id, user_id, session_id, message, response, timestamp
		FROM conversations WHERE id = ? AND user_id = ?
	`, id, userID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, core.ErrRecordNotFound
	}
	return rows[0], nil
}

// Session returns a session's turns in order.
func (s *ConversationStore) Session(ctx context.Context, userID core.UserID, sessionID string) ([]*core.Conversation, error) {
	return s.query(ctx, `
		SELECT id, user_id, session_id, message, response, timestamp
		FROM conversations WHERE user_id = ? AND session_id = ?
		ORDER BY timestamp, id
	`, userID, sessionID)
}

func (s *ConversationStore) query(ctx context.Context, query string, args ...any) ([]*core.Conversation, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Conversation
	for rows.Next() {
		c := &core.Conversation{}
		var session sql.NullString
		var ts string
		if err := rows.Scan(&c.ID, &c.UserID, &session, &c.Message, &c.Response, &ts); err != nil {
			return nil, err
		}
		c.SessionID = session.String
		c.Timestamp = parseTime(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

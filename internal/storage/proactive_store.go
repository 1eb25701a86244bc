package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quantumlife/companion/internal/core"
)

// ProactiveStore handles proactive messages and scheduled prompts
type ProactiveStore struct {
	q Querier
}

// NewProactiveStore creates a new proactive store
func NewProactiveStore(db *DB) *ProactiveStore {
	return &ProactiveStore{q: db.conn}
}

// WithTx returns a store bound to tx.
func (s *ProactiveStore) WithTx(tx *sql.Tx) *ProactiveStore {
	return &ProactiveStore{q: tx}
}

const proactiveColumns = `
	id, user_id, message_type, content, related_commitment_id, scheduled_for,
	sent_at, user_responded, response_content, responded_at, created_at`

// Create inserts a proactive message.
func (s *ProactiveStore) Create(ctx context.Context, m *core.ProactiveMessage) error {
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: content", core.ErrMissingRequired)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UserID == 0 {
		m.UserID = core.DefaultUserID
	}

	var related any
	if m.RelatedCommitmentID != nil {
		related = *m.RelatedCommitmentID
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO proactive_messages (
		    user_id, message_type, content, related_commitment_id, scheduled_for,
		    sent_at, user_responded, response_content, responded_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.UserID, m.MessageType, m.Content, related, nullableTime(m.ScheduledFor),
		nullableTime(m.SentAt), m.UserResponded, nullString(m.ResponseContent),
		nullableTime(m.RespondedAt), formatTime(m.CreatedAt))
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

// Get returns one message owned by userID.
func (s *ProactiveStore) Get(ctx context.Context, userID core.UserID, id int64) (*core.ProactiveMessage, error) {
	msgs, err := s.query(ctx, `SELECT `+proactiveColumns+` FROM proactive_messages WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, core.ErrRecordNotFound
	}
	return msgs[0], nil
}

// Due returns unsent messages scheduled at or before now, across users.
func (s *ProactiveStore) Due(ctx context.Context, now time.Time) ([]*core.ProactiveMessage, error) {
	return s.query(ctx, `
		SELECT `+proactiveColumns+` FROM proactive_messages
		WHERE sent_at IS NULL AND scheduled_for IS NOT NULL AND scheduled_for <= ?
		ORDER BY scheduled_for, id
	`, formatTime(now))
}

// MarkSent stamps sent_at if the message has not been sent yet.
func (s *ProactiveStore) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE proactive_messages SET sent_at = ? WHERE id = ? AND sent_at IS NULL`,
		formatTime(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Unanswered returns sent messages without a response, newest first.
func (s *ProactiveStore) Unanswered(ctx context.Context, userID core.UserID, since time.Time, limit int) ([]*core.ProactiveMessage, error) {
	return s.query(ctx, `
		SELECT `+proactiveColumns+` FROM proactive_messages
		WHERE user_id = ? AND sent_at IS NOT NULL AND sent_at >= ? AND user_responded = 0
		ORDER BY sent_at DESC, id DESC LIMIT ?
	`, userID, formatTime(since), limit)
}

// Pending returns messages that are scheduled but not yet sent.
func (s *ProactiveStore) Pending(ctx context.Context, userID core.UserID) ([]*core.ProactiveMessage, error) {
	return s.query(ctx, `
		SELECT `+proactiveColumns+` FROM proactive_messages
		WHERE user_id = ? AND sent_at IS NULL
		ORDER BY scheduled_for, id
	`, userID)
}

// ForCommitment returns every message tied to a commitment.
func (s *ProactiveStore) ForCommitment(ctx context.Context, commitmentID int64) ([]*core.ProactiveMessage, error) {
	return s.query(ctx, `
		SELECT `+proactiveColumns+` FROM proactive_messages
		WHERE related_commitment_id = ?
		ORDER BY created_at, id
	`, commitmentID)
}

// MarkResponded records the user's reply to a message.
func (s *ProactiveStore) MarkResponded(ctx context.Context, userID core.UserID, id int64, content string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE proactive_messages SET user_responded = 1, response_content = ?, responded_at = ?
		WHERE id = ? AND user_id = ?
	`, content, formatTime(at), id, userID)
	return expectOne(res, err, core.ErrRecordNotFound)
}

// CancelForCommitment drops unsent reminders of a commitment.
func (s *ProactiveStore) CancelForCommitment(ctx context.Context, commitmentID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM proactive_messages WHERE related_commitment_id = ? AND sent_at IS NULL`, commitmentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *ProactiveStore) query(ctx context.Context, query string, args ...any) ([]*core.ProactiveMessage, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.ProactiveMessage
	for rows.Next() {
		m := &core.ProactiveMessage{}
		var (
			related                          sql.NullInt64
			scheduled, sent, response, reply sql.NullString
			created                          string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.MessageType, &m.Content, &related, &scheduled,
			&sent, &m.UserResponded, &response, &reply, &created); err != nil {
			return nil, err
		}
		if related.Valid {
			id := related.Int64
			m.RelatedCommitmentID = &id
		}
		m.ScheduledFor = parseNullTime(scheduled)
		m.SentAt = parseNullTime(sent)
		m.ResponseContent = response.String
		m.RespondedAt = parseNullTime(reply)
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Scheduled prompts
// -----------------------------------------------------------------------------

// EnsurePrompt inserts p unless the user already has that prompt type.
// It reports whether a row was created.
func (s *ProactiveStore) EnsurePrompt(ctx context.Context, p *core.ScheduledPrompt) (bool, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	days, _ := json.Marshal(nonNilStrings(p.ScheduleDays))
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO scheduled_prompts (user_id, prompt_type, schedule_time, schedule_days, prompt_template, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, prompt_type) DO NOTHING
	`, p.UserID, p.PromptType, p.ScheduleTime, string(days), p.PromptTemplate, p.IsActive, formatTime(p.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 1 {
		p.ID, err = res.LastInsertId()
	}
	return n == 1, err
}

// ActivePrompts returns every active prompt across users.
func (s *ProactiveStore) ActivePrompts(ctx context.Context) ([]*core.ScheduledPrompt, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, user_id, prompt_type, schedule_time, schedule_days, prompt_template, is_active, last_sent_at, created_at
		FROM scheduled_prompts WHERE is_active = 1 ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.ScheduledPrompt
	for rows.Next() {
		p := &core.ScheduledPrompt{}
		var days, created string
		var lastSent sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.PromptType, &p.ScheduleTime, &days,
			&p.PromptTemplate, &p.IsActive, &lastSent, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(days), &p.ScheduleDays)
		p.LastSentAt = parseNullTime(lastSent)
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPromptSent stamps last_sent_at unless it was already stamped at or
// after notBefore. It reports whether this call won the update.
func (s *ProactiveStore) MarkPromptSent(ctx context.Context, id int64, at, notBefore time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE scheduled_prompts SET last_sent_at = ?
		WHERE id = ? AND (last_sent_at IS NULL OR last_sent_at < ?)
	`, formatTime(at), id, formatTime(notBefore))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

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

// CommitmentStore handles commitment persistence
type CommitmentStore struct {
	q   Querier
	loc *time.Location
}

// NewCommitmentStore creates a new commitment store
func NewCommitmentStore(db *DB) *CommitmentStore {
	return &CommitmentStore{q: db.conn, loc: time.Local}
}

// WithTx returns a store bound to tx.
func (s *CommitmentStore) WithTx(tx *sql.Tx) *CommitmentStore {
	return &CommitmentStore{q: tx, loc: s.loc}
}

// WithLocation returns a store that reads deadlines in loc.
func (s *CommitmentStore) WithLocation(loc *time.Location) *CommitmentStore {
	return &CommitmentStore{q: s.q, loc: loc}
}

const commitmentColumns = `
	id, user_id, task_description, original_message, deadline, deadline_type,
	priority, status, recurrence_pattern, recurrence_days, due_time,
	reminder_count, last_reminded_at, completion_count, last_completed_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *CommitmentStore) scan(row rowScanner) (*core.Commitment, error) {
	c := &core.Commitment{}
	var (
		original, deadline, dueTime      sql.NullString
		lastReminded, lastCompleted      sql.NullString
		recurrenceDays, created, updated string
	)

	err := row.Scan(
		&c.ID, &c.UserID, &c.TaskDescription, &original, &deadline, &c.DeadlineType,
		&c.Priority, &c.Status, &c.RecurrencePattern, &recurrenceDays, &dueTime,
		&c.ReminderCount, &lastReminded, &c.CompletionCount, &lastCompleted,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}

	c.OriginalMessage = original.String
	c.Deadline = parseDate(deadline, s.loc)
	c.DueTime = dueTime.String
	c.LastRemindedAt = parseNullTime(lastReminded)
	c.LastCompletedAt = parseNullTime(lastCompleted)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	if err := json.Unmarshal([]byte(recurrenceDays), &c.RecurrenceDays); err != nil {
		c.RecurrenceDays = nil
	}
	return c, nil
}

func (s *CommitmentStore) query(ctx context.Context, query string, args ...any) ([]*core.Commitment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Commitment
	for rows.Next() {
		c, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func applyCommitmentDefaults(c *core.Commitment) {
	if c.DeadlineType == "" {
		c.DeadlineType = core.DeadlineFuzzy
	}
	if c.Priority == "" {
		c.Priority = core.PriorityMedium
	}
	if c.RecurrencePattern == "" {
		c.RecurrencePattern = core.RecurrenceNone
	}
	if c.Status == "" {
		if c.IsRecurring() {
			c.Status = core.StatusActive
		} else {
			c.Status = core.StatusPending
		}
	}
	if c.UserID == 0 {
		c.UserID = core.DefaultUserID
	}
}

// Create inserts a commitment and sets its ID.
func (s *CommitmentStore) Create(ctx context.Context, c *core.Commitment) error {
	if strings.TrimSpace(c.TaskDescription) == "" {
		return fmt.Errorf("%w: task_description", core.ErrMissingRequired)
	}
	applyCommitmentDefaults(c)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt

	days, _ := json.Marshal(nonNilStrings(c.RecurrenceDays))

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO commitments (
		    user_id, task_description, original_message, deadline, deadline_type,
		    priority, status, recurrence_pattern, recurrence_days, due_time,
		    reminder_count, last_reminded_at, completion_count, last_completed_at,
		    created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.UserID, c.TaskDescription, nullString(c.OriginalMessage), nullableDate(c.Deadline), c.DeadlineType,
		c.Priority, c.Status, c.RecurrencePattern, string(days), nullString(c.DueTime),
		c.ReminderCount, nullableTime(c.LastRemindedAt), c.CompletionCount, nullableTime(c.LastCompletedAt),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// Get returns a commitment owned by userID.
func (s *CommitmentStore) Get(ctx context.Context, userID core.UserID, id int64) (*core.Commitment, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+commitmentColumns+` FROM commitments WHERE id = ? AND user_id = ?`, id, userID)
	c, err := s.scan(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrCommitmentNotFound
	}
	return c, err
}

// GetByID returns a commitment regardless of owner.
func (s *CommitmentStore) GetByID(ctx context.Context, id int64) (*core.Commitment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE id = ?`, id)
	c, err := s.scan(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrCommitmentNotFound
	}
	return c, err
}

// CommitmentFilter narrows List.
type CommitmentFilter struct {
	Statuses  []core.CommitmentStatus
	Recurring *bool
	Limit     int
}

// List returns a user's commitments, newest first.
func (s *CommitmentStore) List(ctx context.Context, userID core.UserID, f CommitmentFilter) ([]*core.Commitment, error) {
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE user_id = ?`
	args := []any{userID}

	if len(f.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(f.Statuses)) + `)`
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.Recurring != nil {
		if *f.Recurring {
			query += ` AND recurrence_pattern != 'none'`
		} else {
			query += ` AND recurrence_pattern = 'none'`
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.query(ctx, query, args...)
}

// Recent returns the latest commitments of any status.
func (s *CommitmentStore) Recent(ctx context.Context, userID core.UserID, limit int) ([]*core.Commitment, error) {
	return s.List(ctx, userID, CommitmentFilter{Limit: limit})
}

// ActiveRecurring returns recurring commitments that are still live.
func (s *CommitmentStore) ActiveRecurring(ctx context.Context, userID core.UserID) ([]*core.Commitment, error) {
	recurring := true
	return s.List(ctx, userID, CommitmentFilter{
		Statuses:  []core.CommitmentStatus{core.StatusPending, core.StatusActive},
		Recurring: &recurring,
	})
}

// FindByName returns the live commitment whose description equals name,
// ignoring case.
func (s *CommitmentStore) FindByName(ctx context.Context, userID core.UserID, name string) (*core.Commitment, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+commitmentColumns+` FROM commitments
		WHERE user_id = ? AND LOWER(task_description) = LOWER(?)
		  AND status IN ('pending', 'active')
		ORDER BY id LIMIT 1
	`, userID, strings.TrimSpace(name))
	c, err := s.scan(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrCommitmentNotFound
	}
	return c, err
}

// Update writes the mutable fields of c.
func (s *CommitmentStore) Update(ctx context.Context, c *core.Commitment, at time.Time) error {
	applyCommitmentDefaults(c)
	c.UpdatedAt = at.UTC()
	days, _ := json.Marshal(nonNilStrings(c.RecurrenceDays))

	res, err := s.q.ExecContext(ctx, `
		UPDATE commitments SET
		    task_description = ?, deadline = ?, deadline_type = ?, priority = ?,
		    status = ?, recurrence_pattern = ?, recurrence_days = ?, due_time = ?,
		    updated_at = ?
		WHERE id = ? AND user_id = ?
	`,
		c.TaskDescription, nullableDate(c.Deadline), c.DeadlineType, c.Priority,
		c.Status, c.RecurrencePattern, string(days), nullString(c.DueTime),
		formatTime(c.UpdatedAt), c.ID, c.UserID,
	)
	return expectOne(res, err, core.ErrCommitmentNotFound)
}

// SetStatus moves a commitment to status.
func (s *CommitmentStore) SetStatus(ctx context.Context, userID core.UserID, id int64, status core.CommitmentStatus, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidStatus, status)
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE commitments SET status = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		status, formatTime(at), id, userID)
	return expectOne(res, err, core.ErrCommitmentNotFound)
}

// Postpone moves the deadline and restarts the reminder cycle.
func (s *CommitmentStore) Postpone(ctx context.Context, userID core.UserID, id int64, deadline, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE commitments SET
		    deadline = ?, status = 'pending', reminder_count = 0,
		    last_reminded_at = NULL, updated_at = ?
		WHERE id = ? AND user_id = ? AND recurrence_pattern = 'none'
	`, core.DateOf(deadline), formatTime(at), id, userID)
	return expectOne(res, err, core.ErrCommitmentNotFound)
}

// Delete removes a commitment and its completions.
func (s *CommitmentStore) Delete(ctx context.Context, userID core.UserID, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM commitments WHERE id = ? AND user_id = ?`, id, userID)
	return expectOne(res, err, core.ErrCommitmentNotFound)
}

// Overdue returns pending one-time commitments whose deadline is before
// today and that have fewer than maxReminders reminders, across users.
func (s *CommitmentStore) Overdue(ctx context.Context, today string, maxReminders int) ([]*core.Commitment, error) {
	return s.query(ctx, `
		SELECT `+commitmentColumns+` FROM commitments
		WHERE status = 'pending' AND recurrence_pattern = 'none'
		  AND deadline IS NOT NULL AND deadline < ?
		  AND reminder_count < ?
		ORDER BY deadline, id
	`, today, maxReminders)
}

// MarkReminded increments the reminder counter only if it still equals
// observed. It reports whether this call won the update.
func (s *CommitmentStore) MarkReminded(ctx context.Context, id int64, observed int, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE commitments SET
		    reminder_count = reminder_count + 1, last_reminded_at = ?, updated_at = ?
		WHERE id = ? AND reminder_count = ?
	`, formatTime(at), formatTime(at), id, observed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Upcoming returns live commitments with a deadline in [from, to],
// earliest first.
func (s *CommitmentStore) Upcoming(ctx context.Context, userID core.UserID, from, to string) ([]*core.Commitment, error) {
	return s.query(ctx, `
		SELECT `+commitmentColumns+` FROM commitments
		WHERE user_id = ? AND status IN ('pending', 'active')
		  AND deadline IS NOT NULL AND deadline >= ? AND deadline <= ?
		ORDER BY deadline, id
	`, userID, from, to)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func expectOne(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

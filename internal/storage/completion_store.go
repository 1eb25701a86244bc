package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/quantumlife/companion/internal/core"
)

// CompletionStore handles per-day commitment records
type CompletionStore struct {
	q Querier
}

// NewCompletionStore creates a new completion store
func NewCompletionStore(db *DB) *CompletionStore {
	return &CompletionStore{q: db.conn}
}

// WithTx returns a store bound to tx.
func (s *CompletionStore) WithTx(tx *sql.Tx) *CompletionStore {
	return &CompletionStore{q: tx}
}

// Record upserts the completion of c on date. It returns false when a
// record for that date already existed, in which case nothing changes.
// A new completed record bumps the commitment counters and closes
// one-time commitments.
func (s *CompletionStore) Record(ctx context.Context, c *core.Commitment, date string, status core.CompletionStatus, notes string, at time.Time) (bool, error) {
	if status == "" {
		status = core.CompletionDone
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO commitment_completions (commitment_id, completion_date, status, notes, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (commitment_id, completion_date) DO NOTHING
	`, c.ID, date, status, nullString(notes), formatTime(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if status != core.CompletionDone {
		return true, nil
	}

	_, err = s.q.ExecContext(ctx, `
		UPDATE commitments SET
		    completion_count = completion_count + 1,
		    last_completed_at = ?,
		    status = CASE WHEN recurrence_pattern = 'none' THEN 'completed' ELSE status END,
		    updated_at = ?
		WHERE id = ?
	`, formatTime(at), formatTime(at), c.ID)
	if err != nil {
		return false, err
	}

	c.CompletionCount++
	completedAt := at.UTC()
	c.LastCompletedAt = &completedAt
	if !c.IsRecurring() {
		c.Status = core.StatusCompleted
	}
	return true, nil
}

// Get returns the record for a commitment on a date.
func (s *CompletionStore) Get(ctx context.Context, commitmentID int64, date string) (*core.CommitmentCompletion, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, commitment_id, completion_date, status, notes, created_at
		FROM commitment_completions WHERE commitment_id = ? AND completion_date = ?
	`, commitmentID, date)
	cc, err := scanCompletion(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrRecordNotFound
	}
	return cc, err
}

// Since returns records on or after fromDate, newest first.
func (s *CompletionStore) Since(ctx context.Context, commitmentID int64, fromDate string) ([]core.CommitmentCompletion, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, commitment_id, completion_date, status, notes, created_at
		FROM commitment_completions
		WHERE commitment_id = ? AND completion_date >= ?
		ORDER BY completion_date DESC
	`, commitmentID, fromDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.CommitmentCompletion
	for rows.Next() {
		cc, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cc)
	}
	return out, rows.Err()
}

// Count returns how many records exist for a commitment.
func (s *CompletionStore) Count(ctx context.Context, commitmentID int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commitment_completions WHERE commitment_id = ?`, commitmentID).Scan(&n)
	return n, err
}

func scanCompletion(row rowScanner) (*core.CommitmentCompletion, error) {
	cc := &core.CommitmentCompletion{}
	var notes sql.NullString
	var created string
	if err := row.Scan(&cc.ID, &cc.CommitmentID, &cc.CompletionDate, &cc.Status, &notes, &created); err != nil {
		return nil, err
	}
	cc.Notes = notes.String
	cc.CreatedAt = parseTime(created)
	return cc, nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quantumlife/companion/internal/core"
)

// MoodStore handles daily check-ins
type MoodStore struct {
	q Querier
}

// NewMoodStore creates a new mood store
func NewMoodStore(db *DB) *MoodStore {
	return &MoodStore{q: db.conn}
}

// WithTx returns a store bound to tx.
func (s *MoodStore) WithTx(tx *sql.Tx) *MoodStore {
	return &MoodStore{q: tx}
}

// Upsert writes the check-in for (user, date). It reports whether a new
// row was created rather than an existing one updated.
func (s *MoodStore) Upsert(ctx context.Context, c *core.DailyCheckIn) (bool, error) {
	if c.Mood < 1 || c.Mood > 5 {
		return false, fmt.Errorf("%w: mood %d outside 1..5", core.ErrInvalidInput, c.Mood)
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}

	var existing int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM daily_checkins WHERE user_id = ? AND checkin_date = ?`,
		c.UserID, c.CheckInDate).Scan(&existing)
	if err != nil {
		return false, err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO daily_checkins (user_id, checkin_date, mood, notes, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, checkin_date) DO UPDATE SET
		    mood = excluded.mood,
		    notes = excluded.notes,
		    timestamp = excluded.timestamp
	`, c.UserID, c.CheckInDate, c.Mood, nullString(c.Notes), formatTime(c.Timestamp))
	if err != nil {
		return false, err
	}
	return existing == 0, nil
}

// Since returns check-ins on or after fromDate, newest first.
func (s *MoodStore) Since(ctx context.Context, userID core.UserID, fromDate string) ([]core.DailyCheckIn, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, user_id, checkin_date, mood, notes, timestamp
		FROM daily_checkins
		WHERE user_id = ? AND checkin_date >= ?
		ORDER BY checkin_date DESC
	`, userID, fromDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.DailyCheckIn
	for rows.Next() {
		var c core.DailyCheckIn
		var notes sql.NullString
		var ts string
		if err := rows.Scan(&c.ID, &c.UserID, &c.CheckInDate, &c.Mood, &notes, &ts); err != nil {
			return nil, err
		}
		c.Notes = notes.String
		c.Timestamp = parseTime(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

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

// PersonStore handles people and the user profile
type PersonStore struct {
	q Querier
}

// NewPersonStore creates a new person store
func NewPersonStore(db *DB) *PersonStore {
	return &PersonStore{q: db.conn}
}

// WithTx returns a store bound to tx.
func (s *PersonStore) WithTx(tx *sql.Tx) *PersonStore {
	return &PersonStore{q: tx}
}

const personColumns = `id, user_id, name, how_you_know_them, pronouns, description, tags, created_at, updated_at`

// Create inserts a person.
func (s *PersonStore) Create(ctx context.Context, p *core.Person) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name", core.ErrMissingRequired)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	tags, _ := json.Marshal(nonNilStrings(p.Tags))

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO people (user_id, name, how_you_know_them, pronouns, description, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.UserID, p.Name, nullString(p.HowYouKnowThem), nullString(p.Pronouns), p.Description,
		string(tags), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

// Update writes all mutable fields.
func (s *PersonStore) Update(ctx context.Context, p *core.Person, at time.Time) error {
	p.UpdatedAt = at.UTC()
	tags, _ := json.Marshal(nonNilStrings(p.Tags))
	res, err := s.q.ExecContext(ctx, `
		UPDATE people SET name = ?, how_you_know_them = ?, pronouns = ?, description = ?, tags = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, p.Name, nullString(p.HowYouKnowThem), nullString(p.Pronouns), p.Description, string(tags),
		formatTime(p.UpdatedAt), p.ID, p.UserID)
	return expectOne(res, err, core.ErrRecordNotFound)
}

// Get returns a person owned by userID.
func (s *PersonStore) Get(ctx context.Context, userID core.UserID, id int64) (*core.Person, error) {
	people, err := s.query(ctx, `SELECT `+personColumns+` FROM people WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return nil, err
	}
	if len(people) == 0 {
		return nil, core.ErrRecordNotFound
	}
	return people[0], nil
}

// FindByName returns the person whose name equals name, ignoring case.
func (s *PersonStore) FindByName(ctx context.Context, userID core.UserID, name string) (*core.Person, error) {
	people, err := s.query(ctx, `
		SELECT `+personColumns+` FROM people
		WHERE user_id = ? AND LOWER(name) = LOWER(?)
		ORDER BY id LIMIT 1
	`, userID, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	if len(people) == 0 {
		return nil, core.ErrRecordNotFound
	}
	return people[0], nil
}

// Search returns people whose name contains fragment, ignoring case.
func (s *PersonStore) Search(ctx context.Context, userID core.UserID, fragment string) ([]*core.Person, error) {
	return s.query(ctx, `
		SELECT `+personColumns+` FROM people
		WHERE user_id = ? AND LOWER(name) LIKE '%' || LOWER(?) || '%'
		ORDER BY LENGTH(name), id
	`, userID, strings.TrimSpace(fragment))
}

// List returns all of a user's people.
func (s *PersonStore) List(ctx context.Context, userID core.UserID) ([]*core.Person, error) {
	return s.query(ctx, `SELECT `+personColumns+` FROM people WHERE user_id = ? ORDER BY name`, userID)
}

func (s *PersonStore) query(ctx context.Context, query string, args ...any) ([]*core.Person, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Person
	for rows.Next() {
		p := &core.Person{}
		var how, pronouns sql.NullString
		var tags, created, updated string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &how, &pronouns, &p.Description, &tags, &created, &updated); err != nil {
			return nil, err
		}
		p.HowYouKnowThem = how.String
		p.Pronouns = pronouns.String
		_ = json.Unmarshal([]byte(tags), &p.Tags)
		p.CreatedAt = parseTime(created)
		p.UpdatedAt = parseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// User profile
// -----------------------------------------------------------------------------

// Profile returns the user's profile, or ErrRecordNotFound.
func (s *PersonStore) Profile(ctx context.Context, userID core.UserID) (*core.UserProfile, error) {
	p := &core.UserProfile{}
	var name sql.NullString
	var created, updated string
	err := s.q.QueryRowContext(ctx, `
		SELECT user_id, name, description, created_at, updated_at
		FROM user_profiles WHERE user_id = ?
	`, userID).Scan(&p.UserID, &name, &p.Description, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Name = name.String
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

// SaveProfile inserts or replaces the profile row.
func (s *PersonStore) SaveProfile(ctx context.Context, p *core.UserProfile, at time.Time) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = at.UTC()
	}
	p.UpdatedAt = at.UTC()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
		    name = excluded.name,
		    description = excluded.description,
		    updated_at = excluded.updated_at
	`, p.UserID, nullString(p.Name), p.Description, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	return err
}

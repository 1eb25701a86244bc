package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// Migration is one embedded schema file. AppliedAt is nil while pending.
type Migration struct {
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Migrate applies every pending migration.
func (db *DB) Migrate() error {
	return db.MigrateContext(context.Background())
}

// MigrateContext applies pending migrations in file name order, each in
// its own transaction.
func (db *DB) MigrateContext(ctx context.Context) error {
	status, err := db.Migrations(ctx)
	if err != nil {
		return err
	}

	log := logging.Component("storage")
	for _, m := range status {
		if m.AppliedAt != nil {
			continue
		}
		body, err := fs.ReadFile(migrationsFS, path.Join("migrations", m.Name))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", core.ErrMigrationFailed, m.Name, err)
		}
		err = db.TransactionContext(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)",
				m.Name, formatTime(time.Now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %s: %v", core.ErrMigrationFailed, m.Name, err)
		}
		log.WithField("migration", m.Name).Info("applied migration")
	}
	return nil
}

// Migrations lists the embedded migrations with their applied time.
func (db *DB) Migrations(ctx context.Context) ([]Migration, error) {
	if _, err := db.conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return nil, fmt.Errorf("%w: create schema_migrations: %v", core.ErrMigrationFailed, err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	applied := make(map[string]time.Time)
	rows, err := db.conn.QueryContext(ctx, "SELECT name, applied_at FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name, at string
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		applied[name] = parseTime(at)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Migration, 0, len(names))
	for _, n := range names {
		m := Migration{Name: path.Base(n)}
		if at, ok := applied[m.Name]; ok {
			m.AppliedAt = &at
		}
		out = append(out, m)
	}
	return out, nil
}

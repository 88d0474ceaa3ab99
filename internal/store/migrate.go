package store

import (
	"context"
	"fmt"
)

// migrations run in order; PRAGMA user_version records how many have been
// applied.
var migrations = []string{
	`CREATE TABLE silos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL
	);
	CREATE TABLE pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		silo_id INTEGER NOT NULL REFERENCES silos(id),
		path TEXT NOT NULL,
		title TEXT NOT NULL,
		current_revision_id INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		archived_at INTEGER
	);
	CREATE UNIQUE INDEX pages_live_path ON pages (silo_id, path) WHERE archived_at IS NULL;
	CREATE TABLE revisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id INTEGER NOT NULL REFERENCES pages(id),
		content TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX revisions_page ON revisions (page_id, id);`,

	`CREATE TABLE attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		unique_filename TEXT UNIQUE NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);`,

	`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE TABLE identities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		provider TEXT NOT NULL,
		provider_user_id TEXT NOT NULL,
		password_hash TEXT,
		UNIQUE (provider, provider_user_id)
	);`,
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// SchemaVersion reports the applied migration count.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version)
	return version, err
}

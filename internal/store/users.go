package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sowerrors "github.com/conneroisu/sowing/internal/errors"
)

// ProviderLocal is the identity provider for username and password logins.
const ProviderLocal = "local"

// User is a wiki account. Authentication methods hang off it as
// identities.
type User struct {
	ID          int64
	Username    string
	DisplayName string
	CreatedAt   time.Time
}

// Name is what revisions record as their author.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// CreateUser creates a user with a local identity holding passwordHash.
func (s *Store) CreateUser(ctx context.Context, username, displayName, passwordHash string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, sowerrors.NewValidationError(sowerrors.ErrCodeValidationFailed, "username is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (username, display_name, created_at) VALUES (?, ?, ?) ON CONFLICT(username) DO NOTHING`,
		username, strings.TrimSpace(displayName), now.UnixMilli())
	if err != nil {
		return nil, storageError("create user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, sowerrors.NewConflictError(sowerrors.ErrCodeAlreadyExists, "user already exists: "+username).
			WithContext("username", username)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageError("create user", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO identities (user_id, provider, provider_user_id, password_hash) VALUES (?, ?, ?, ?)`,
		id, ProviderLocal, username, passwordHash); err != nil {
		return nil, storageError("create identity", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("commit", err)
	}

	return &User{
		ID:          id,
		Username:    username,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

func (s *Store) findUser(ctx context.Context, where string, arg any) (*User, error) {
	u := &User{}
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Username, &u.DisplayName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sowerrors.NewNotFoundError(sowerrors.ErrCodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, storageError("load user", err)
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return u, nil
}

// FindUser looks a user up by id.
func (s *Store) FindUser(ctx context.Context, id int64) (*User, error) {
	return s.findUser(ctx, `id = ?`, id)
}

// FindUserByUsername looks a user up by username.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.findUser(ctx, `username = ?`, username)
}

// PasswordHash returns the local identity's hash for username. A user
// without a password is reported as not found.
func (s *Store) PasswordHash(ctx context.Context, username string) (string, error) {
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM identities WHERE provider = ? AND provider_user_id = ?`,
		ProviderLocal, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !hash.Valid) {
		return "", sowerrors.NewNotFoundError(sowerrors.ErrCodeUserNotFound, "no password for user")
	}
	if err != nil {
		return "", storageError("load identity", err)
	}
	return hash.String, nil
}

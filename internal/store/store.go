// Package store persists silos, pages, revisions and attachment metadata
// in SQLite through the pure Go modernc driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	sowerrors "github.com/conneroisu/sowing/internal/errors"
)

// Silo is a top-level content area.
type Silo struct {
	ID   int64
	Slug string
	Name string
}

// Page is a wiki page addressed by silo and slash-separated path.
type Page struct {
	ID                int64
	SiloID            int64
	Silo              string
	Path              string
	Title             string
	CurrentRevisionID int64
	UpdatedAt         time.Time
}

// Revision is one saved state of a page.
type Revision struct {
	ID        int64
	PageID    int64
	Content   string
	Author    string
	Comment   string
	CreatedAt time.Time
}

// Attachment is the metadata of an uploaded file.
type Attachment struct {
	ID             int64
	Filename       string
	UniqueFilename string
	MimeType       string
	Size           int64
	CreatedAt      time.Time
}

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at dsn and migrates it.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers anyway; one connection also keeps an
	// in-memory database alive and shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSilo returns the silo with slug, creating it with name if needed.
func (s *Store) EnsureSilo(ctx context.Context, slug, name string) (*Silo, error) {
	return ensureSilo(ctx, s.db, slug, name)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureSilo(ctx context.Context, q queryer, slug, name string) (*Silo, error) {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO silos (slug, name) VALUES (?, ?) ON CONFLICT(slug) DO NOTHING`, slug, name); err != nil {
		return nil, storageError("create silo", err)
	}
	silo := &Silo{}
	err := q.QueryRowContext(ctx, `SELECT id, slug, name FROM silos WHERE slug = ?`, slug).
		Scan(&silo.ID, &silo.Slug, &silo.Name)
	if err != nil {
		return nil, storageError("load silo", err)
	}
	return silo, nil
}

// FindSilo looks a silo up by slug.
func (s *Store) FindSilo(ctx context.Context, slug string) (*Silo, error) {
	silo := &Silo{}
	err := s.db.QueryRowContext(ctx, `SELECT id, slug, name FROM silos WHERE slug = ?`, slug).
		Scan(&silo.ID, &silo.Slug, &silo.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sowerrors.NewNotFoundError(sowerrors.ErrCodePageNotFound, "silo not found: "+slug)
	}
	if err != nil {
		return nil, storageError("load silo", err)
	}
	return silo, nil
}

// ListSilos returns every silo ordered by slug.
func (s *Store) ListSilos(ctx context.Context) ([]Silo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, slug, name FROM silos ORDER BY slug`)
	if err != nil {
		return nil, storageError("list silos", err)
	}
	defer rows.Close()

	var silos []Silo
	for rows.Next() {
		var silo Silo
		if err := rows.Scan(&silo.ID, &silo.Slug, &silo.Name); err != nil {
			return nil, storageError("scan silo", err)
		}
		silos = append(silos, silo)
	}
	return silos, rows.Err()
}

const pageColumns = `p.id, p.silo_id, s.slug, p.path, p.title, p.current_revision_id, p.updated_at`

func scanPage(row interface{ Scan(...any) error }) (*Page, error) {
	p := &Page{}
	var updated int64
	if err := row.Scan(&p.ID, &p.SiloID, &p.Silo, &p.Path, &p.Title, &p.CurrentRevisionID, &updated); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

// FindPage looks up the live page at silo/path.
func (s *Store) FindPage(ctx context.Context, silo, path string) (*Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+`
		FROM pages p JOIN silos s ON s.id = p.silo_id
		WHERE s.slug = ? AND p.path = ? AND p.archived_at IS NULL`, silo, path)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sowerrors.ErrPageNotFound(silo, path)
	}
	if err != nil {
		return nil, storageError("load page", err)
	}
	return p, nil
}

// ListPages returns the live pages of silo ordered by path.
func (s *Store) ListPages(ctx context.Context, silo string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pageColumns+`
		FROM pages p JOIN silos s ON s.id = p.silo_id
		WHERE s.slug = ? AND p.archived_at IS NULL
		ORDER BY p.path`, silo)
	if err != nil {
		return nil, storageError("list pages", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, storageError("scan page", err)
		}
		pages = append(pages, *p)
	}
	return pages, rows.Err()
}

// SaveRevision records content as the new current revision of silo/path.
// A missing silo or page is created; title is only used on creation.
func (s *Store) SaveRevision(ctx context.Context, silo, path, title string, rev Revision) (*Page, *Revision, error) {
	path = strings.Trim(path, "/")
	if silo == "" || path == "" {
		return nil, nil, sowerrors.ErrInvalidPage(silo + "/" + path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, storageError("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	siloRow, err := ensureSilo(ctx, tx, silo, silo)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	pageID, revID, err := appendRevision(ctx, tx, siloRow.ID, path, title, rev, now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, storageError("commit", err)
	}

	rev.ID = revID
	rev.PageID = pageID
	rev.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()

	page, err := s.FindPage(ctx, silo, path)
	if err != nil {
		return nil, nil, err
	}
	return page, &rev, nil
}

// CreatePage is SaveRevision for a page that must not exist yet. The silo
// must exist.
func (s *Store) CreatePage(ctx context.Context, silo, path, title string, rev Revision) (*Page, *Revision, error) {
	path = strings.Trim(path, "/")
	if silo == "" || path == "" || strings.Contains(path, "//") {
		return nil, nil, sowerrors.ErrInvalidPage(silo + "/" + path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, storageError("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var siloID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM silos WHERE slug = ?`, silo).Scan(&siloID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, sowerrors.NewNotFoundError(sowerrors.ErrCodePageNotFound, "silo not found: "+silo)
	}
	if err != nil {
		return nil, nil, storageError("load silo", err)
	}

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pages WHERE silo_id = ? AND path = ? AND archived_at IS NULL`,
		siloID, path).Scan(&exists); err != nil {
		return nil, nil, storageError("load page", err)
	}
	if exists > 0 {
		return nil, nil, sowerrors.NewConflictError(sowerrors.ErrCodeAlreadyExists, "page already exists: "+silo+"/"+path).
			WithContext("silo", silo).
			WithContext("path", path)
	}

	now := s.now().UTC()
	pageID, revID, err := appendRevision(ctx, tx, siloID, path, title, rev, now)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, storageError("commit", err)
	}

	rev.ID, rev.PageID = revID, pageID
	rev.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	page, err := s.FindPage(ctx, silo, path)
	if err != nil {
		return nil, nil, err
	}
	return page, &rev, nil
}

// CreateSilo creates a silo together with its home page, whose first
// revision is home.
func (s *Store) CreateSilo(ctx context.Context, slug, name string, home Revision) (*Silo, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" || strings.ContainsAny(slug, "/ ") {
		return nil, sowerrors.NewValidationError(sowerrors.ErrCodeValidationFailed, "invalid silo slug: "+slug)
	}
	if name = strings.TrimSpace(name); name == "" {
		name = slug
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO silos (slug, name) VALUES (?, ?) ON CONFLICT(slug) DO NOTHING`, slug, name)
	if err != nil {
		return nil, storageError("create silo", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, sowerrors.NewConflictError(sowerrors.ErrCodeAlreadyExists, "silo already exists: "+slug).
			WithContext("silo", slug)
	}
	siloID, err := res.LastInsertId()
	if err != nil {
		return nil, storageError("create silo", err)
	}

	if _, _, err := appendRevision(ctx, tx, siloID, "home", "Home", home, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("commit", err)
	}
	return &Silo{ID: siloID, Slug: slug, Name: name}, nil
}

// appendRevision adds rev to the live page at path in silo, creating the
// page if needed, and makes it current.
func appendRevision(ctx context.Context, tx *sql.Tx, siloID int64, path, title string, rev Revision, now time.Time) (pageID, revID int64, err error) {
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM pages WHERE silo_id = ? AND path = ? AND archived_at IS NULL`,
		siloID, path).Scan(&pageID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO pages (silo_id, path, title, current_revision_id, updated_at) VALUES (?, ?, ?, 0, ?)`,
			siloID, path, title, now.UnixMilli())
		if err != nil {
			return 0, 0, storageError("create page", err)
		}
		if pageID, err = res.LastInsertId(); err != nil {
			return 0, 0, storageError("create page", err)
		}
	case err != nil:
		return 0, 0, storageError("load page", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO revisions (page_id, content, author, comment, created_at) VALUES (?, ?, ?, ?, ?)`,
		pageID, rev.Content, rev.Author, rev.Comment, now.UnixMilli())
	if err != nil {
		return 0, 0, storageError("create revision", err)
	}
	if revID, err = res.LastInsertId(); err != nil {
		return 0, 0, storageError("create revision", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pages SET current_revision_id = ?, updated_at = ? WHERE id = ?`,
		revID, now.UnixMilli(), pageID); err != nil {
		return 0, 0, storageError("update page", err)
	}
	return pageID, revID, nil
}

// ArchivePage hides a page; its revisions are kept.
func (s *Store) ArchivePage(ctx context.Context, pageID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET archived_at = ? WHERE id = ? AND archived_at IS NULL`, s.now().UTC().UnixMilli(), pageID)
	if err != nil {
		return storageError("archive page", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sowerrors.NewNotFoundError(sowerrors.ErrCodePageNotFound, fmt.Sprintf("page %d not found", pageID))
	}
	return nil
}

// Revision loads one revision by id.
func (s *Store) Revision(ctx context.Context, id int64) (*Revision, error) {
	rev := &Revision{}
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, page_id, content, author, comment, created_at FROM revisions WHERE id = ?`, id).
		Scan(&rev.ID, &rev.PageID, &rev.Content, &rev.Author, &rev.Comment, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sowerrors.NewNotFoundError(sowerrors.ErrCodeRevisionNotFound, fmt.Sprintf("revision %d not found", id))
	}
	if err != nil {
		return nil, storageError("load revision", err)
	}
	rev.CreatedAt = time.UnixMilli(created).UTC()
	return rev, nil
}

// ListRevisions returns a page's revisions with their content, newest first.
func (s *Store) ListRevisions(ctx context.Context, pageID int64) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, page_id, content, author, comment, created_at FROM revisions WHERE page_id = ? ORDER BY id DESC`, pageID)
	if err != nil {
		return nil, storageError("list revisions", err)
	}
	defer rows.Close()

	var revs []Revision
	for rows.Next() {
		var rev Revision
		var created int64
		if err := rows.Scan(&rev.ID, &rev.PageID, &rev.Content, &rev.Author, &rev.Comment, &created); err != nil {
			return nil, storageError("scan revision", err)
		}
		rev.CreatedAt = time.UnixMilli(created).UTC()
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

// AddAttachment records upload metadata and returns its id.
func (s *Store) AddAttachment(ctx context.Context, a Attachment) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (filename, unique_filename, mime_type, size, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.Filename, a.UniqueFilename, a.MimeType, a.Size, s.now().UTC().UnixMilli())
	if err != nil {
		return 0, storageError("save attachment", err)
	}
	return res.LastInsertId()
}

// FindAttachment looks an attachment up by its stored name.
func (s *Store) FindAttachment(ctx context.Context, uniqueFilename string) (*Attachment, error) {
	a := &Attachment{}
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, unique_filename, mime_type, size, created_at FROM attachments WHERE unique_filename = ?`,
		uniqueFilename).Scan(&a.ID, &a.Filename, &a.UniqueFilename, &a.MimeType, &a.Size, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sowerrors.NewNotFoundError(sowerrors.ErrCodePageNotFound, "attachment not found: "+uniqueFilename)
	}
	if err != nil {
		return nil, storageError("load attachment", err)
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	return a, nil
}

func storageError(op string, err error) error {
	return sowerrors.Wrap(err, sowerrors.ErrorTypeIO, sowerrors.ErrCodeStorageFailed, op+" failed")
}

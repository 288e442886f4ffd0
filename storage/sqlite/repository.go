// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"
	"github.com/poiesic/maildex/core"
	"github.com/poiesic/maildex/storage"
)

func init() {
	sqlite_vec.Auto()
}

// Repository implements storage.EmailRepository backed by SQLite.
// Embeddings are stored in sqlite-vec's float32 blob format.
type Repository struct {
	db         *sql.DB
	dimensions int
	closed     atomic.Bool
	logger     *slog.Logger
}

var _ storage.EmailRepository = (*Repository)(nil)

// NewRepository opens (or creates) a SQLite database at dbPath and migrates
// the emails and email_sections tables. dimensions is the required embedding
// length; zero disables the check.
func NewRepository(dbPath string, dimensions int) (storage.EmailRepository, error) {
	return open(dbPath, dimensions)
}

func open(dbPath string, dimensions int) (*Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating email tables: %w", err)
	}

	return &Repository{
		db:         db,
		dimensions: dimensions,
		logger:     slog.Default().With("component", "sqlite-store"),
	}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS emails (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	subject       TEXT NOT NULL,
	sender        TEXT NOT NULL,
	recipient     TEXT NOT NULL DEFAULT '[]',
	cc            TEXT NOT NULL DEFAULT '[]',
	bcc           TEXT NOT NULL DEFAULT '[]',
	body          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	section_count INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(status, id);

CREATE TABLE IF NOT EXISTS email_sections (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	email_id        INTEGER NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	section_content TEXT NOT NULL,
	embedding       BLOB NOT NULL,
	section_order   INTEGER NOT NULL,
	content_hash    INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	UNIQUE(email_id, section_order)
);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	r.closed.Store(true)
	return r.db.Close()
}

func (r *Repository) checkOpen() error {
	if r.closed.Load() {
		return storage.ErrStorageClosed
	}
	return nil
}

// AddEmail inserts a new email row; SQLite assigns the ID.
func (r *Repository) AddEmail(ctx context.Context, email *core.Email) (*core.Email, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	recipients, err := storage.MarshalAddresses(email.Recipients)
	if err != nil {
		return nil, err
	}
	cc, err := storage.MarshalAddresses(email.CC)
	if err != nil {
		return nil, err
	}
	bcc, err := storage.MarshalAddresses(email.BCC)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := email.Status
	if status == "" {
		status = core.IngestStatusPending
	}

	const q = `INSERT INTO emails (subject, sender, recipient, cc, bcc, body, status, section_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, q,
		email.Subject,
		email.Sender,
		recipients,
		cc,
		bcc,
		email.Body,
		string(status),
		email.SectionCount,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting email: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading email id: %w", err)
	}

	r.logger.Debug("stored email", "email_id", id, "section_count", email.SectionCount)

	email.Id = core.ID(id)
	email.Status = status
	email.InsertedAt = now
	email.UpdatedAt = now
	email.CC = nonNil(email.CC)
	email.BCC = nonNil(email.BCC)
	return email, nil
}

const emailColumns = `id, subject, sender, recipient, cc, bcc, body, status, section_count, created_at, updated_at`

// GetEmail retrieves a single email by ID.
func (r *Repository) GetEmail(ctx context.Context, id core.ID) (*core.Email, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = ?`, int64(id))
	email, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting email %d: %w", id, err)
	}
	return email, nil
}

// UpdateEmailStatus sets the status column and bumps updated_at.
func (r *Repository) UpdateEmailStatus(ctx context.Context, id core.ID, status core.IngestStatus) error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE emails SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now().UTC()), int64(id))
	if err != nil {
		return fmt.Errorf("updating email %d status: %w", id, err)
	}
	return requireAffected(res, id)
}

// ClaimEmail hands an incomplete email to the caller; see storage.EmailRepository.
// The update is conditional on the status and updated_at that were read, so
// concurrent claims and status writes make it fail with ErrEmailBusy.
func (r *Repository) ClaimEmail(ctx context.Context, id core.ID, staleBefore time.Time) (*core.Email, error) {
	email, err := r.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case email.Status == core.IngestStatusComplete:
		return email, nil
	case email.Status == core.IngestStatusPending && !email.UpdatedAt.Before(staleBefore):
		return nil, storage.ErrEmailBusy
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE emails SET status = ?, updated_at = ? WHERE id = ? AND status = ? AND updated_at = ?`,
		string(core.IngestStatusPending), formatTime(now), int64(id),
		string(email.Status), formatTime(email.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("claiming email %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return nil, storage.ErrEmailBusy
	}

	email.Status = core.IngestStatusPending
	email.UpdatedAt = now
	return email, nil
}

// ListEmailsByStatus pages through emails in the given statuses by ID.
func (r *Repository) ListEmailsByStatus(ctx context.Context, afterID core.ID, limit int, statuses ...core.IngestStatus) ([]*core.Email, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	if len(statuses) == 0 {
		return []*core.Email{}, nil
	}

	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(statuses)+2)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, int64(afterID), limit)

	q := `SELECT ` + emailColumns + ` FROM emails WHERE status IN (` + placeholders + `) AND id > ? ORDER BY id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing emails: %w", err)
	}
	defer func() { _ = rows.Close() }()

	emails := []*core.Email{}
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating emails: %w", err)
	}
	return emails, nil
}

// AddEmailSection inserts one section row.
func (r *Repository) AddEmailSection(ctx context.Context, section *core.EmailSection) (*core.EmailSection, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if err := core.ValidateSection(section); err != nil {
		return nil, err
	}
	if r.dimensions > 0 && len(section.Embedding) != r.dimensions {
		return nil, fmt.Errorf("%w: got %d, expected %d", storage.ErrDimensionMismatch, len(section.Embedding), r.dimensions)
	}

	blob, err := sqlite_vec.SerializeFloat32(section.Embedding)
	if err != nil {
		return nil, fmt.Errorf("serializing embedding: %w", err)
	}

	section.InsertedAt = time.Now().UTC()

	const q = `INSERT INTO email_sections (email_id, section_content, embedding, section_order, content_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, q,
		int64(section.EmailId),
		section.Content,
		blob,
		section.Order,
		int64(section.ContentHash),
		formatTime(section.InsertedAt),
	)
	if err != nil {
		return nil, mapConstraintError(err, section)
	}
	return section, nil
}

// GetEmailSections returns an email's sections ordered by section_order.
func (r *Repository) GetEmailSections(ctx context.Context, emailID core.ID) ([]*core.EmailSection, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	const q = `SELECT email_id, section_content, embedding, section_order, content_hash, created_at
FROM email_sections WHERE email_id = ? ORDER BY section_order`

	rows, err := r.db.QueryContext(ctx, q, int64(emailID))
	if err != nil {
		return nil, fmt.Errorf("listing sections of email %d: %w", emailID, err)
	}
	defer func() { _ = rows.Close() }()

	sections := []*core.EmailSection{}
	for rows.Next() {
		var (
			id, hash  int64
			blob      []byte
			createdAt string
			s         core.EmailSection
		)
		if err := rows.Scan(&id, &s.Content, &blob, &s.Order, &hash, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning section: %w", err)
		}
		s.EmailId = core.ID(id)
		s.ContentHash = core.ID(hash)
		s.InsertedAt = parseTime(createdAt)
		s.Embedding, err = deserializeFloat32(blob)
		if err != nil {
			return nil, err
		}
		sections = append(sections, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sections: %w", err)
	}
	return sections, nil
}

// CountEmailSections counts the stored sections of an email.
func (r *Repository) CountEmailSections(ctx context.Context, emailID core.ID) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}

	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM email_sections WHERE email_id = ?`, int64(emailID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting sections of email %d: %w", emailID, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmail(row scanner) (*core.Email, error) {
	var (
		id                          int64
		email                       core.Email
		recipients, cc, bcc, status string
		createdAt, updatedAt        string
	)
	if err := row.Scan(&id, &email.Subject, &email.Sender, &recipients, &cc, &bcc,
		&email.Body, &status, &email.SectionCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if email.Recipients, err = storage.UnmarshalAddresses(recipients); err != nil {
		return nil, err
	}
	if email.CC, err = storage.UnmarshalAddresses(cc); err != nil {
		return nil, err
	}
	if email.BCC, err = storage.UnmarshalAddresses(bcc); err != nil {
		return nil, err
	}

	email.Id = core.ID(id)
	email.Status = core.IngestStatus(status)
	email.InsertedAt = parseTime(createdAt)
	email.UpdatedAt = parseTime(updatedAt)
	return &email, nil
}

func requireAffected(res sql.Result, id core.ID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("email %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// mapConstraintError translates SQLite constraint failures into storage sentinels.
func mapConstraintError(err error, section *core.EmailSection) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique:
			return fmt.Errorf("section %d of email %d: %w", section.Order, section.EmailId, storage.ErrDuplicateKey)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("email %d: %w", section.EmailId, storage.ErrNotFound)
		}
	}
	return fmt.Errorf("inserting section %d of email %d: %w", section.Order, section.EmailId, err)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// formatTime serialises a time for storage as an RFC 3339 string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

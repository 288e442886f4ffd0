package storage

import (
	"context"
	"time"

	"github.com/poiesic/maildex/core"
)

// EmailRepository persists emails and their embedded sections.
// Implementations must be thread-safe and support concurrent access.
type EmailRepository interface {
	// AddEmail inserts a new email and assigns its ID.
	// Any ID already set on the email is ignored; identical payloads get distinct IDs.
	// Sets InsertedAt/UpdatedAt and defaults Status to pending.
	// Returns the email with the generated ID and timestamps populated.
	AddEmail(ctx context.Context, email *core.Email) (*core.Email, error)

	// GetEmail retrieves a single email by ID.
	// Returns ErrNotFound if the email doesn't exist.
	GetEmail(ctx context.Context, id core.ID) (*core.Email, error)

	// UpdateEmailStatus changes the ingestion status of an email and bumps UpdatedAt.
	// Returns ErrNotFound if the email doesn't exist.
	UpdateEmailStatus(ctx context.Context, id core.ID, status core.IngestStatus) error

	// ClaimEmail takes over an incomplete email for the caller. It succeeds when
	// the email is failed, or pending and not updated since staleBefore; the
	// email is then set to pending with UpdatedAt bumped, atomically with the
	// check. A complete email is returned unchanged.
	// Returns ErrNotFound if the email doesn't exist and ErrEmailBusy when it is
	// pending and fresh or changed concurrently.
	ClaimEmail(ctx context.Context, id core.ID, staleBefore time.Time) (*core.Email, error)

	// ListEmailsByStatus returns up to limit emails whose status is one of statuses
	// and whose ID is greater than afterID, ordered by ID ascending.
	ListEmailsByStatus(ctx context.Context, afterID core.ID, limit int, statuses ...core.IngestStatus) ([]*core.Email, error)

	// AddEmailSection inserts one section of an existing email.
	// Returns ErrNotFound if the owning email doesn't exist, ErrDuplicateKey if a
	// section with the same order already exists, and ErrDimensionMismatch if the
	// embedding length differs from the repository's configured dimensions.
	AddEmailSection(ctx context.Context, section *core.EmailSection) (*core.EmailSection, error)

	// GetEmailSections returns the sections of an email ordered by Order ascending.
	// Returns an empty slice when the email has no sections.
	GetEmailSections(ctx context.Context, emailID core.ID) ([]*core.EmailSection, error)

	// CountEmailSections returns the number of stored sections of an email.
	CountEmailSections(ctx context.Context, emailID core.ID) (int, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

package ingestion

import (
	"errors"
	"fmt"

	"github.com/poiesic/maildex/core"
)

var (
	// ErrEmailRepositoryRequired is returned when an email repository is not provided.
	ErrEmailRepositoryRequired = errors.New("email repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrChunkMismatch is returned when a stored email no longer chunks into the
	// sections already written for it.
	ErrChunkMismatch = errors.New("stored sections do not match body chunks")
)

// Op names the store operation a StoreError comes from.
type Op string

const (
	OpInsertEmail   Op = "insert email"
	OpInsertSection Op = "insert section"
	OpLoadEmail     Op = "load email"
	OpClaimEmail    Op = "claim email"
)

// StoreError reports a failed store operation during ingestion.
// Index is the 1-based section order for OpInsertSection and 0 otherwise.
// EmailID is 0 when the email row was never created.
type StoreError struct {
	EmailID core.ID
	Index   int
	Op      Op
	Err     error
}

func (e *StoreError) Error() string {
	switch {
	case e.Index > 0:
		return fmt.Sprintf("failed to store section %d of email %d: %v", e.Index, e.EmailID, e.Err)
	case e.EmailID != 0:
		return fmt.Sprintf("failed to %s for email %d: %v", e.Op, e.EmailID, e.Err)
	default:
		return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
	}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// EmbeddingError reports a failed embedding of section Index of an email.
type EmbeddingError struct {
	EmailID core.ID
	Index   int
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("failed to embed section %d of email %d: %v", e.Index, e.EmailID, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// FailedSection extracts the email ID and the 1-based section index from an
// ingestion error. The index is 0 when the failure did not concern a section,
// and the email ID is 0 when no email row was created.
func FailedSection(err error) (core.ID, int) {
	var embedErr *EmbeddingError
	if errors.As(err, &embedErr) {
		return embedErr.EmailID, embedErr.Index
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.EmailID, storeErr.Index
	}
	return 0, 0
}

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/maildex/ai"
	"github.com/poiesic/maildex/core"
	"github.com/poiesic/maildex/storage"
)

const (
	// DefaultChunkTimeout bounds embedding and storing a single section.
	DefaultChunkTimeout = 30 * time.Second

	// DefaultPendingTimeout is how long a pending email may go without an
	// update before Resume takes it over, when no chunk timeout bounds the
	// running ingestion.
	DefaultPendingTimeout = time.Hour

	// statusUpdateTimeout bounds the best-effort status write after a failure.
	statusUpdateTimeout = 5 * time.Second
)

// Pipeline orchestrates the ingestion of emails into sections.
type Pipeline struct {
	repository   storage.EmailRepository
	embedder     ai.Embedder
	embedPool    *ants.Pool // nil means embed sequentially
	chunkSize    int
	chunkTimeout time.Duration
	// pendingTimeout overrides the staleness bound derived from chunkTimeout.
	pendingTimeout time.Duration
	dimensions     int
	logger         *slog.Logger
}

// Result describes a finished ingestion.
type Result struct {
	EmailID core.ID
	// Sections is the total number of sections of the email.
	Sections int
	// Written is the number of sections stored by this call.
	Written int
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithConcurrency sets how many sections may be embedded at once.
// Values below 2 embed sections one after another. Default is 1.
func WithConcurrency(size int) Option {
	return func(p *Pipeline) error {
		if p.embedPool != nil {
			p.embedPool.Release()
			p.embedPool = nil
		}
		if size < 2 {
			return nil
		}

		pool, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
			p.logger.Error("embedding task panicked", "panic", v)
		}))
		if err != nil {
			return err
		}
		p.embedPool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithChunkSize sets the maximum section length in bytes.
// Values <= 0 select DefaultChunkSize.
func WithChunkSize(size int) Option {
	return func(p *Pipeline) error {
		if size <= 0 {
			size = DefaultChunkSize
		}
		p.chunkSize = size
		return nil
	}
}

// WithChunkTimeout sets the deadline for embedding and storing one section.
// Zero disables the per-section deadline.
func WithChunkTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) error {
		if timeout < 0 {
			return fmt.Errorf("chunk timeout cannot be negative: %s", timeout)
		}
		p.chunkTimeout = timeout
		return nil
	}
}

// WithPendingTimeout sets how long a pending email may go without an update
// before Resume treats its ingestion as dead and takes it over.
// Zero derives the bound from the chunk timeout and the section count.
func WithPendingTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) error {
		if timeout < 0 {
			return fmt.Errorf("pending timeout cannot be negative: %s", timeout)
		}
		p.pendingTimeout = timeout
		return nil
	}
}

// WithExpectedDimensions rejects embeddings whose length is not dims.
// Zero disables the check.
func WithExpectedDimensions(dims int) Option {
	return func(p *Pipeline) error {
		if dims < 0 {
			return fmt.Errorf("expected dimensions cannot be negative: %d", dims)
		}
		p.dimensions = dims
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(repository storage.EmailRepository, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if repository == nil {
		return nil, ErrEmailRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	p := &Pipeline{
		repository:   repository,
		embedder:     embedder,
		chunkSize:    DefaultChunkSize,
		chunkTimeout: DefaultChunkTimeout,
		logger:       slog.Default().With("component", "ingestion"),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	return p, nil
}

// Ingest validates an untyped payload and stores it as an email with
// embedded sections. See core.ValidateEmail for the accepted shape.
//
// Errors:
//   - *core.ValidationError: the payload was rejected; nothing was stored
//   - *StoreError: a store write failed
//   - *EmbeddingError: a section could not be embedded
func (p *Pipeline) Ingest(ctx context.Context, payload any) (*Result, error) {
	email, err := core.ValidateEmail(payload)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, email)
}

// IngestEmail stores an already typed email.
func (p *Pipeline) IngestEmail(ctx context.Context, email *core.Email) (*Result, error) {
	validated, err := core.ValidateTypedEmail(email)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, validated)
}

// IngestJSON decodes a JSON payload and ingests it.
func (p *Pipeline) IngestJSON(ctx context.Context, data []byte) (*Result, error) {
	email, err := core.DecodeEmail(data)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, email)
}

func (p *Pipeline) ingest(ctx context.Context, email *core.Email) (*Result, error) {
	chunks := SplitIntoChunks(email.Body, p.chunkSize)

	record := *email
	record.Id = 0
	record.Status = core.IngestStatusPending
	record.SectionCount = len(chunks)

	stored, err := p.repository.AddEmail(ctx, &record)
	if err != nil {
		p.logger.Error("failed to store email", "err", err)
		return nil, &StoreError{Op: OpInsertEmail, Err: err}
	}
	emailID := stored.Id
	p.logger.Debug("stored email", "email_id", emailID, "sections", len(chunks))

	if err := p.writeSections(ctx, emailID, chunks, 1); err != nil {
		p.markFailed(ctx, emailID, err)
		return nil, err
	}
	p.markComplete(ctx, emailID)

	p.logger.Info("ingested email", "email_id", emailID, "sections", len(chunks))
	return &Result{EmailID: emailID, Sections: len(chunks), Written: len(chunks)}, nil
}

// Resume continues an incomplete ingestion from the first section that was
// not stored. The body is re-chunked with the pipeline's chunk size and the
// stored sections must match the leading chunks; otherwise ErrChunkMismatch is
// returned and nothing is written. Complete emails are returned unchanged.
//
// The email is claimed before any write. A pending email whose ingestion may
// still be running is refused with storage.ErrEmailBusy.
func (p *Pipeline) Resume(ctx context.Context, emailID core.ID) (*Result, error) {
	email, err := p.repository.GetEmail(ctx, emailID)
	if err != nil {
		return nil, &StoreError{EmailID: emailID, Op: OpLoadEmail, Err: err}
	}
	if email.Status == core.IngestStatusComplete {
		return &Result{EmailID: emailID, Sections: email.SectionCount}, nil
	}

	chunks := SplitIntoChunks(email.Body, p.chunkSize)
	if len(chunks) != email.SectionCount {
		return nil, fmt.Errorf("email %d has %d sections, body now chunks into %d: %w",
			emailID, email.SectionCount, len(chunks), ErrChunkMismatch)
	}

	email, err = p.repository.ClaimEmail(ctx, emailID, time.Now().Add(-p.staleAfter(len(chunks))))
	if err != nil {
		return nil, &StoreError{EmailID: emailID, Op: OpClaimEmail, Err: err}
	}
	if email.Status == core.IngestStatusComplete {
		return &Result{EmailID: emailID, Sections: email.SectionCount}, nil
	}

	sections, err := p.repository.GetEmailSections(ctx, emailID)
	if err != nil {
		p.markFailed(ctx, emailID, err)
		return nil, &StoreError{EmailID: emailID, Op: OpLoadEmail, Err: err}
	}
	if err := verifySections(emailID, sections, chunks); err != nil {
		p.markFailed(ctx, emailID, err)
		return nil, err
	}

	start := len(sections) + 1
	p.logger.Info("resuming email", "email_id", emailID, "from_section", start, "sections", len(chunks))

	if err := p.writeSections(ctx, emailID, chunks, start); err != nil {
		p.markFailed(ctx, emailID, err)
		return nil, err
	}
	p.markComplete(ctx, emailID)

	return &Result{EmailID: emailID, Sections: len(chunks), Written: len(chunks) - len(sections)}, nil
}

// verifySections checks that the stored sections are the leading chunks.
func verifySections(emailID core.ID, sections []*core.EmailSection, chunks []string) error {
	if len(sections) > len(chunks) {
		return fmt.Errorf("email %d has %d stored sections for %d chunks: %w",
			emailID, len(sections), len(chunks), ErrChunkMismatch)
	}
	for i, section := range sections {
		if section.Order != i+1 || section.ContentHash != core.IDFromContent(chunks[i]) {
			return fmt.Errorf("email %d section %d: %w", emailID, i+1, ErrChunkMismatch)
		}
	}
	return nil
}

// staleAfter bounds how long a live ingestion of an email with the given
// number of sections can go without updating it. Each section is embedded
// and stored under its own chunk timeout.
func (p *Pipeline) staleAfter(sections int) time.Duration {
	switch {
	case p.pendingTimeout > 0:
		return p.pendingTimeout
	case p.chunkTimeout > 0:
		return 2 * time.Duration(sections+1) * p.chunkTimeout
	default:
		return DefaultPendingTimeout
	}
}

// markComplete records success. Every section is stored by then, so a failed
// write only leaves the email pending for a later Resume to complete.
func (p *Pipeline) markComplete(ctx context.Context, emailID core.ID) {
	if err := p.repository.UpdateEmailStatus(ctx, emailID, core.IngestStatusComplete); err != nil {
		p.logger.Warn("failed to mark email complete", "email_id", emailID, "err", err)
	}
}

// markFailed records the failure on the email. It runs even when ctx is done,
// and its own error is only logged.
func (p *Pipeline) markFailed(ctx context.Context, emailID core.ID, cause error) {
	_, index := FailedSection(cause)
	p.logger.Error("ingestion aborted", "email_id", emailID, "section", index, "err", cause)

	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
	defer cancel()
	if err := p.repository.UpdateEmailStatus(statusCtx, emailID, core.IngestStatusFailed); err != nil {
		p.logger.Warn("failed to mark email failed", "email_id", emailID, "err", err)
	}
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.embedPool != nil {
		p.embedPool.Release()
	}
}

// sectionContext derives the per-section deadline.
func (p *Pipeline) sectionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.chunkTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.chunkTimeout)
}

// checkVector applies the embedding shape rules.
func (p *Pipeline) checkVector(vec []float32) error {
	if len(vec) == 0 {
		return core.ErrEmptyEmbedding
	}
	if p.dimensions > 0 && len(vec) != p.dimensions {
		return fmt.Errorf("%w: got %d, expected %d", storage.ErrDimensionMismatch, len(vec), p.dimensions)
	}
	return nil
}

// IsValidation reports whether err means the payload was rejected before any write.
func IsValidation(err error) bool {
	return errors.Is(err, core.ErrInvalidEmail)
}

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


package resume

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/maildex/core"
	"github.com/poiesic/maildex/ingestion"
	"github.com/poiesic/maildex/storage"
)

// Config holds configuration for a resume run.
type Config struct {
	// BatchSize is the number of emails fetched per page
	BatchSize int

	// ReportInterval is how often to report progress (number of emails)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per email
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 10,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Pipeline continues a single ingestion. *ingestion.Pipeline satisfies it.
type Pipeline interface {
	Resume(ctx context.Context, emailID core.ID) (*ingestion.Result, error)
}

// Summary reports the outcome of a run.
type Summary struct {
	// Total is the number of incomplete emails found.
	Total int
	// Resumed is the number of emails that are now complete.
	Resumed int
	// Failed is the number of emails that stayed incomplete.
	Failed int
	// Busy is the number of emails skipped because a live ingestion owns them.
	Busy int
	// Sections is the number of sections written during the run.
	Sections int
}

// Resumer drives every incomplete email back through the pipeline.
type Resumer struct {
	repo     storage.EmailRepository
	pipeline Pipeline
	config   *Config
	progress io.Writer
	iterator *EmailIterator
	logger   *slog.Logger
}

// NewResumer creates a new resumer.
// progress: where to write progress output (typically os.Stderr)
func NewResumer(repo storage.EmailRepository, pipeline Pipeline, config *Config, progress io.Writer) (*Resumer, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	if pipeline == nil {
		return nil, ErrPipelineRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		return nil, ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Resumer{
		repo:     repo,
		pipeline: pipeline,
		config:   config,
		progress: progress,
		iterator: NewEmailIterator(repo, config.BatchSize),
		logger:   slog.Default().With("component", "resume"),
	}, nil
}

// Run resumes every failed email and every pending one whose ingestion has
// gone stale. Pending emails still owned by a live ingestion are skipped and
// counted in Summary.Busy.
// An email that stays incomplete does not stop the run; the errors of all
// such emails are joined into the returned error. Context cancellation stops
// the run and is returned as is.
func (r *Resumer) Run(ctx context.Context) (*Summary, error) {
	total, err := r.iterator.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query emails: %w", err)
	}

	summary := &Summary{Total: total}
	if total == 0 {
		fmt.Fprintf(r.progress, "No incomplete emails found\n")
		return summary, nil
	}

	fmt.Fprintf(r.progress, "Resuming %d incomplete emails (batch size: %d)\n",
		total, r.iterator.batchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	var failures []error
	err = r.iterator.ForEach(ctx, func(batch []*core.Email) error {
		for _, email := range batch {
			written, err := r.resumeOne(ctx, email.Id)
			if errors.Is(err, storage.ErrEmailBusy) {
				r.logger.Debug("email is still being ingested", "email_id", email.Id)
				summary.Busy++
				tracker.Done(true)
				continue
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.logger.Warn("email still incomplete", "email_id", email.Id, "err", err)
				failures = append(failures, fmt.Errorf("email %d: %w", email.Id, err))
				summary.Failed++
				tracker.Done(false)
				continue
			}
			summary.Resumed++
			summary.Sections += written
			tracker.Done(true)
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	tracker.Finish()

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Resume complete. %d resumed, %d failed, %d sections written in %v\n",
		summary.Resumed, summary.Failed, summary.Sections, elapsed.Round(time.Millisecond))
	if summary.Busy > 0 {
		fmt.Fprintf(r.progress, "Skipped %d emails still being ingested\n", summary.Busy)
	}

	return summary, errors.Join(failures...)
}

// resumeOne retries transient failures of a single email.
func (r *Resumer) resumeOne(ctx context.Context, emailID core.ID) (int, error) {
	var written int
	err := RetryWithBackoff(ctx, func() error {
		result, err := r.pipeline.Resume(ctx, emailID)
		if err != nil {
			if isPermanent(err) {
				return Permanent(err)
			}
			return err
		}
		written = result.Written
		return nil
	}, r.config.MaxRetries, r.config.RetryDelay)
	return written, err
}

// isPermanent reports whether another attempt would fail the same way.
func isPermanent(err error) bool {
	return errors.Is(err, ingestion.ErrChunkMismatch) ||
		errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrEmailBusy) ||
		errors.Is(err, storage.ErrDimensionMismatch) ||
		errors.Is(err, storage.ErrStorageClosed)
}

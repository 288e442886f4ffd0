package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/poiesic/maildex/core"
)

// errTaskAborted marks an embedding task that ended without a result.
var errTaskAborted = errors.New("embedding task aborted")

// embedResult holds the outcome of embedding one chunk.
type embedResult struct {
	vector []float32
	err    error
}

// writeSections embeds chunks[start-1:] and stores them as sections start..N.
// Sections are stored strictly in order; the first failure stops the loop.
func (p *Pipeline) writeSections(ctx context.Context, emailID core.ID, chunks []string, start int) error {
	if start > len(chunks) {
		return nil
	}
	if p.embedPool == nil {
		return p.writeSequential(ctx, emailID, chunks, start)
	}
	return p.writeConcurrent(ctx, emailID, chunks, start)
}

func (p *Pipeline) writeSequential(ctx context.Context, emailID core.ID, chunks []string, start int) error {
	for order := start; order <= len(chunks); order++ {
		if err := p.writeOne(ctx, emailID, order, chunks[order-1]); err != nil {
			return err
		}
	}
	return nil
}

// writeOne embeds and stores a single section under one deadline.
func (p *Pipeline) writeOne(ctx context.Context, emailID core.ID, order int, chunk string) error {
	sectionCtx, cancel := p.sectionContext(ctx)
	defer cancel()

	vec, err := p.embed(sectionCtx, chunk)
	if err != nil {
		return &EmbeddingError{EmailID: emailID, Index: order, Err: err}
	}
	return p.store(sectionCtx, emailID, order, chunk, vec)
}

// writeConcurrent fans embedding out over the worker pool and then stores the
// results in order. Every chunk is embedded before any section is written, so
// the lowest failing index is the one reported.
func (p *Pipeline) writeConcurrent(ctx context.Context, emailID core.ID, chunks []string, start int) error {
	pending := chunks[start-1:]
	results := make([]embedResult, len(pending))

	began := time.Now()
	var wg sync.WaitGroup
	for i, chunk := range pending {
		wg.Add(1)
		err := p.embedPool.Submit(func() {
			defer wg.Done()
			sectionCtx, cancel := p.sectionContext(ctx)
			defer cancel()
			vec, err := p.embed(sectionCtx, chunk)
			results[i] = embedResult{vector: vec, err: err}
		})
		if err != nil {
			wg.Done()
			results[i] = embedResult{err: fmt.Errorf("submitting embedding task: %w", err)}
		}
	}
	wg.Wait()
	p.logger.Debug("embedded sections", "email_id", emailID, "count", len(pending), "elapsed", time.Since(began))

	for i, res := range results {
		order := start + i
		if res.err == nil && res.vector == nil {
			res.err = errTaskAborted
		}
		if res.err != nil {
			return &EmbeddingError{EmailID: emailID, Index: order, Err: res.err}
		}

		sectionCtx, cancel := p.sectionContext(ctx)
		err := p.store(sectionCtx, emailID, order, pending[i], res.vector)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// embed calls the embedder and checks the vector shape.
func (p *Pipeline) embed(ctx context.Context, chunk string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec, err := p.embedder.EmbedText(ctx, chunk)
	if err != nil {
		return nil, err
	}
	if err := p.checkVector(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (p *Pipeline) store(ctx context.Context, emailID core.ID, order int, chunk string, vec []float32) error {
	section := core.NewEmailSection(emailID, order, chunk, vec)
	if _, err := p.repository.AddEmailSection(ctx, section); err != nil {
		return &StoreError{EmailID: emailID, Index: order, Op: OpInsertSection, Err: err}
	}
	p.logger.Debug("stored section", "email_id", emailID, "section", order, "length", len(chunk))
	return nil
}

package resume

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/maildex/ai/mock"
	"github.com/poiesic/maildex/core"
	"github.com/poiesic/maildex/ingestion"
	"github.com/poiesic/maildex/storage"
	"github.com/poiesic/maildex/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePipeline returns scripted results per email.
type fakePipeline struct {
	resume func(ctx context.Context, emailID core.ID) (*ingestion.Result, error)
	calls  atomic.Int32
}

func (f *fakePipeline) Resume(ctx context.Context, emailID core.ID) (*ingestion.Result, error) {
	f.calls.Add(1)
	return f.resume(ctx, emailID)
}

func fastConfig() *Config {
	return &Config{BatchSize: 2, ReportInterval: 1, MaxRetries: 3, RetryDelay: time.Millisecond}
}

func TestNewResumer(t *testing.T) {
	repo := setupTestRepository(t)
	pipeline := &fakePipeline{}

	_, err := NewResumer(nil, pipeline, nil, nil)
	assert.ErrorIs(t, err, ErrRepositoryRequired)

	_, err = NewResumer(repo, nil, nil, nil)
	assert.ErrorIs(t, err, ErrPipelineRequired)

	_, err = NewResumer(repo, pipeline, &Config{MaxRetries: 0}, nil)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	r, err := NewResumer(repo, pipeline, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), r.config)
}

func TestResumer_NothingToDo(t *testing.T) {
	repo := setupTestRepository(t)
	addEmails(t, repo, core.IngestStatusComplete)

	var out bytes.Buffer
	r, err := NewResumer(repo, &fakePipeline{}, fastConfig(), &out)
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Contains(t, out.String(), "No incomplete emails found")
}

func TestResumer_RetriesTransientFailures(t *testing.T) {
	repo := setupTestRepository(t)
	ids := addEmails(t, repo, core.IngestStatusFailed, core.IngestStatusPending, core.IngestStatusFailed)

	attempts := map[core.ID]int{}
	pipeline := &fakePipeline{resume: func(_ context.Context, id core.ID) (*ingestion.Result, error) {
		attempts[id]++
		if id == ids[1] && attempts[id] < 2 {
			return nil, errors.New("embedding service unavailable")
		}
		return &ingestion.Result{EmailID: id, Sections: 2, Written: 1}, nil
	}}

	var out bytes.Buffer
	r, err := NewResumer(repo, pipeline, fastConfig(), &out)
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Summary{Total: 3, Resumed: 3, Sections: 3}, summary)
	assert.Equal(t, 2, attempts[ids[1]])
	assert.Contains(t, out.String(), "Resuming 3 incomplete emails")
	assert.Contains(t, out.String(), "3 resumed, 0 failed")
}

func TestResumer_PermanentFailureIsNotRetried(t *testing.T) {
	repo := setupTestRepository(t)
	ids := addEmails(t, repo, core.IngestStatusFailed, core.IngestStatusFailed)

	pipeline := &fakePipeline{resume: func(_ context.Context, id core.ID) (*ingestion.Result, error) {
		if id == ids[0] {
			return nil, ingestion.ErrChunkMismatch
		}
		return &ingestion.Result{EmailID: id, Sections: 1, Written: 1}, nil
	}}

	r, err := NewResumer(repo, pipeline, fastConfig(), nil)
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ingestion.ErrChunkMismatch)
	assert.Equal(t, int32(2), pipeline.calls.Load(), "mismatch is tried once, the other email once")
	assert.Equal(t, 1, summary.Resumed)
	assert.Equal(t, 1, summary.Failed)
}

func TestResumer_SkipsLiveIngestions(t *testing.T) {
	repo := setupTestRepository(t)
	ids := addEmails(t, repo, core.IngestStatusPending, core.IngestStatusFailed)

	pipeline := &fakePipeline{resume: func(_ context.Context, id core.ID) (*ingestion.Result, error) {
		if id == ids[0] {
			return nil, &ingestion.StoreError{EmailID: id, Op: ingestion.OpClaimEmail, Err: storage.ErrEmailBusy}
		}
		return &ingestion.Result{EmailID: id, Sections: 1, Written: 1}, nil
	}}

	var out bytes.Buffer
	r, err := NewResumer(repo, pipeline, fastConfig(), &out)
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err, "a busy email is not a failure")
	assert.Equal(t, &Summary{Total: 2, Resumed: 1, Busy: 1, Sections: 1}, summary)
	assert.Equal(t, int32(2), pipeline.calls.Load(), "busy emails are not retried")
	assert.Contains(t, out.String(), "Skipped 1 emails still being ingested")
}

func TestResumer_ExhaustedRetriesAreJoined(t *testing.T) {
	repo := setupTestRepository(t)
	addEmails(t, repo, core.IngestStatusFailed, core.IngestStatusFailed)

	cause := errors.New("rate limited")
	pipeline := &fakePipeline{resume: func(context.Context, core.ID) (*ingestion.Result, error) {
		return nil, cause
	}}

	r, err := NewResumer(repo, pipeline, fastConfig(), nil)
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, int32(6), pipeline.calls.Load())
}

func TestResumer_ContextCanceled(t *testing.T) {
	repo := setupTestRepository(t)
	addEmails(t, repo, core.IngestStatusFailed, core.IngestStatusFailed, core.IngestStatusFailed)

	ctx, cancel := context.WithCancel(context.Background())
	pipeline := &fakePipeline{resume: func(ctx context.Context, id core.ID) (*ingestion.Result, error) {
		cancel()
		return nil, ctx.Err()
	}}

	r, err := NewResumer(repo, pipeline, fastConfig(), nil)
	require.NoError(t, err)

	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), pipeline.calls.Load())
}

func TestResumer_WithIngestionPipeline(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	embedder := mock.NewMockEmbedder().WithDimensions(storagetest.Dimensions)
	var calls atomic.Int32
	embedder.WithEmbedTextFunc(func(_ context.Context, text string) ([]float32, error) {
		// Every second call fails during the first pass.
		if calls.Add(1)%2 == 0 {
			return nil, errors.New("transient")
		}
		return embedder.Vector(text), nil
	})

	pipeline, err := ingestion.NewPipeline(repo, embedder, ingestion.WithChunkSize(10))
	require.NoError(t, err)
	defer pipeline.Release()

	payload := map[string]any{
		"subject":   "s",
		"sender":    "a@example.com",
		"recipient": []any{"b@example.com"},
		"cc":        []any{},
		"bcc":       []any{},
		"body":      "alpha one bravo two charlie",
	}
	var failed []core.ID
	for i := 0; i < 3; i++ {
		_, err := pipeline.Ingest(ctx, payload)
		require.Error(t, err)
		id, _ := ingestion.FailedSection(err)
		failed = append(failed, id)
	}

	embedder.Reset()
	r, err := NewResumer(repo, pipeline, fastConfig(), nil)
	require.NoError(t, err)

	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Resumed)

	for _, id := range failed {
		email, err := repo.GetEmail(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.IngestStatusComplete, email.Status)

		count, err := repo.CountEmailSections(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	}

	remaining, err := repo.ListEmailsByStatus(ctx, 0, 10, core.IngestStatusFailed, core.IngestStatusPending)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

var _ Pipeline = (*ingestion.Pipeline)(nil)

package maildex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/maildex/ai/mock"
	"github.com/poiesic/maildex/core"
	"github.com/poiesic/maildex/ingestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 8

func mockProvider() *mock.MockProvider {
	return mock.NewMockProviderWithEmbedder(mock.NewMockEmbedder().WithDimensions(testDims)).(*mock.MockProvider)
}

func payload(body string) map[string]any {
	return map[string]any{
		"subject":   "Hello",
		"sender":    "alice@example.com",
		"recipient": []any{"bob@example.com"},
		"body":      body,
	}
}

func TestNewDatabase(t *testing.T) {
	stores := map[string]func(t *testing.T) string{
		"sqlite": func(t *testing.T) string {
			return SchemeSQLite + filepath.Join(t.TempDir(), "nested", "maildex.db")
		},
		"badger": func(t *testing.T) string {
			return SchemeBadger + filepath.Join(t.TempDir(), "badger")
		},
		"bare path": func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "bare")
		},
		"memory": func(t *testing.T) string {
			return SchemeMemory
		},
	}

	for name, storeURL := range stores {
		t.Run(name, func(t *testing.T) {
			db, err := NewDatabase(storeURL(t), WithAIProvider(mockProvider()))
			require.NoError(t, err)
			defer db.Close()

			assert.NotNil(t, db.EmailRepository())
			assert.Equal(t, testDims, db.Dimensions())

			pipeline, err := db.NewIngestionPipeline()
			require.NoError(t, err)
			defer pipeline.Release()

			result, err := pipeline.Ingest(context.Background(), payload("hello world"))
			require.NoError(t, err)
			assert.Equal(t, 1, result.Sections)

			email, err := db.EmailRepository().GetEmail(context.Background(), result.EmailID)
			require.NoError(t, err)
			assert.Equal(t, core.IngestStatusComplete, email.Status)
		})
	}
}

func TestNewDatabase_Errors(t *testing.T) {
	t.Run("unknown scheme", func(t *testing.T) {
		db, err := NewDatabase("postgres://localhost/maildex", WithAIProvider(mockProvider()))
		assert.ErrorIs(t, err, ErrUnsupportedStore)
		assert.Nil(t, db)
	})

	t.Run("empty url", func(t *testing.T) {
		_, err := NewDatabase("", WithAIProvider(mockProvider()))
		assert.ErrorIs(t, err, ErrUnsupportedStore)
	})

	t.Run("sqlite without path", func(t *testing.T) {
		_, err := NewDatabase(SchemeSQLite, WithAIProvider(mockProvider()))
		assert.ErrorIs(t, err, ErrUnsupportedStore)
	})

	t.Run("sqlite with store key", func(t *testing.T) {
		storeURL := SchemeSQLite + filepath.Join(t.TempDir(), "maildex.db")
		_, err := NewDatabase(storeURL, WithAIProvider(mockProvider()), WithStoreKey([]byte("0123456789abcdef")))
		assert.ErrorIs(t, err, ErrUnsupportedStore)
	})

	t.Run("badger path is a file", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0644))

		db, err := NewDatabase(SchemeBadger+tmpFile, WithAIProvider(mockProvider()))
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("invalid store key", func(t *testing.T) {
		_, err := NewDatabase(SchemeMemory, WithAIProvider(mockProvider()), WithStoreKey([]byte("short")))
		assert.Error(t, err)
	})
}

func TestNewDatabase_EncryptedBadger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "encrypted")
	key := []byte("0123456789abcdef0123456789abcdef")
	ctx := context.Background()

	db, err := NewDatabase(SchemeBadger+dir, WithAIProvider(mockProvider()), WithStoreKey(key))
	require.NoError(t, err)
	pipeline, err := db.NewIngestionPipeline()
	require.NoError(t, err)
	result, err := pipeline.Ingest(ctx, payload("secret body"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := NewDatabase(SchemeBadger+dir, WithAIProvider(mockProvider()), WithStoreKey(key))
	require.NoError(t, err)
	defer reopened.Close()

	email, err := reopened.EmailRepository().GetEmail(ctx, result.EmailID)
	require.NoError(t, err)
	assert.Equal(t, "secret body", email.Body)
}

func TestDatabase_NewResumer(t *testing.T) {
	provider := mockProvider()
	embedder := provider.GetMockEmbedder()
	db, err := NewDatabase(SchemeMemory, WithAIProvider(provider))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	embedder.WithEmbedTextFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("service down")
	})

	pipeline, err := db.NewIngestionPipeline()
	require.NoError(t, err)
	defer pipeline.Release()

	_, err = pipeline.Ingest(ctx, payload("hello world"))
	emailID, index := ingestion.FailedSection(err)
	require.NotZero(t, emailID)
	assert.Equal(t, 1, index)

	embedder.Reset()
	resumer, err := db.NewResumer(pipeline, nil, nil)
	require.NoError(t, err)

	summary, err := resumer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Resumed)

	_, err = db.NewResumer(nil, nil, nil)
	assert.Error(t, err)
}

func TestDatabase_DimensionCheck(t *testing.T) {
	// The provider reports 8 dimensions but the embedder returns 3.
	embedder := mock.NewMockEmbedder().WithDimensions(testDims)
	db, err := NewDatabase(SchemeMemory, WithAIProvider(mock.NewMockProviderWithEmbedder(embedder)))
	require.NoError(t, err)
	defer db.Close()

	embedder.WithEmbedTextFunc(func(context.Context, string) ([]float32, error) {
		return []float32{1, 2, 3}, nil
	})

	pipeline, err := db.NewIngestionPipeline()
	require.NoError(t, err)

	_, err = pipeline.Ingest(context.Background(), payload("hello world"))
	var embedErr *ingestion.EmbeddingError
	require.ErrorAs(t, err, &embedErr)
}

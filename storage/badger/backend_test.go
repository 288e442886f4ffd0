package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/maildex/core"
	"github.com/poiesic/maildex/storage"
	"github.com/poiesic/maildex/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", WithInMemory())
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(tmpDir)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	info, err := os.Stat(tmpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0644))

	_, err := OpenBackend(tmpFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestOpenBackend_EncryptionKey(t *testing.T) {
	t.Run("invalid length", func(t *testing.T) {
		_, err := OpenBackend("", WithInMemory(), WithEncryptionKey([]byte("short")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "16, 24 or 32")
	})

	t.Run("reopen with key", func(t *testing.T) {
		dir := t.TempDir()
		key := []byte("0123456789abcdef0123456789abcdef")

		repo, err := NewRepository(dir, storagetest.Dimensions, WithEncryptionKey(key))
		require.NoError(t, err)
		added, err := repo.AddEmail(context.Background(), storagetest.SampleEmail())
		require.NoError(t, err)
		require.NoError(t, repo.Close())

		repo, err = NewRepository(dir, storagetest.Dimensions, WithEncryptionKey(key))
		require.NoError(t, err)
		defer repo.Close()

		got, err := repo.GetEmail(context.Background(), added.Id)
		require.NoError(t, err)
		assert.Equal(t, "Quarterly numbers", got.Subject)
	})
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", WithInMemory())
	require.NoError(t, err)

	assert.False(t, backend.IsClosed())
	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.View(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestBackend_CanceledContext(t *testing.T) {
	backend, err := OpenBackend("", WithInMemory())
	require.NoError(t, err)
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = backend.Update(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmailRepository_Suite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.EmailRepository {
		repo, err := NewMemoryRepository(storagetest.Dimensions)
		require.NoError(t, err)
		return repo
	})
}

func TestEmailRepository_SharedBackend(t *testing.T) {
	backend, err := OpenBackend("", WithInMemory())
	require.NoError(t, err)
	defer backend.Close()

	repo, err := NewEmailRepository(backend, 0)
	require.NoError(t, err)

	email, err := repo.AddEmail(context.Background(), storagetest.SampleEmail())
	require.NoError(t, err)

	// Zero dimensions disables the length check.
	_, err = repo.AddEmailSection(context.Background(), core.NewEmailSection(email.Id, 1, "a", []float32{1}))
	require.NoError(t, err)

	require.NoError(t, repo.Close())
	assert.False(t, backend.IsClosed(), "repository does not own a shared backend")
}

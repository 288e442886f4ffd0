package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/poiesic/maildex"
	"github.com/poiesic/maildex/ai"
	"github.com/poiesic/maildex/ai/mock"
	"github.com/poiesic/maildex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 8

// useMockEmbedder routes every command to embedder for the duration of the test.
func useMockEmbedder(t *testing.T, embedder *mock.MockEmbedder) {
	original := newProvider
	newProvider = func(*ai.Config) (ai.AIProvider, error) {
		return mock.NewMockProviderWithEmbedder(embedder), nil
	}
	t.Cleanup(func() { newProvider = original })
}

type runResult struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, stdin string, args ...string) runResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Reader = strings.NewReader(stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr

	err := app.Run(append([]string{"maildex", "--log-level", "error"}, args...))
	return runResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func sqliteStore(t *testing.T) string {
	return maildex.SchemeSQLite + filepath.Join(t.TempDir(), "maildex.db")
}

func openStore(t *testing.T, storeURL string) *maildex.Database {
	db, err := maildex.NewDatabase(storeURL,
		maildex.WithAIProvider(mock.NewMockProviderWithEmbedder(mock.NewMockEmbedder().WithDimensions(testDims))))
	require.NoError(t, err)
	return db
}

func TestSetupLogger(t *testing.T) {
	useMockEmbedder(t, mock.NewMockEmbedder().WithDimensions(testDims))

	for _, level := range []string{"debug", "info", "warn", "error", "WARN"} {
		res := run(t, "", "--log-level", level, "ingest", "--store", "memory://", "--file", "-")
		assert.NoError(t, res.err, level)
	}

	res := run(t, "", "--log-level", "verbose", "ingest", "--file", "-")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "invalid log level")
}

func TestCommandFlags(t *testing.T) {
	app := newApp()

	names := map[string]bool{}
	for _, cmd := range app.Commands {
		names[cmd.Name] = true
	}
	assert.Equal(t, map[string]bool{"serve": true, "ingest": true, "import-mbox": true, "resume": true}, names)

	t.Run("file is required", func(t *testing.T) {
		res := run(t, "", "ingest")
		require.Error(t, res.err)
		assert.Contains(t, res.err.Error(), "file")
	})

	t.Run("resume rejects non-positive batch size", func(t *testing.T) {
		useMockEmbedder(t, mock.NewMockEmbedder().WithDimensions(testDims))
		res := run(t, "", "resume", "--store", "memory://", "--batch-size", "0")
		require.Error(t, res.err)
		assert.Contains(t, res.err.Error(), "batch-size")
	})

	t.Run("store url from environment", func(t *testing.T) {
		useMockEmbedder(t, mock.NewMockEmbedder().WithDimensions(testDims))
		t.Setenv("MAILDEX_STORE_URL", "postgres://nowhere")
		res := run(t, "", "ingest", "--file", "-")
		require.Error(t, res.err)
		assert.ErrorIs(t, res.err, maildex.ErrUnsupportedStore)
	})

	t.Run("invalid ai config", func(t *testing.T) {
		res := run(t, "", "ingest", "--store", "memory://", "--file", "-", "--embedding-dimensions", "0")
		require.Error(t, res.err)
		assert.Contains(t, res.err.Error(), "invalid AI configuration")
	})
}

func TestIngestCommand(t *testing.T) {
	useMockEmbedder(t, mock.NewMockEmbedder().WithDimensions(testDims))
	storeURL := sqliteStore(t)

	input := strings.Join([]string{
		`{"subject":"one","sender":"a@x.io","recipient":["b@x.io"],"cc":[],"bcc":[],"body":"hello world"}`,
		``,
		`{"subject":"two","sender":"a@x.io","recipient":["b@x.io"],"body":"second body"}`,
	}, "\n")

	res := run(t, input, "ingest", "--store", storeURL, "--file", "-")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "2 stored, 0 invalid, 0 failed")

	ids := strings.Fields(res.stdout)
	require.Len(t, ids, 2)

	db := openStore(t, storeURL)
	defer db.Close()
	for _, raw := range ids {
		id, err := strconv.ParseUint(raw, 10, 64)
		require.NoError(t, err)
		email, err := db.EmailRepository().GetEmail(context.Background(), core.ID(id))
		require.NoError(t, err)
		assert.Equal(t, core.IngestStatusComplete, email.Status)
	}
}

func TestIngestCommand_FromFileWithInvalidLine(t *testing.T) {
	useMockEmbedder(t, mock.NewMockEmbedder().WithDimensions(testDims))

	path := filepath.Join(t.TempDir(), "emails.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"subject":"ok","sender":"a@x.io","recipient":["b@x.io"],"body":"fine"}`+"\n"+
			`{"subject":"bad","sender":"a@x.io","recipient":[],"body":"no recipients"}`+"\n"), 0o644))

	res := run(t, "", "ingest", "--store", "memory://", "--file", path)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "1 of 2 emails were not stored")
	assert.Contains(t, res.stderr, "1 stored, 1 invalid, 0 failed")
}

func TestImportMboxCommand(t *testing.T) {
	useMockEmbedder(t, mock.NewMockEmbedder().WithDimensions(testDims))
	storeURL := sqliteStore(t)

	mbox := `From alice@example.com Mon Jan  1 00:00:00 2024
From: Alice <alice@example.com>
To: bob@example.com
Subject: First

first body

From carol@example.com Tue Jan  2 00:00:00 2024
From: carol@example.com
Subject: No recipients

second body
`
	path := filepath.Join(t.TempDir(), "inbox.mbox")
	require.NoError(t, os.WriteFile(path, []byte(mbox), 0o644))

	res := run(t, "", "import-mbox", "--store", storeURL, "--file", path)
	require.Error(t, res.err, "the message without recipients is rejected")
	assert.Contains(t, res.stderr, "2 messages, 0 unparseable, 1 stored, 1 invalid, 0 failed")

	db := openStore(t, storeURL)
	defer db.Close()
	emails, err := db.EmailRepository().ListEmailsByStatus(context.Background(), 0, 10, core.IngestStatusComplete)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "First", emails[0].Subject)
	assert.Equal(t, []string{"bob@example.com"}, emails[0].Recipients)
}

func TestResumeCommand(t *testing.T) {
	embedder := mock.NewMockEmbedder().WithDimensions(testDims)
	useMockEmbedder(t, embedder)
	storeURL := sqliteStore(t)

	var calls atomic.Int32
	embedder.WithEmbedTextFunc(func(_ context.Context, text string) ([]float32, error) {
		if calls.Add(1) == 2 {
			return nil, errors.New("embedding service unavailable")
		}
		return embedder.Vector(text), nil
	})

	input := `{"subject":"s","sender":"a@x.io","recipient":["b@x.io"],"body":"alpha one bravo two charlie"}`
	res := run(t, input, "ingest", "--store", storeURL, "--file", "-", "--chunk-size", "10")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, "0 stored, 0 invalid, 1 failed")

	embedder.Reset()
	res = run(t, "", "resume", "--store", storeURL, "--chunk-size", "10", "--retry-delay", "1ms")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "1 resumed, 0 failed, 2 sections written")

	db := openStore(t, storeURL)
	defer db.Close()
	emails, err := db.EmailRepository().ListEmailsByStatus(context.Background(), 0, 10, core.IngestStatusComplete)
	require.NoError(t, err)
	require.Len(t, emails, 1)

	count, err := db.EmailRepository().CountEmailSections(context.Background(), emails[0].Id)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestLinesFrom(t *testing.T) {
	lines, err := linesFrom("-", strings.NewReader("a\nb\n\nc"))
	require.NoError(t, err)

	var got []string
	for line, err := range lines {
		require.NoError(t, err)
		got = append(got, line)
	}
	assert.Equal(t, []string{"a", "b", "", "c"}, got)

	_, err = linesFrom(filepath.Join(t.TempDir(), "missing"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

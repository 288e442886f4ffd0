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


package maildex

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/poiesic/maildex/ai"
	"github.com/poiesic/maildex/ai/openai"
	"github.com/poiesic/maildex/ingestion"
	"github.com/poiesic/maildex/resume"
	"github.com/poiesic/maildex/storage"
	"github.com/poiesic/maildex/storage/badger"
	"github.com/poiesic/maildex/storage/sqlite"
)

// Store URL schemes understood by NewDatabase.
const (
	SchemeSQLite = "sqlite://"
	SchemeBadger = "badger://"
	SchemeMemory = "memory://"
)

// ErrUnsupportedStore is returned for store URLs with an unknown scheme.
var ErrUnsupportedStore = errors.New("unsupported store URL")

// Database bundles the email store and the AI provider used to embed sections.
type Database struct {
	repo     storage.EmailRepository
	provider ai.AIProvider
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig *ai.Config
	provider ai.AIProvider
	storeKey []byte
	logger   *slog.Logger
}

// WithAIConfig sets the configuration of the OpenAI-compatible provider.
func WithAIConfig(config *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = config
	}
}

// WithAIProvider uses provider instead of building one from the AI config.
// The Database takes ownership and closes it.
func WithAIProvider(provider ai.AIProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithStoreKey sets the badger encryption key (16, 24 or 32 bytes).
func WithStoreKey(key []byte) DatabaseOption {
	return func(o *databaseOptions) {
		o.storeKey = key
	}
}

// WithLogger sets the logger handed to the store.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// NewDatabase opens the store named by storeURL:
//
//	sqlite:///path/to/maildex.db   SQLite file with a vector column
//	badger:///path/to/dir          BadgerDB directory
//	memory://                      in-memory BadgerDB
//
// A URL without a scheme is treated as a BadgerDB directory.
func NewDatabase(storeURL string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	provider := options.provider
	if provider == nil {
		var err error
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			return nil, err
		}
	}

	repo, err := openStore(storeURL, provider.Dimensions(), options)
	if err != nil {
		provider.Close()
		return nil, err
	}

	return &Database{
		repo:     repo,
		provider: provider,
		logger:   options.logger,
	}, nil
}

func openStore(storeURL string, dimensions int, options *databaseOptions) (storage.EmailRepository, error) {
	badgerOpts := []badger.BackendOption{badger.WithBackendLogger(options.logger.With("component", "badger"))}
	if len(options.storeKey) > 0 {
		badgerOpts = append(badgerOpts, badger.WithEncryptionKey(options.storeKey))
	}

	switch {
	case strings.HasPrefix(storeURL, SchemeSQLite):
		if len(options.storeKey) > 0 {
			return nil, fmt.Errorf("%w: store key is not supported by sqlite", ErrUnsupportedStore)
		}
		path := strings.TrimPrefix(storeURL, SchemeSQLite)
		if path == "" {
			return nil, fmt.Errorf("%w: %q has no path", ErrUnsupportedStore, storeURL)
		}
		return sqlite.NewRepository(path, dimensions)
	case strings.HasPrefix(storeURL, SchemeBadger):
		path := strings.TrimPrefix(storeURL, SchemeBadger)
		if path == "" {
			return nil, fmt.Errorf("%w: %q has no path", ErrUnsupportedStore, storeURL)
		}
		return badger.NewRepository(path, dimensions, badgerOpts...)
	case strings.HasPrefix(storeURL, SchemeMemory):
		return badger.NewRepository("", dimensions, append(badgerOpts, badger.WithInMemory())...)
	case strings.Contains(storeURL, "://"):
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStore, storeURL)
	case storeURL == "":
		return nil, fmt.Errorf("%w: empty", ErrUnsupportedStore)
	default:
		return badger.NewRepository(storeURL, dimensions, badgerOpts...)
	}
}

// Close closes the AI provider and the store.
func (db *Database) Close() error {
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing AI provider", "err", err)
	}

	if err := db.repo.Close(); err != nil {
		db.logger.Error("error closing email repository", "err", err)
		return err
	}
	return nil
}

// EmailRepository returns the underlying store.
func (db *Database) EmailRepository() storage.EmailRepository {
	return db.repo
}

// Dimensions returns the embedding length the store enforces.
func (db *Database) Dimensions() int {
	return db.provider.Dimensions()
}

// NewIngestionPipeline creates a pipeline that embeds with the database's
// provider and checks vectors against its dimensions. opts are applied after
// those defaults.
func (db *Database) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	opts = append([]ingestion.Option{ingestion.WithExpectedDimensions(db.provider.Dimensions())}, opts...)
	return ingestion.NewPipeline(db.repo, db.provider.Embedder(), opts...)
}

// NewResumer creates a resumer over the database's store driven by pipeline.
func (db *Database) NewResumer(pipeline *ingestion.Pipeline, config *resume.Config, progress io.Writer) (*resume.Resumer, error) {
	if pipeline == nil {
		return nil, resume.ErrPipelineRequired
	}
	return resume.NewResumer(db.repo, pipeline, config, progress)
}

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


package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/maildex"
	"github.com/poiesic/maildex/ai"
	"github.com/poiesic/maildex/ai/openai"
	"github.com/poiesic/maildex/ingestion"
	"github.com/urfave/cli/v2"
)

// newProvider builds the embedding provider; tests replace it.
var newProvider = openai.NewProvider

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "maildex",
		Usage: "Split emails into sections, embed them and store them for semantic search",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"MAILDEX_LOG_LEVEL"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the HTTP ingestion API",
				Action: serveCommand,
				Flags: withCommonFlags(
					&cli.StringFlag{
						Name:    "listen-addr",
						Usage:   "Address the HTTP server listens on",
						Value:   ":8080",
						EnvVars: []string{"MAILDEX_LISTEN_ADDR"},
					},
					&cli.StringSliceFlag{
						Name:    "cors-origins",
						Usage:   "Origins allowed to call the API (default: any)",
						EnvVars: []string{"MAILDEX_CORS_ORIGINS"},
					},
				),
			},
			{
				Name:   "ingest",
				Usage:  "Ingest emails from a JSON Lines file, one email object per line",
				Action: ingestCommand,
				Flags: withCommonFlags(
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "JSON Lines file to read, or - for stdin",
						Required: true,
					},
				),
			},
			{
				Name:   "import-mbox",
				Usage:  "Ingest every message of an mbox file",
				Action: importMboxCommand,
				Flags: withCommonFlags(
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the mbox file",
						Required: true,
					},
				),
			},
			{
				Name:   "resume",
				Usage:  "Finish every email whose ingestion stopped part way",
				Action: resumeCommand,
				Flags: withCommonFlags(
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of emails to fetch in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N emails",
						Value: 10,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts per email",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				),
			},
		},
	}
}

// withCommonFlags appends the store, embedding and pipeline flags every
// command shares.
func withCommonFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		&cli.StringFlag{
			Name:    "store",
			Aliases: []string{"s"},
			Usage:   "Store URL (sqlite:///path/db.sqlite, badger:///path/dir, memory://)",
			Value:   "badger://maildex_db",
			EnvVars: []string{"MAILDEX_STORE_URL"},
		},
		&cli.StringFlag{
			Name:    "store-key",
			Usage:   "Badger encryption key (16, 24 or 32 bytes)",
			EnvVars: []string{"MAILDEX_STORE_KEY"},
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "Embedding service API key",
			EnvVars: []string{"OPENAI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "embedding-host",
			Usage:   "Embedding service host URL",
			Value:   ai.DefaultEmbeddingHost,
			EnvVars: []string{"MAILDEX_EMBEDDING_HOST"},
		},
		&cli.StringFlag{
			Name:    "embedding-model",
			Usage:   "Embedding model name",
			Value:   ai.DefaultEmbeddingModel,
			EnvVars: []string{"MAILDEX_EMBEDDING_MODEL"},
		},
		&cli.IntFlag{
			Name:    "embedding-dimensions",
			Usage:   "Length of the embedding vectors",
			Value:   ai.DefaultDimensions,
			EnvVars: []string{"MAILDEX_EMBEDDING_DIMENSIONS"},
		},
		&cli.DurationFlag{
			Name:  "request-timeout",
			Usage: "Timeout of a single embedding request (0 disables)",
			Value: 60 * time.Second,
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Sections of one email embedded at once",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Maximum section length in bytes",
			Value: ingestion.DefaultChunkSize,
		},
		&cli.DurationFlag{
			Name:  "chunk-timeout",
			Usage: "Deadline for embedding and storing one section",
			Value: ingestion.DefaultChunkTimeout,
		},
		&cli.DurationFlag{
			Name:  "pending-timeout",
			Usage: "Idle time after which resume takes over a pending email (0 derives it from chunk-timeout)",
		},
	)
}

// openDatabase opens the store and embedding provider named by the flags.
func openDatabase(c *cli.Context) (*maildex.Database, error) {
	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithAPIKey(c.String("api-key")),
		ai.WithDimensions(c.Int("embedding-dimensions")),
		ai.WithRequestTimeout(c.Duration("request-timeout")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	provider, err := newProvider(aiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	opts := []maildex.DatabaseOption{maildex.WithAIProvider(provider)}
	if key := c.String("store-key"); key != "" {
		opts = append(opts, maildex.WithStoreKey([]byte(key)))
	}

	db, err := maildex.NewDatabase(c.String("store"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	slog.Debug("opened store",
		"store", c.String("store"),
		"embedding_host", aiConfig.EmbeddingHost,
		"embedding_model", aiConfig.EmbeddingModel,
		"dimensions", db.Dimensions())
	return db, nil
}

// newPipeline creates a pipeline configured from the flags.
func newPipeline(c *cli.Context, db *maildex.Database) (*ingestion.Pipeline, error) {
	return db.NewIngestionPipeline(
		ingestion.WithConcurrency(c.Int("concurrency")),
		ingestion.WithChunkSize(c.Int("chunk-size")),
		ingestion.WithChunkTimeout(c.Duration("chunk-timeout")),
		ingestion.WithPendingTimeout(c.Duration("pending-timeout")),
	)
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

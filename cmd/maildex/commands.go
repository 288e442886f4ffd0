package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/poiesic/maildex/ingestion"
	"github.com/poiesic/maildex/mailbox"
	"github.com/poiesic/maildex/resume"
	"github.com/poiesic/maildex/server"
	"github.com/urfave/cli/v2"
)

// maxLineBytes bounds one JSON Lines record.
const maxLineBytes = 16 << 20

// tally counts the outcome of a batch import.
type tally struct {
	stored  int
	invalid int
	failed  int
}

func (t *tally) record(err error) {
	switch {
	case err == nil:
		t.stored++
	case ingestion.IsValidation(err):
		t.invalid++
	default:
		t.failed++
	}
}

func (t *tally) String() string {
	return fmt.Sprintf("%d stored, %d invalid, %d failed", t.stored, t.invalid, t.failed)
}

func (t *tally) err() error {
	if t.invalid+t.failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d emails were not stored", t.invalid+t.failed, t.stored+t.invalid+t.failed)
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	pipeline, err := newPipeline(c, db)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	srv, err := server.New(server.Config{
		ListenAddr:  c.String("listen-addr"),
		CORSOrigins: c.StringSlice("cors-origins"),
		Logger:      slog.Default(),
	}, pipeline, db.EmailRepository())
	if err != nil {
		return err
	}

	return srv.Start(ctx)
}

func ingestCommand(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	pipeline, err := newPipeline(c, db)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	lines, err := linesFrom(c.String("file"), c.App.Reader)
	if err != nil {
		return err
	}

	var counts tally
	lineNo := 0
	for line, readErr := range lines {
		if readErr != nil {
			return fmt.Errorf("reading %s: %w", c.String("file"), readErr)
		}
		lineNo++
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := pipeline.IngestJSON(ctx, []byte(line))
		counts.record(err)
		if err != nil {
			emailID, section := ingestion.FailedSection(err)
			slog.Warn("email not stored", "line", lineNo, "email_id", emailID, "section", section, "err", err)
			continue
		}
		fmt.Fprintf(c.App.Writer, "%d\n", result.EmailID)
	}

	fmt.Fprintf(c.App.ErrWriter, "Ingest complete: %s\n", &counts)
	return counts.err()
}

func importMboxCommand(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	reader, err := mailbox.NewReader(c.String("file"), slog.Default())
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	pipeline, err := newPipeline(c, db)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	var counts tally
	stats, err := reader.Stream(ctx, func(payload map[string]any) error {
		_, ingestErr := pipeline.Ingest(ctx, payload)
		counts.record(ingestErr)
		if ingestErr != nil {
			emailID, section := ingestion.FailedSection(ingestErr)
			slog.Warn("message not stored", "subject", payload["subject"], "email_id", emailID, "section", section, "err", ingestErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("import failed after %d messages: %w", stats.Messages, err)
	}

	fmt.Fprintf(c.App.ErrWriter, "Import complete: %d messages, %d unparseable, %s\n", stats.Messages, stats.Skipped, &counts)
	return counts.err()
}

func resumeCommand(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	config := &resume.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if config.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if config.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	pipeline, err := newPipeline(c, db)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	resumer, err := db.NewResumer(pipeline, config, c.App.ErrWriter)
	if err != nil {
		return err
	}

	if _, err := resumer.Run(ctx); err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}
	return nil
}

// linesFrom returns an iterator over the lines of name, or of stdin when name is "-".
func linesFrom(name string, stdin io.Reader) (iter.Seq2[string, error], error) {
	var src io.Reader
	var closer io.Closer
	if name == "-" {
		src = stdin
	} else {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		src, closer = f, f
	}

	return func(yield func(string, error) bool) {
		if closer != nil {
			defer closer.Close()
		}
		scanner := bufio.NewScanner(src)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			if !yield(scanner.Text(), nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			yield("", err)
		}
	}, nil
}

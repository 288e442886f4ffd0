package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ErrEmptyPath is returned by NewReader when no mbox path is given.
var ErrEmptyPath = errors.New("mbox path is empty")

// Reader streams the messages of one mbox file.
type Reader struct {
	path   string
	logger *slog.Logger
}

// Stats counts what a Stream call saw.
type Stats struct {
	Messages int
	Skipped  int
}

// NewReader creates a reader for the mbox at path. A nil logger selects
// slog.Default().
func NewReader(path string, logger *slog.Logger) (*Reader, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		path:   path,
		logger: logger.With("component", "mailbox", "path", path),
	}, nil
}

// Stream calls fn with the payload of every message in the file, in order.
// Messages that cannot be parsed are logged, counted in Stats.Skipped and
// skipped. The stream ends early on an error from fn, on broken mbox framing
// and when ctx is done.
func (r *Reader) Stream(ctx context.Context, fn func(payload map[string]any) error) (Stats, error) {
	var stats Stats

	file, err := os.Open(r.path)
	if err != nil {
		return stats, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("message %d: %w", idx, err)
		}

		stats.Messages++
		payload, err := parseMessage(msgReader)
		if err != nil {
			stats.Skipped++
			r.logger.Warn("skipping unparseable message", "index", idx, "err", err)
			continue
		}

		if err := fn(payload); err != nil {
			return stats, err
		}
	}
}

// parseMessage builds a payload from one RFC 5322 message.
func parseMessage(src io.Reader) (map[string]any, error) {
	mr, err := mail.CreateReader(src)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}
	defer mr.Close()

	header := mr.Header

	subject, err := header.Subject()
	if err != nil {
		subject = header.Get("Subject")
	}

	body, err := plainTextBody(mr)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"subject":   subject,
		"sender":    sender(header),
		"recipient": addresses(header, "To"),
		"cc":        addresses(header, "Cc"),
		"bcc":       addresses(header, "Bcc"),
		"body":      body,
	}, nil
}

// plainTextBody returns the first inline text/plain part, or "".
func plainTextBody(mr *mail.Reader) (string, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil && (!message.IsUnknownCharset(err) || part == nil) {
			return "", err
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := h.ContentType()
		if err != nil {
			// Parts without a Content-Type are text/plain.
			contentType = "text/plain"
		}
		if contentType != "text/plain" {
			continue
		}

		data, err := io.ReadAll(part.Body)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		return string(data), nil
	}
}

// sender returns the first From address, falling back to the decoded header.
func sender(header mail.Header) string {
	if list, err := header.AddressList("From"); err == nil && len(list) > 0 {
		return list[0].Address
	}
	raw := header.Get("From")
	dec := new(mime.WordDecoder)
	if decoded, err := dec.DecodeHeader(raw); err == nil {
		return decoded
	}
	return raw
}

func addresses(header mail.Header, key string) []string {
	result := []string{}
	list, err := header.AddressList(key)
	if err != nil {
		return result
	}
	for _, addr := range list {
		result = append(result, addr.Address)
	}
	return result
}

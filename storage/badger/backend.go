package badger

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/maildex/storage"
)

const (
	defaultSequenceBandwidth = 100

	// Badger requires a block index cache when encryption is enabled.
	encryptedIndexCacheSize = 64 << 20
)

// Backend wraps a BadgerDB instance and provides low-level operations.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

// BackendOption configures OpenBackend.
type BackendOption func(*backendConfig)

type backendConfig struct {
	inMemory      bool
	encryptionKey []byte
	logger        *slog.Logger
}

// WithInMemory keeps all data in memory. The path passed to OpenBackend is ignored.
func WithInMemory() BackendOption {
	return func(c *backendConfig) {
		c.inMemory = true
	}
}

// WithEncryptionKey enables encryption at rest. The key must be 16, 24 or 32 bytes
// (AES-128, AES-192 or AES-256).
func WithEncryptionKey(key []byte) BackendOption {
	return func(c *backendConfig) {
		c.encryptionKey = key
	}
}

// WithBackendLogger sets the logger badger's internal messages are routed to.
func WithBackendLogger(logger *slog.Logger) BackendOption {
	return func(c *backendConfig) {
		c.logger = logger
	}
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, opts ...BackendOption) (*Backend, error) {
	cfg := &backendConfig{logger: slog.Default().With("component", "badger")}
	for _, opt := range opts {
		opt(cfg)
	}

	var badgerOpts badger.Options
	if cfg.inMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := ensureDir(filePath); err != nil {
			return nil, err
		}
		badgerOpts = badger.DefaultOptions(filePath)
	}

	if len(cfg.encryptionKey) > 0 {
		switch len(cfg.encryptionKey) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("badger encryption key must be 16, 24 or 32 bytes, got %d", len(cfg.encryptionKey))
		}
		badgerOpts = badgerOpts.
			WithEncryptionKey(cfg.encryptionKey).
			WithIndexCacheSize(encryptedIndexCacheSize)
	}

	badgerOpts = badgerOpts.WithLogger(&badgerLoggerAdapter{logger: cfg.logger})
	badgerOpts.Compression = options.None

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}

	return &Backend{
		db:     db,
		logger: cfg.logger,
	}, nil
}

func ensureDir(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(filePath, 0755); err != nil {
			return err
		}
		info, err = os.Stat(filePath)
		if err != nil {
			return err
		}
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filePath)
	}
	return nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction.
// The transaction is automatically discarded if fn returns an error.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// Update runs fn in a read-write transaction and commits it when fn succeeds.
// The context is checked before the transaction starts.
func (b *Backend) Update(ctx context.Context, fn func(tx *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.WithTx(func(tx *badger.Txn) error {
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// View runs fn in a read-only transaction.
func (b *Backend) View(ctx context.Context, fn func(tx *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.WithTx(fn, false)
}

// GetSequence returns a BadgerDB sequence for generating sequential IDs.
func (b *Backend) GetSequence(name string) (*badger.Sequence, error) {
	return b.db.GetSequence([]byte(name), defaultSequenceBandwidth)
}

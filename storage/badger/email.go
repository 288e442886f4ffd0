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


package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/maildex/core"
	"github.com/poiesic/maildex/storage"
)

// EmailRepository implements storage.EmailRepository for BadgerDB.
type EmailRepository struct {
	backend     *Backend
	idSeq       *badger.Sequence
	dimensions  int
	ownsBackend bool
}

var _ storage.EmailRepository = (*EmailRepository)(nil)

// NewEmailRepository creates a new EmailRepository on an open backend.
// dimensions is the required embedding length; zero disables the check.
// Closing the repository does not close the backend.
func NewEmailRepository(backend *Backend, dimensions int) (*EmailRepository, error) {
	idSeq, err := backend.GetSequence(emailIDSeq)
	if err != nil {
		return nil, err
	}

	return &EmailRepository{
		backend:    backend,
		idSeq:      idSeq,
		dimensions: dimensions,
	}, nil
}

// NewRepository opens a badger store at path and returns a repository that owns it.
func NewRepository(path string, dimensions int, opts ...BackendOption) (storage.EmailRepository, error) {
	backend, err := OpenBackend(path, opts...)
	if err != nil {
		return nil, err
	}
	repo, err := NewEmailRepository(backend, dimensions)
	if err != nil {
		backend.Close()
		return nil, err
	}
	repo.ownsBackend = true
	return repo, nil
}

// Close releases the ID sequence, and the backend when the repository owns it.
func (r *EmailRepository) Close() error {
	err := r.idSeq.Release()
	if r.ownsBackend {
		err = errors.Join(err, r.backend.Close())
	}
	return err
}

// AddEmail inserts a new email with an ID drawn from the sequence.
func (r *EmailRepository) AddEmail(ctx context.Context, email *core.Email) (*core.Email, error) {
	nextID, err := r.nextID()
	if err != nil {
		return nil, err
	}

	stored := *email
	stored.Id = nextID
	stored.InsertedAt = now()
	stored.UpdatedAt = stored.InsertedAt
	if stored.Status == "" {
		stored.Status = core.IngestStatusPending
	}

	value := storage.MarshalEmail(&stored)
	err = r.backend.Update(ctx, func(tx *badger.Txn) error {
		if err := tx.Set(makeEmailKey(stored.Id), value); err != nil {
			return err
		}
		return tx.Set(makeStatusKey(stored.Status, stored.Id), nil)
	})
	if err != nil {
		return nil, err
	}

	*email = stored
	return email, nil
}

func (r *EmailRepository) nextID() (core.ID, error) {
	nextID, err := r.idSeq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if nextID == 0 {
		nextID, err = r.idSeq.Next()
		if err != nil {
			return 0, err
		}
	}
	return core.ID(nextID), nil
}

// GetEmail retrieves a single email by ID.
func (r *EmailRepository) GetEmail(ctx context.Context, id core.ID) (*core.Email, error) {
	var result *core.Email
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		result, err = readEmail(tx, id)
		return err
	})
	return result, err
}

// UpdateEmailStatus moves an email to a new status and re-indexes it.
func (r *EmailRepository) UpdateEmailStatus(ctx context.Context, id core.ID, status core.IngestStatus) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		email, err := readEmail(tx, id)
		if err != nil {
			return err
		}

		if err := tx.Delete(makeStatusKey(email.Status, id)); err != nil {
			return err
		}
		email.UpdatedAt = now()
		return writeEmail(tx, email, status)
	})
}

// ClaimEmail hands an incomplete email to the caller; see storage.EmailRepository.
func (r *EmailRepository) ClaimEmail(ctx context.Context, id core.ID, staleBefore time.Time) (*core.Email, error) {
	var claimed *core.Email
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		email, err := readEmail(tx, id)
		if err != nil {
			return err
		}
		claimed = email
		switch {
		case email.Status == core.IngestStatusComplete:
			return nil
		case email.Status == core.IngestStatusPending && !email.UpdatedAt.Before(staleBefore):
			return storage.ErrEmailBusy
		}

		if err := tx.Delete(makeStatusKey(email.Status, id)); err != nil {
			return err
		}
		email.UpdatedAt = now()
		return writeEmail(tx, email, core.IngestStatusPending)
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, storage.ErrEmailBusy
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// writeEmail stores an email under the given status and indexes it.
func writeEmail(tx *badger.Txn, email *core.Email, status core.IngestStatus) error {
	email.Status = status
	if err := tx.Set(makeEmailKey(email.Id), storage.MarshalEmail(email)); err != nil {
		return err
	}
	return tx.Set(makeStatusKey(status, email.Id), nil)
}

// ListEmailsByStatus walks the status index of each requested status.
func (r *EmailRepository) ListEmailsByStatus(ctx context.Context, afterID core.ID, limit int, statuses ...core.IngestStatus) ([]*core.Email, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}

	var results []*core.Email
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		for _, status := range slices.Compact(slices.Sorted(slices.Values(statuses))) {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = makePartialStatusKey(status)
			iter := tx.NewIterator(opts)

			found := 0
			for iter.Seek(makeStatusKey(status, afterID+1)); iter.Valid() && found < limit; iter.Next() {
				id := idFromStatusKey(iter.Item().Key())
				email, err := readEmail(tx, id)
				if err != nil {
					iter.Close()
					return err
				}
				results = append(results, email)
				found++
			}
			iter.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b *core.Email) int {
		switch {
		case a.Id < b.Id:
			return -1
		case a.Id > b.Id:
			return 1
		}
		return 0
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// AddEmailSection stores one section under its email.
func (r *EmailRepository) AddEmailSection(ctx context.Context, section *core.EmailSection) (*core.EmailSection, error) {
	if err := core.ValidateSection(section); err != nil {
		return nil, err
	}
	if r.dimensions > 0 && len(section.Embedding) != r.dimensions {
		return nil, fmt.Errorf("%w: got %d, expected %d", storage.ErrDimensionMismatch, len(section.Embedding), r.dimensions)
	}

	section.InsertedAt = now()
	value := storage.MarshalEmailSection(section)
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		if _, err := tx.Get(makeEmailKey(section.EmailId)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("email %d: %w", section.EmailId, storage.ErrNotFound)
			}
			return err
		}

		key := makeSectionKey(section.EmailId, section.Order)
		_, err := tx.Get(key)
		switch {
		case err == nil:
			return fmt.Errorf("section %d of email %d: %w", section.Order, section.EmailId, storage.ErrDuplicateKey)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return tx.Set(key, value)
	})
	if err != nil {
		return nil, err
	}
	return section, nil
}

// GetEmailSections returns an email's sections in order.
func (r *EmailRepository) GetEmailSections(ctx context.Context, emailID core.ID) ([]*core.EmailSection, error) {
	sections := []*core.EmailSection{}
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialSectionKey(emailID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var section *core.EmailSection
			err := iter.Item().Value(func(val []byte) error {
				var err error
				section, err = storage.UnmarshalEmailSection(val)
				return err
			})
			if err != nil {
				return err
			}
			sections = append(sections, section)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sections, nil
}

// CountEmailSections counts section keys without loading values.
func (r *EmailRepository) CountEmailSections(ctx context.Context, emailID core.ID) (int, error) {
	count := 0
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makePartialSectionKey(emailID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// readEmail loads an email inside a transaction, mapping a missing key to ErrNotFound.
func readEmail(tx *badger.Txn, id core.ID) (*core.Email, error) {
	item, err := tx.Get(makeEmailKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("email %d: %w", id, storage.ErrNotFound)
		}
		return nil, err
	}

	var email *core.Email
	err = item.Value(func(val []byte) error {
		var err error
		email, err = storage.UnmarshalEmail(val)
		return err
	})
	return email, err
}

// now matches the microsecond precision timestamps are persisted with.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

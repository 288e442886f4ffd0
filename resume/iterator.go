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


package resume

import (
	"context"

	"github.com/poiesic/maildex/core"
	"github.com/poiesic/maildex/storage"
)

const (
	// DefaultBatchSize is the default number of emails to fetch in each batch
	DefaultBatchSize = 100
)

// resumableStatuses are the statuses a run picks up.
var resumableStatuses = []core.IngestStatus{core.IngestStatusPending, core.IngestStatusFailed}

// EmailIterator pages through incomplete emails in ID order.
type EmailIterator struct {
	repo      storage.EmailRepository
	batchSize int
}

// NewEmailIterator creates an iterator. batchSize <= 0 selects DefaultBatchSize.
func NewEmailIterator(repo storage.EmailRepository, batchSize int) *EmailIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &EmailIterator{
		repo:      repo,
		batchSize: batchSize,
	}
}

// ForEach calls fn with each batch of incomplete emails.
// Paging uses the last ID seen, so emails completed by fn do not shift later
// pages. Iteration stops on the first error from fn and when ctx is done.
func (it *EmailIterator) ForEach(ctx context.Context, fn func([]*core.Email) error) error {
	var after core.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := it.repo.ListEmailsByStatus(ctx, after, it.batchSize, resumableStatuses...)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}

		after = batch[len(batch)-1].Id
		if len(batch) < it.batchSize {
			return nil
		}
	}
}

// Count returns the number of incomplete emails.
func (it *EmailIterator) Count(ctx context.Context) (int, error) {
	total := 0
	err := it.ForEach(ctx, func(batch []*core.Email) error {
		total += len(batch)
		return nil
	})
	return total, err
}

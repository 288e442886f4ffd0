// Package storagetest holds behavioral tests every storage.EmailRepository
// implementation must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/maildex/core"
	"github.com/poiesic/maildex/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Dimensions is the embedding length repositories under test are opened with.
const Dimensions = 4

// Factory opens a fresh, empty repository configured for Dimensions.
// The suite closes the repository when the subtest ends.
type Factory func(t *testing.T) storage.EmailRepository

// Vector returns a non-empty embedding of length Dimensions.
func Vector(seed float32) []float32 {
	return []float32{seed, seed + 0.25, seed + 0.5, seed + 0.75}
}

// SampleEmail returns a valid email that has not been stored yet.
func SampleEmail() *core.Email {
	return &core.Email{
		Subject:    "Quarterly numbers",
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com", "carol@example.com"},
		CC:         []string{"dave@example.com"},
		BCC:        []string{},
		Body:       "hello world",
	}
}

// Run executes the suite against repositories produced by newRepo.
func Run(t *testing.T, newRepo Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, repo storage.EmailRepository)
	}{
		{"AddAndGetEmail", testAddAndGetEmail},
		{"DistinctIDsForIdenticalEmails", testDistinctIDs},
		{"GetEmailNotFound", testGetEmailNotFound},
		{"UpdateEmailStatus", testUpdateEmailStatus},
		{"SectionsOrdered", testSectionsOrdered},
		{"DuplicateSectionOrder", testDuplicateSectionOrder},
		{"SectionWithoutEmail", testSectionWithoutEmail},
		{"SectionDimensionMismatch", testSectionDimensionMismatch},
		{"InvalidSection", testInvalidSection},
		{"ListEmailsByStatus", testListEmailsByStatus},
		{"ClaimEmail", testClaimEmail},
		{"ConcurrentSections", testConcurrentSections},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepo(t)
			t.Cleanup(func() { _ = repo.Close() })
			tt.fn(t, repo)
		})
	}
}

func testAddAndGetEmail(t *testing.T, repo storage.EmailRepository) {
	ctx := context.Background()

	added, err := repo.AddEmail(ctx, SampleEmail())
	require.NoError(t, err)
	require.NotZero(t, added.Id)
	assert.Equal(t, core.IngestStatusPending, added.Status)
	assert.False(t, added.InsertedAt.IsZero())

	got, err := repo.GetEmail(ctx, added.Id)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly numbers", got.Subject)
	assert.Equal(t, "alice@example.com", got.Sender)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, got.Recipients)
	assert.Equal(t, []string{"dave@example.com"}, got.CC)
	assert.Equal(t, []string{}, got.BCC)
	assert.Equal(t, "hello world", got.Body)
	assert.Equal(t, core.IngestStatusPending, got.Status)
}

func testDistinctIDs(t *testing.T, repo storage.EmailRepository) {
	ctx := context.Background()

	first, err := repo.AddEmail(ctx, SampleEmail())
	require.NoError(t, err)
	second, err := repo.AddEmail(ctx, SampleEmail())
	require.NoError(t, err)

	assert.NotEqual(t, first.Id, second.Id)
}

func testGetEmailNotFound(t *testing.T, repo storage.EmailRepository) {
	_, err := repo.GetEmail(context.Background(), 424242)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = repo.UpdateEmailStatus(context.Background(), 424242, core.IngestStatusFailed)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUpdateEmailStatus(t *testing.T, repo storage.EmailRepository) {
	ctx := context.Background()
	added, err := repo.AddEmail(ctx, SampleEmail())
	require.NoError(t, err)

	require.NoError(t, repo.UpdateEmailStatus(ctx, added.Id, core.IngestStatusComplete))

	got, err := repo.GetEmail(ctx, added.Id)
	require.NoError(t, err)
	assert.Equal(t, core.IngestStatusComplete, got.Status)
	assert.False(t, got.UpdatedAt.Before(got.InsertedAt))
}

func testSectionsOrdered(t *testing.T, repo storage.EmailRepository) {
	ctx := context.Background()
	email, err := repo.AddEmail(ctx, SampleEmail())
	require.NoError(t, err)

	// Insert out of order; reads come back by section order.
	for _, order := range []int{2, 1, 3} {
		_, err := repo.AddEmailSection(ctx, core.NewEmailSection(email.Id, order, fmt.Sprintf("part %d", order), Vector(float32(order))))
		require.NoError(t, err)
	}

	sections, err := repo.GetEmailSections(ctx, email.Id)
	require.NoError(t, err)
	require.Len(t, sections, 3)
	for i, s := range sections {
		assert.Equal(t, i+1, s.Order)
		assert.Equal(t, email.Id, s.EmailId)
		assert.Equal(t, fmt.Sprintf("part %d", i+1), s.Content)
		assert.Equal(t, Vector(float32(i+1)), s.Embedding)
		assert.Equal(t, core.IDFromContent(s.Content), s.ContentHash)
	}

	count, err := repo.CountEmailSections(ctx, email.Id)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func testDuplicateSectionOrder(t *testing.T, repo storage.EmailRepository) {
	ctx := context.Background()
	email, err := repo.AddEmail(ctx, SampleEmail())
	require.NoError(t, err)

	_, err = repo.AddEmailSection(ctx, core.NewEmailSection(email.Id, 1, "a", Vector(1)))
	require.NoError(t, err)
	_, err = repo.AddEmailSection(ctx, core.NewEmailSection(email.Id, 1, "b", Vector(2)))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func testSectionWithoutEmail(t *testing.T, repo storage.EmailRepository) {
	_, err := repo.AddEmailSection(context.Background(), core.NewEmailSection(999, 1, "orphan", Vector(1)))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testSectionDimensionMismatch(t *testing.T, repo storage.EmailRepository) {
	ctx := context.Background()
	email, err := repo.AddEmail(ctx, SampleEmail())
	require.NoError(t, err)

	_, err = repo.AddEmailSection(ctx, core.NewEmailSection(email.Id, 1, "short", []float32{1, 2}))
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	count, err := repo.CountEmailSections(ctx, email.Id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testInvalidSection(t *testing.T, repo storage.EmailRepository) {
	ctx := context.Background()
	email, err := repo.AddEmail(ctx, SampleEmail())
	require.NoError(t, err)

	_, err = repo.AddEmailSection(ctx, core.NewEmailSection(email.Id, 0, "zero", Vector(1)))
	assert.ErrorIs(t, err, core.ErrInvalidSectionOrder)

	_, err = repo.AddEmailSection(ctx, core.NewEmailSection(email.Id, 1, "empty", nil))
	assert.ErrorIs(t, err, core.ErrEmptyEmbedding)
}

func testListEmailsByStatus(t *testing.T, repo storage.EmailRepository) {
	ctx := context.Background()

	var ids []core.ID
	for i := 0; i < 5; i++ {
		e, err := repo.AddEmail(ctx, SampleEmail())
		require.NoError(t, err)
		ids = append(ids, e.Id)
	}
	require.NoError(t, repo.UpdateEmailStatus(ctx, ids[0], core.IngestStatusComplete))
	require.NoError(t, repo.UpdateEmailStatus(ctx, ids[2], core.IngestStatusFailed))
	require.NoError(t, repo.UpdateEmailStatus(ctx, ids[4], core.IngestStatusComplete))

	resumable, err := repo.ListEmailsByStatus(ctx, 0, 10, core.IngestStatusPending, core.IngestStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{ids[1], ids[2], ids[3]}, emailIDs(resumable))

	page, err := repo.ListEmailsByStatus(ctx, 0, 2, core.IngestStatusPending, core.IngestStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{ids[1], ids[2]}, emailIDs(page))

	next, err := repo.ListEmailsByStatus(ctx, ids[2], 2, core.IngestStatusPending, core.IngestStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{ids[3]}, emailIDs(next))

	_, err = repo.ListEmailsByStatus(ctx, 0, 0, core.IngestStatusPending)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func testClaimEmail(t *testing.T, repo storage.EmailRepository) {
	ctx := context.Background()

	live, err := repo.AddEmail(ctx, SampleEmail())
	require.NoError(t, err)

	// A pending email updated after staleBefore still has a running ingestion.
	_, err = repo.ClaimEmail(ctx, live.Id, live.UpdatedAt.Add(-time.Minute))
	assert.ErrorIs(t, err, storage.ErrEmailBusy)

	claimed, err := repo.ClaimEmail(ctx, live.Id, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, core.IngestStatusPending, claimed.Status)
	assert.False(t, claimed.UpdatedAt.Before(live.UpdatedAt))

	// The claim refreshes UpdatedAt, so the same bound no longer matches.
	_, err = repo.ClaimEmail(ctx, live.Id, claimed.UpdatedAt)
	assert.ErrorIs(t, err, storage.ErrEmailBusy)

	failed, err := repo.AddEmail(ctx, SampleEmail())
	require.NoError(t, err)
	require.NoError(t, repo.UpdateEmailStatus(ctx, failed.Id, core.IngestStatusFailed))

	claimed, err = repo.ClaimEmail(ctx, failed.Id, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, core.IngestStatusPending, claimed.Status)

	got, err := repo.GetEmail(ctx, failed.Id)
	require.NoError(t, err)
	assert.Equal(t, core.IngestStatusPending, got.Status)

	_, err = repo.ClaimEmail(ctx, failed.Id, time.Time{})
	assert.ErrorIs(t, err, storage.ErrEmailBusy, "only one caller wins a failed email")

	require.NoError(t, repo.UpdateEmailStatus(ctx, failed.Id, core.IngestStatusComplete))
	done, err := repo.ClaimEmail(ctx, failed.Id, time.Now())
	require.NoError(t, err)
	assert.Equal(t, core.IngestStatusComplete, done.Status)

	_, err = repo.ClaimEmail(ctx, 424242, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentSections(t *testing.T, repo storage.EmailRepository) {
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			email, err := repo.AddEmail(ctx, SampleEmail())
			if err != nil {
				errs <- err
				return
			}
			for order := 1; order <= 3; order++ {
				if _, err := repo.AddEmailSection(ctx, core.NewEmailSection(email.Id, order, "c", Vector(1))); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func emailIDs(emails []*core.Email) []core.ID {
	ids := make([]core.ID, 0, len(emails))
	for _, e := range emails {
		ids = append(ids, e.Id)
	}
	return ids
}

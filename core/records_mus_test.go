package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailMUS_SizeMatchesEncoding(t *testing.T) {
	email := Email{
		Id:           1 << 40,
		Subject:      "Grüße",
		Sender:       "alice@example.com",
		Recipients:   []string{"bob@example.com", "carol@example.com"},
		CC:           []string{},
		BCC:          []string{"dave@example.com"},
		Body:         "hello world",
		Status:       IngestStatusFailed,
		SectionCount: 3,
		InsertedAt:   time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC),
		UpdatedAt:    time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC),
	}

	buf := make([]byte, EmailMUS.Size(email))
	n := EmailMUS.Marshal(email, buf)
	assert.Equal(t, len(buf), n)

	skipped, err := EmailMUS.Skip(buf)
	require.NoError(t, err)
	assert.Equal(t, n, skipped)

	decoded, read, err := EmailMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, n, read)
	assert.Equal(t, email, decoded)
}

func TestEmailSectionMUS_SizeMatchesEncoding(t *testing.T) {
	section := *NewEmailSection(9, 2, "chunk two", []float32{0.5, -1, 3.25})
	section.InsertedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	buf := make([]byte, EmailSectionMUS.Size(section))
	n := EmailSectionMUS.Marshal(section, buf)
	assert.Equal(t, len(buf), n)

	skipped, err := EmailSectionMUS.Skip(buf)
	require.NoError(t, err)
	assert.Equal(t, n, skipped)

	decoded, _, err := EmailSectionMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, section, decoded)

	_, err = EmailSectionMUS.Skip(buf[:n-1])
	assert.Error(t, err)
}

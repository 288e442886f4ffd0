package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for stored emails.
// It is assigned by the store's sequence when an email is created.
type ID uint64

// IDFromContent generates a deterministic 64-bit digest of text content using BLAKE2b hashing.
// Identical content always produces an identical value.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// IngestStatus tracks how far an email got through the ingestion pipeline.
type IngestStatus string

const (
	// IngestStatusPending is set when the email row is created and sections are still being written.
	IngestStatusPending IngestStatus = "pending"
	// IngestStatusComplete is set once every section of the email has been written.
	IngestStatusComplete IngestStatus = "complete"
	// IngestStatusFailed is set when a section could not be embedded or stored.
	IngestStatusFailed IngestStatus = "failed"
)

// Resumable reports whether an email in this status still has sections to write.
func (s IngestStatus) Resumable() bool {
	return s == IngestStatusPending || s == IngestStatusFailed
}

// Email represents one stored message.
type Email struct {
	Id           ID
	Subject      string
	Sender       string
	Recipients   []string // Never empty for a valid email
	CC           []string
	BCC          []string
	Body         string
	Status       IngestStatus
	SectionCount int       // Number of sections the body chunks into
	InsertedAt   time.Time // When the email was inserted into the store
	UpdatedAt    time.Time // When the status was last changed
}

// EmailSection is one embedded fragment of an email body.
type EmailSection struct {
	EmailId     ID
	Content     string
	Embedding   []float32
	Order       int // 1-based position among the sections of the same email
	ContentHash ID  // IDFromContent(Content), used to verify resumed ingestions
	InsertedAt  time.Time
}

// NewEmailSection builds a section for the given email and position, hashing its content.
func NewEmailSection(emailID ID, order int, content string, embedding []float32) *EmailSection {
	return &EmailSection{
		EmailId:     emailID,
		Content:     content,
		Embedding:   embedding,
		Order:       order,
		ContentHash: IDFromContent(content),
	}
}

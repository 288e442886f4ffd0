package badger

import (
	"encoding/binary"

	"github.com/poiesic/maildex/core"
	"github.com/poiesic/maildex/storage"
)

// Key prefixes for different data types
const (
	emailPrefix        = "email:"
	emailSectionPrefix = "emsec:"
	emailStatusPrefix  = "emstat:"
	emailIDSeq         = "emailseq"
)

// makeEmailKey generates a key for an email by ID.
// Format: prefix + id (8 bytes BigEndian)
func makeEmailKey(id core.ID) []byte {
	return append([]byte(emailPrefix), storage.MarshalID(id)...)
}

// makeSectionKey generates a composite key for one section of an email.
// Format: prefix + emailID (8 bytes) + order (4 bytes)
func makeSectionKey(emailID core.ID, order int) []byte {
	// BigEndian order so lexicographic sort follows section order
	return binary.BigEndian.AppendUint32(makePartialSectionKey(emailID), uint32(order))
}

// makePartialSectionKey generates the prefix shared by all sections of an email.
func makePartialSectionKey(emailID core.ID) []byte {
	return append([]byte(emailSectionPrefix), storage.MarshalID(emailID)...)
}

// makeStatusKey generates a composite key for the status index.
// Format: prefix + status + ":" + id (8 bytes)
func makeStatusKey(status core.IngestStatus, id core.ID) []byte {
	return append(makePartialStatusKey(status), storage.MarshalID(id)...)
}

// makePartialStatusKey generates the prefix shared by all emails with a status.
func makePartialStatusKey(status core.IngestStatus) []byte {
	return []byte(emailStatusPrefix + string(status) + ":")
}

// idFromStatusKey extracts the email ID from a status index key.
func idFromStatusKey(key []byte) core.ID {
	if len(key) < 8 {
		return 0
	}
	id, _ := storage.UnmarshalID(key[len(key)-8:])
	return id
}

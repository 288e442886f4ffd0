package ingestion

import "strings"

// DefaultChunkSize is the maximum section length, in bytes, used when none is configured.
const DefaultChunkSize = 2000

// SplitIntoChunks segments body into sections of at most maxSize bytes.
//
// The body is split on any run of Unicode whitespace and words are packed
// greedily, joined by single spaces. A word is never split: a word longer than
// maxSize becomes a section of its own. An empty or whitespace-only body yields
// no sections. maxSize <= 0 selects DefaultChunkSize.
//
// Joining the result with single spaces reproduces the body with its whitespace
// collapsed.
func SplitIntoChunks(body string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}

	chunks := []string{}
	var current strings.Builder
	for _, word := range strings.Fields(body) {
		if current.Len() > 0 && current.Len()+1+len(word) > maxSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

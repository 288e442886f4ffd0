package badger

import (
	"bytes"
	"testing"

	"github.com/poiesic/maildex/core"
	"github.com/stretchr/testify/assert"
)

func TestSectionKeysSortByOrder(t *testing.T) {
	a := makeSectionKey(5, 2)
	b := makeSectionKey(5, 10)
	c := makeSectionKey(6, 1)

	assert.Equal(t, -1, bytes.Compare(a, b))
	assert.Equal(t, -1, bytes.Compare(b, c))
	assert.True(t, bytes.HasPrefix(a, makePartialSectionKey(5)))
	assert.False(t, bytes.HasPrefix(c, makePartialSectionKey(5)))
}

func TestStatusKeyRoundTrip(t *testing.T) {
	key := makeStatusKey(core.IngestStatusFailed, 1234)

	assert.True(t, bytes.HasPrefix(key, makePartialStatusKey(core.IngestStatusFailed)))
	assert.False(t, bytes.HasPrefix(key, makePartialStatusKey(core.IngestStatusPending)))
	assert.Equal(t, core.ID(1234), idFromStatusKey(key))
}

func TestEmailKeysSortByID(t *testing.T) {
	assert.Equal(t, -1, bytes.Compare(makeEmailKey(255), makeEmailKey(256)))
	assert.Len(t, makeEmailKey(1), len(emailPrefix)+8)
	assert.Len(t, makeSectionKey(1, 1), len(emailSectionPrefix)+12)
}

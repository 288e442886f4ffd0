package resume

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_ReportsAtInterval(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10, 5)
	tracker.Start()

	for i := 0; i < 4; i++ {
		tracker.Done(true)
	}
	assert.Empty(t, buf.String(), "no report before the interval")

	tracker.Done(false)
	assert.Contains(t, buf.String(), "5/10 (50.0%), 1 failed")
}

func TestProgressTracker_Finish(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 3, 100)
	tracker.Start()
	tracker.Done(true)
	tracker.Done(true)
	tracker.Done(true)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "3/3 (100.0%), 0 failed")
	assert.True(t, strings.HasSuffix(output, "\n"), "finish should print newline")
}

func TestProgressTracker_CapsAtTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 2, 1)
	tracker.Start()
	for i := 0; i < 5; i++ {
		tracker.Done(true)
	}
	tracker.Finish()

	assert.NotContains(t, buf.String(), "3/2")
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10, 1)

	tracker.Done(true)
	tracker.Finish()

	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
}

func TestProgressTracker_ZeroInterval(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 2, 0)
	tracker.Start()
	tracker.Done(true)

	assert.Contains(t, buf.String(), "1/2")
}

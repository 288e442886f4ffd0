package core

import (
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "short content", content: "hello world"},
		{name: "empty string", content: ""},
		{name: "long content", content: "This is a much longer section of an email body that should still hash consistently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)
			if id1 != id2 {
				t.Errorf("IDFromContent() produced different values for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	if IDFromContent("section one") == IDFromContent("section two") {
		t.Errorf("IDFromContent() produced same value for different content")
	}
}

func TestNewEmailSection(t *testing.T) {
	s := NewEmailSection(7, 2, "chunk text", []float32{1, 2})
	if s.EmailId != 7 || s.Order != 2 || s.Content != "chunk text" {
		t.Fatalf("unexpected section: %+v", s)
	}
	if s.ContentHash != IDFromContent("chunk text") {
		t.Errorf("ContentHash = %d, want %d", s.ContentHash, IDFromContent("chunk text"))
	}
}

func TestIngestStatus_Resumable(t *testing.T) {
	tests := []struct {
		status IngestStatus
		want   bool
	}{
		{IngestStatusPending, true},
		{IngestStatusFailed, true},
		{IngestStatusComplete, false},
		{IngestStatus(""), false},
	}
	for _, tt := range tests {
		if got := tt.status.Resumable(); got != tt.want {
			t.Errorf("%q.Resumable() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

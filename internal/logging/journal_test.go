package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestJournalWritesJSONL(t *testing.T) {
	var buf bytes.Buffer
	journal := NewJournal(&buf)

	record := Deployment{
		Timestamp:  time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
		AppUUID:    "0b7c6f0e-5d1a-4f37-9c33-2f1e5b8a9d10",
		Server:     "edge-1",
		Outcome:    OutcomeFailed,
		FailedStep: "reload",
		Error:      strings.Repeat("e", 400),
	}

	if err := journal.Write(record); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if err := journal.Write(Deployment{Outcome: OutcomeSuccess}); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var parsed Deployment
	if err := json.Unmarshal([]byte(lines[0]), &parsed); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(parsed.Error) != maxError {
		t.Fatalf("expected error length %d, got %d", maxError, len(parsed.Error))
	}
	if parsed.FailedStep != "reload" {
		t.Fatalf("unexpected failed step %q", parsed.FailedStep)
	}
}

func TestNilJournal(t *testing.T) {
	var journal *Journal
	if err := journal.Write(Deployment{}); err != nil {
		t.Fatalf("expected nil journal to discard, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := New(Config{Level: "debug", Format: "console"}); err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

package journal

import (
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := testJournal(t)

	id, err := j.Record(Exchange{
		Conversation: "support",
		Sender:       "alice",
		Question:     "phatgpt what is the capital of France?",
		Source:       "vector",
		Answer:       "Paris",
		Chunks:       3,
		LatencyMS:    412,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id == 0 {
		t.Error("expected non-zero id")
	}

	if _, err := j.Record(Exchange{
		Conversation: "support",
		Sender:       "bob",
		Question:     "phatgpt what is the capital of Germany?",
		Source:       "direct",
		Answer:       "Berlin",
		Chunks:       1,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	recent, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(recent))
	}
	// Newest first
	if recent[0].Sender != "bob" || recent[1].Sender != "alice" {
		t.Errorf("wrong order: %s, %s", recent[0].Sender, recent[1].Sender)
	}
	if recent[0].Source != "direct" {
		t.Errorf("source = %q, want direct", recent[0].Source)
	}
	if recent[1].AskedAt.IsZero() {
		t.Error("AskedAt should default to now")
	}
}

func TestRecentLimit(t *testing.T) {
	j := testJournal(t)

	for i := 0; i < 5; i++ {
		if _, err := j.Record(Exchange{
			Conversation: "general",
			Sender:       "carol",
			Question:     "q",
			Source:       "vector",
			Answer:       "a",
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := j.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("expected 3 exchanges, got %d", len(recent))
	}
	if j.Count() != 5 {
		t.Errorf("Count = %d, want 5", j.Count())
	}
}

func TestExplicitAskedAt(t *testing.T) {
	j := testJournal(t)

	asked := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := j.Record(Exchange{
		Conversation: "support",
		Sender:       "dave",
		Question:     "q",
		Source:       "direct",
		Answer:       "a",
		AskedAt:      asked,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	recent, err := j.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if !recent[0].AskedAt.Equal(asked) {
		t.Errorf("AskedAt = %v, want %v", recent[0].AskedAt, asked)
	}
}

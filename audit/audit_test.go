package audit_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gg.chat/audit"
)

func TestRecordAndHistory(t *testing.T) {
	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	input := []map[string]string{
		{"role": "system", "content": "be friendly"},
		{"role": "user", "content": "recommend a rogue-like"},
	}
	entries := []audit.Entry{
		{SessionID: "s1", Personality: "Friendly", Provider: "groq", Model: "llama", Input: input,
			Output: "Try Hades!", InputTokens: 10, OutputTokens: 3, Duration: 1500 * time.Millisecond},
		{SessionID: "s2", Personality: "Humorous", Provider: "groq", Input: input, Output: "lol"},
		{SessionID: "s1", Personality: "Professional", Provider: "groq", Input: input,
			Output: "Error: groq: provider unavailable", ErrorKind: "provider unavailable", Error: "boom"},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for s1, got %d", len(got))
	}
	if got[0].Output != "Try Hades!" || got[0].Personality != "Friendly" || got[0].Duration != 1500*time.Millisecond {
		t.Errorf("first entry = %+v", got[0])
	}
	if !strings.Contains(got[0].InputJSON, "recommend a rogue-like") {
		t.Errorf("input not stored as JSON: %s", got[0].InputJSON)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if got[1].ErrorKind != "provider unavailable" || got[1].Error != "boom" {
		t.Errorf("error fields = %q / %q", got[1].ErrorKind, got[1].Error)
	}

	n, err := store.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Count() = %d, %v", n, err)
	}
}

func TestNop(t *testing.T) {
	if err := (audit.Nop{}).Record(context.Background(), audit.Entry{}); err != nil {
		t.Fatal(err)
	}
}

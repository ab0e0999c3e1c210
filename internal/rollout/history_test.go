package rollout

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestAppendHistory(t *testing.T) {
	dir := t.TempDir()

	if err := AppendHistory(dir, "sess-1", "first message"); err != nil {
		t.Fatalf("AppendHistory() error = %v", err)
	}
	if err := AppendHistory(dir, "sess-2", "second message"); err != nil {
		t.Fatalf("AppendHistory() error = %v", err)
	}

	path := filepath.Join(dir, "history.jsonl")
	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first HistoryEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("failed to parse first entry: %v", err)
	}
	if first.SessionID != "sess-1" || first.Text != "first message" {
		t.Errorf("first entry = %+v, want session sess-1 with first message", first)
	}
	if first.TS <= 0 {
		t.Errorf("first entry ts = %d, want a positive unix timestamp", first.TS)
	}

	var second HistoryEntry
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("failed to parse second entry: %v", err)
	}
	if second.SessionID != "sess-2" || second.Text != "second message" {
		t.Errorf("second entry = %+v, want session sess-2 with second message", second)
	}

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatalf("failed to stat history file: %v", err)
		}
		if fi.Mode().Perm() != 0o600 {
			t.Errorf("history file mode = %o, want 600", fi.Mode().Perm())
		}
	}
}

func TestAppendHistoryTightensMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "history.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("failed to pre-create history file: %v", err)
	}

	if err := AppendHistory(dir, "sess-1", "text"); err != nil {
		t.Fatalf("AppendHistory() error = %v", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat history file: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("history file mode = %o, want 600", fi.Mode().Perm())
	}
}

func TestAppendHistoryEntryJSON(t *testing.T) {
	got, err := json.Marshal(HistoryEntry{SessionID: "abc", TS: 1700000000, Text: "hi"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"session_id":"abc","ts":1700000000,"text":"hi"}`
	if string(got) != want {
		t.Errorf("Marshal() = %s, want %s", got, want)
	}
}

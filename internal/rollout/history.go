package rollout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// historyFilename stores one JSON object per line under the state dir.
const historyFilename = "history.jsonl"

// HistoryEntry is one line of history.jsonl.
type HistoryEntry struct {
	SessionID string `json:"session_id"`
	TS        int64  `json:"ts"`
	Text      string `json:"text"`
}

// AppendHistory appends a text entry for sessionID to history.jsonl under
// dir, creating the file with owner-only permissions. An exclusive advisory
// lock keeps concurrent processes from interleaving, and the prepared line is
// written with a single write call.
func AppendHistory(dir, sessionID, text string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("rollout: create state dir: %w", err)
	}
	path := filepath.Join(dir, historyFilename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("rollout: open history file: %w", err)
	}
	defer f.Close()

	if err := ensureOwnerOnly(f); err != nil {
		return err
	}
	if err := lockExclusive(f); err != nil {
		return err
	}
	defer unlockFile(f)

	entry := HistoryEntry{
		SessionID: sessionID,
		TS:        time.Now().Unix(),
		Text:      text,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("rollout: marshal history entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("rollout: write history entry: %w", err)
	}
	return nil
}

// ensureOwnerOnly tightens the history file to mode 0600 if an earlier
// process created it with a looser mask.
func ensureOwnerOnly(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("rollout: stat history file: %w", err)
	}
	if fi.Mode().Perm() == 0o600 {
		return nil
	}
	if err := f.Chmod(0o600); err != nil {
		return fmt.Errorf("rollout: chmod history file: %w", err)
	}
	return nil
}

// Package rollout persists session transcripts. A Recorder appends the
// items of one session to a JSONL file under <dir>/sessions so runs can be
// inspected or replayed later, and AppendHistory adds user messages to a
// shared history.jsonl guarded by an advisory file lock.
package rollout

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zhangyunhao116/agentrun/internal/gitmeta"
	"github.com/zhangyunhao116/agentrun/model"
)

// sessionsSubdir is the directory under the state dir that holds rollout files.
const sessionsSubdir = "sessions"

// queueSize is the capacity of the writer queue. Recording blocks when the
// queue is full, which only happens if the disk cannot keep up.
const queueSize = 256

// metaTimestampLayout formats session start times with millisecond
// precision. Timestamps are always UTC, so the trailing Z is literal.
const metaTimestampLayout = "2006-01-02T15:04:05.000Z"

// Meta is the first line of every rollout file.
type Meta struct {
	// ID is the session identifier, also embedded in the filename.
	ID string `json:"id"`

	// Timestamp is the session start time. NewRecorder fills it in.
	Timestamp string `json:"timestamp"`

	// Instructions are the user instructions the session started with.
	Instructions string `json:"instructions,omitempty"`

	// Git describes the repository state at session start, if any.
	Git *gitmeta.Info `json:"git,omitempty"`
}

// Recorder appends conversation items to a rollout file as JSON lines, one
// write per item. Writes happen on a background goroutine so recording never
// blocks a turn on disk I/O.
type Recorder struct {
	path   string
	queue  chan []byte
	done   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a rollout file named
// <dir>/sessions/rollout-YYYY-MM-DD-<id>.jsonl and writes meta as its first
// line. meta.Timestamp is set to the current time. The caller should treat
// errors as a reason to disable persistence, not to abort the session.
func NewRecorder(dir string, meta Meta, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sessions := filepath.Join(dir, sessionsSubdir)
	if err := os.MkdirAll(sessions, 0o700); err != nil {
		return nil, fmt.Errorf("rollout: create sessions dir: %w", err)
	}

	now := time.Now().UTC()
	meta.Timestamp = now.Format(metaTimestampLayout)
	path := filepath.Join(sessions, fmt.Sprintf("rollout-%s-%s.jsonl", now.Format("2006-01-02"), meta.ID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("rollout: open %s: %w", path, err)
	}

	r := &Recorder{
		path:   path,
		queue:  make(chan []byte, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.writeLoop(f)

	if err := r.record(meta); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the rollout file location.
func (r *Recorder) Path() string {
	return r.path
}

// Record queues items for appending to the rollout file. Only messages,
// function calls, and function call outputs are persisted; other item types
// are skipped.
func (r *Recorder) Record(items []model.Item) error {
	for _, it := range items {
		switch it.Type {
		case model.ItemTypeMessage, model.ItemTypeFunctionCall, model.ItemTypeFunctionCallOutput:
		default:
			continue
		}
		if err := r.record(it); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes queued items and stops the writer. It is safe to call more
// than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
	return nil
}

func (r *Recorder) record(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rollout: marshal item: %w", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("rollout: recorder closed")
	}
	select {
	case r.queue <- line:
		return nil
	case <-r.done:
		return errors.New("rollout: recorder stopped")
	}
}

// writeLoop owns the file handle. It exits when the queue is closed or a
// write fails; a failure is logged once and stops all further recording.
func (r *Recorder) writeLoop(f *os.File) {
	defer close(r.done)
	defer f.Close()
	for line := range r.queue {
		if _, err := f.Write(line); err != nil {
			r.logger.Warn("rollout writer failed", "path", r.path, "error", err)
			return
		}
	}
}

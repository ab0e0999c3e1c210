package model

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const unknownStr = "unknown"

// EventType identifies a streamed model event.
type EventType int

const (
	// EventCreated signals that the server accepted the request and
	// opened a response. It carries no payload.
	EventCreated EventType = iota

	// EventOutputItemDone carries one completed output item.
	EventOutputItemDone

	// EventCompleted terminates a successful stream. Its ResponseID, when
	// non-empty, chains the next turn onto the stored response.
	EventCompleted
)

// String returns the string representation of an EventType.
func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventOutputItemDone:
		return "output-item-done"
	case EventCompleted:
		return "completed"
	default:
		return unknownStr
	}
}

// StreamEvent is one event from a model response stream.
type StreamEvent struct {
	Type EventType

	// Item is set for EventOutputItemDone.
	Item *Item

	// ResponseID is set for EventCompleted when the server stored the
	// response. Empty for chat-completions streams.
	ResponseID string
}

// Stream delivers the events of a single model turn. Receive from
// Events() until it closes, then consult Err() for the terminal status:
// nil after a completed turn, non-nil when the stream failed. Close
// aborts the underlying transport; it is safe to call at any time and
// more than once.
type Stream struct {
	events chan StreamEvent
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		events: make(chan StreamEvent, 16),
		cancel: cancel,
	}
}

// Events returns the event channel. It is closed when the stream ends.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// Err reports why the stream ended. Call it only after Events() closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close aborts the stream's underlying request.
func (s *Stream) Close() {
	s.cancel()
}

// fail records the stream's terminal error.
func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// send delivers ev unless the consumer has gone away.
func (s *Stream) send(ctx context.Context, ev StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// startWatchdog arms a timer that aborts the stream when no data arrives
// within d. The returned flag records whether the timer fired, so the
// reader can distinguish an idle timeout from an ordinary cancellation.
func (s *Stream) startWatchdog(d time.Duration) (*time.Timer, *atomic.Bool) {
	fired := new(atomic.Bool)
	t := time.AfterFunc(d, func() {
		fired.Store(true)
		s.cancel()
	})
	return t, fired
}

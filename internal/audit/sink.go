// Package audit provides a fire-and-forget sink for execution events.
// Emitting never blocks the executor: events are buffered on a channel
// and written by a single background goroutine, and when the buffer is
// full the event is dropped and counted.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/pkg/schema"
)

const defaultBufferSize = 256

// Sink buffers audit events and persists them asynchronously.
type Sink struct {
	store  store.Store
	logger *slog.Logger

	events  chan *schema.Event
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewSink starts the background writer. bufferSize <= 0 takes the
// default.
func NewSink(s store.Store, bufferSize int, logger *slog.Logger) *Sink {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	sink := &Sink{
		store:  s,
		logger: logger,
		events: make(chan *schema.Event, bufferSize),
		done:   make(chan struct{}),
	}
	go sink.drain()
	return sink
}

// Emit queues an event for persistence. It never blocks; when the
// buffer is full the event is dropped and the drop counter incremented.
func (s *Sink) Emit(runID, stepID, eventType string, data map[string]any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	event := &schema.Event{
		RunID:     runID,
		StepID:    stepID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	select {
	case s.events <- event:
	default:
		n := s.dropped.Add(1)
		s.logger.Warn("audit buffer full, event dropped",
			"run", runID, "type", eventType, "dropped_total", n)
	}
}

// Dropped returns how many events were discarded because the buffer
// was full.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events, flushes the buffer, and waits for the
// writer to finish.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) drain() {
	defer close(s.done)
	for event := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.AppendEvent(ctx, event); err != nil {
			s.logger.Error("audit append failed",
				"run", event.RunID, "type", event.Type, "error", err)
		}
		cancel()
	}
}

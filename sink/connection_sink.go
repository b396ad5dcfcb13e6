package sink

import (
	"chat-hub/domain/event"
	"chat-hub/errors"
	"context"
	"sync"
)

// ConnectionSink buffers events for one live connection. Its writer drains Events
// in order; Consume never blocks.
type ConnectionSink struct {
	events chan event.Event
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
	reason error
}

func NewConnectionSink(bufferSize int) *ConnectionSink {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &ConnectionSink{
		events: make(chan event.Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// Consume enqueues e. A full buffer reports ErrSlowConsumer.
func (s *ConnectionSink) Consume(ctx context.Context, e event.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrSinkClosed
	}
	select {
	case s.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.ErrSlowConsumer
	}
}

// Events is read by the connection writer.
func (s *ConnectionSink) Events() <-chan event.Event {
	return s.events
}

// Done is closed once the sink is closed.
func (s *ConnectionSink) Done() <-chan struct{} {
	return s.done
}

// Close marks the sink closed and wakes the writer. Later calls are ignored.
func (s *ConnectionSink) Close(reason error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *ConnectionSink) Reason() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

func (s *ConnectionSink) Len() int { return len(s.events) }

package unifiedllm

import (
	"context"
	"sync"
)

// streamBufferSize is the channel capacity between a parser goroutine and
// its consumer.
const streamBufferSize = 1600

// ResponseStream delivers canonical events from a single request.
//
// The channel returned by Events is closed after the terminal event. Callers
// that stop reading early must call Close so the producer goroutine exits
// and releases the underlying connection.
type ResponseStream struct {
	events    <-chan ResponseEvent
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

// eventSender is the producer half of a ResponseStream.
type eventSender struct {
	ctx  context.Context
	ch   chan<- ResponseEvent
	done <-chan struct{}
}

func newResponseStream(ctx context.Context) (*ResponseStream, eventSender) {
	ch := make(chan ResponseEvent, streamBufferSize)
	s := &ResponseStream{events: ch, done: make(chan struct{})}
	return s, eventSender{ctx: ctx, ch: ch, done: s.done}
}

// send delivers ev unless the consumer has gone away. A false return means
// the producer must stop.
func (s eventSender) send(ev ResponseEvent) bool {
	select {
	case <-s.done:
		return false
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s eventSender) close() { close(s.ch) }

// Events returns the receive side of the stream.
func (s *ResponseStream) Events() <-chan ResponseEvent {
	return s.events
}

// Close signals the producer to stop. It is safe to call more than once.
func (s *ResponseStream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Collect drains the stream and returns every non-error event. The error
// carried by a terminal EventError is returned as err.
func (s *ResponseStream) Collect(ctx context.Context) ([]ResponseEvent, error) {
	defer s.Close()
	var events []ResponseEvent
	for {
		select {
		case <-ctx.Done():
			return events, ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				return events, nil
			}
			if ev.Type == EventError {
				return events, ev.Err
			}
			events = append(events, ev)
		}
	}
}

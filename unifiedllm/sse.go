package unifiedllm

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"
)

// sseEvent represents a single Server-Sent Event.
type sseEvent struct {
	Event string
	Data  string
}

// sseReader parses SSE streams from an io.Reader.
type sseReader struct {
	scanner *bufio.Scanner
}

// newSSEReader creates a new SSE parser with a 1 MiB line limit.
func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseReader{scanner: scanner}
}

// Next returns the next SSE event. Returns io.EOF when the stream ends.
// OpenAI-style "[DONE]" termination is returned as an event named "[DONE]".
func (r *sseReader) Next() (*sseEvent, error) {
	var event sseEvent
	var dataLines []string
	hasData := false

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		// Blank line = event boundary
		if line == "" {
			if hasData {
				event.Data = strings.Join(dataLines, "\n")
				return &event, nil
			}
			event = sseEvent{}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event.Event = value
		case "data":
			if value == "[DONE]" {
				return &sseEvent{Event: "[DONE]", Data: "[DONE]"}, nil
			}
			dataLines = append(dataLines, value)
			hasData = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if hasData {
		event.Data = strings.Join(dataLines, "\n")
		return &event, nil
	}
	return nil, io.EOF
}

// frame is one read result from the SSE goroutine.
type frame struct {
	event *sseEvent
	err   error
}

// frameReader races every SSE read against an idle timer. Reads run on a
// dedicated goroutine; on timeout or cancellation the body is closed so
// that goroutine unblocks and exits.
type frameReader struct {
	body   io.ReadCloser
	frames chan frame
	idle   time.Duration
	stop   chan struct{}
}

func newFrameReader(body io.ReadCloser, idle time.Duration) *frameReader {
	fr := &frameReader{
		body:   body,
		frames: make(chan frame),
		idle:   idle,
		stop:   make(chan struct{}),
	}
	go fr.run()
	return fr
}

func (fr *frameReader) run() {
	reader := newSSEReader(fr.body)
	for {
		ev, err := reader.Next()
		select {
		case fr.frames <- frame{event: ev, err: err}:
		case <-fr.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// idleTimeoutError is returned by next when no frame arrives in time.
func idleTimeoutError() error {
	return &TransportError{
		SDKError: SDKError{Message: "idle timeout waiting for SSE"},
		Kind:     TransportTimeout,
	}
}

// next returns the next event, io.EOF at end of stream, a timeout error if
// the idle duration passes first, or ctx.Err() / the done signal.
func (fr *frameReader) next(ctx context.Context, done <-chan struct{}) (*sseEvent, error) {
	timer := time.NewTimer(fr.idle)
	defer timer.Stop()
	select {
	case f := <-fr.frames:
		return f.event, f.err
	case <-timer.C:
		return nil, idleTimeoutError()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return nil, context.Canceled
	}
}

func (fr *frameReader) close() {
	close(fr.stop)
	fr.body.Close()
}

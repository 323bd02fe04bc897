package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sseBody renders named events as an SSE stream. Each pair is event name
// followed by a JSON-encodable payload.
func sseBody(t *testing.T, pairs ...interface{}) string {
	t.Helper()
	require.Equal(t, 0, len(pairs)%2, "sseBody wants name/payload pairs")
	var sb strings.Builder
	for i := 0; i < len(pairs); i += 2 {
		name := pairs[i].(string)
		var data string
		switch v := pairs[i+1].(type) {
		case string:
			data = v
		default:
			raw, err := json.Marshal(v)
			require.NoError(t, err)
			data = string(raw)
		}
		if name != "" {
			fmt.Fprintf(&sb, "event: %s\n", name)
		}
		fmt.Fprintf(&sb, "data: %s\n\n", data)
	}
	return sb.String()
}

// parseAll runs an adapter's parser over body and returns every event.
func parseAll(t *testing.T, a wireAdapter, body string) []ResponseEvent {
	t.Helper()
	return parseReader(t, a, io.NopCloser(strings.NewReader(body)), time.Second)
}

func parseReader(t *testing.T, a wireAdapter, body io.ReadCloser, idle time.Duration) []ResponseEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, out := newResponseStream(ctx)
	go a.parseStream(ctx, body, idle, out)

	var events []ResponseEvent
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []ResponseEvent) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

// doneItems returns the items of every OutputItemDone event.
func doneItems(events []ResponseEvent) []ResponseItem {
	var items []ResponseItem
	for _, ev := range events {
		if ev.Type == EventOutputItemDone && ev.Item != nil {
			items = append(items, *ev.Item)
		}
	}
	return items
}

func lastEvent(t *testing.T, events []ResponseEvent) ResponseEvent {
	t.Helper()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

// Package jsonl writes events as JSON lines to a stream, one object per
// line. The CLI uses it on stdout, which is reserved for the event stream.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/peerjakobsen/agentify-release/internal/domain/event"
)

// Writer implements eventsink.Sink over an io.Writer.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriter creates a sink writing to out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Emit writes the event as one JSON line.
func (w *Writer) Emit(_ context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

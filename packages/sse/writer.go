package sse

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Event types used for run streams.
const (
	EventResult = "result"
	EventDone   = "done"
)

// Event represents a single SSE event.
type Event struct {
	ID    string
	Type  string
	Data  string
	Retry int
}

// ErrNoFlush is returned when the response writer cannot stream.
var ErrNoFlush = errors.New("response writer does not support flushing")

// Writer writes events to an HTTP response, flushing after each one.
type Writer struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewWriter sets the event-stream headers and sends them.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlush
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &Writer{w: w, f: f}, nil
}

// Send writes one event. Multi-line data is split over several data
// fields.
func (sw *Writer) Send(ev Event) error {
	var b strings.Builder
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	if ev.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", ev.Retry)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')

	if _, err := sw.w.Write([]byte(b.String())); err != nil {
		return err
	}
	sw.f.Flush()
	return nil
}

// Comment writes a comment line, typically as a keep-alive.
func (sw *Writer) Comment(text string) error {
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err != nil {
		return err
	}
	sw.f.Flush()
	return nil
}

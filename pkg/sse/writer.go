// Package sse provides Server-Sent Events (SSE) utilities for HTTP streaming responses.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// LastEventIDHeader is sent by browsers when an EventSource reconnects.
const LastEventIDHeader = "Last-Event-ID"

var (
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("SSE writer is closed")
	// ErrNotFlushable is returned by Start when the response cannot stream.
	ErrNotFlushable = errors.New("streaming not supported")
)

// Event is one SSE message. Empty fields are omitted from the stream.
type Event struct {
	ID    string
	Name  string
	Data  any
	Retry time.Duration
}

// Writer provides a convenient way to write SSE events to an HTTP response.
// It handles header setup, JSON serialization, and flushing.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	started bool
	closed  bool
}

// NewWriter creates a new SSE writer from an http.ResponseWriter.
// It does not set headers or flush - call Start() to begin streaming.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{
		w:       w,
		flusher: flusher,
	}
}

// Start sets the SSE headers and flushes them to the client.
// This should be called after request validation is complete.
func (s *Writer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.flusher == nil {
		return ErrNotFlushable
	}

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()

	s.started = true
	return nil
}

// Write writes one event.
// Format: id: {id}\nevent: {name}\nretry: {ms}\ndata: {json}\n\n
func (s *Writer) Write(ev Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}

	var b strings.Builder
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Name != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Name)
	}
	if ev.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", ev.Retry.Milliseconds())
	}
	fmt.Fprintf(&b, "data: %s\n\n", payload)

	return s.emit(b.String())
}

// WriteEvent writes a named event with JSON data.
func (s *Writer) WriteEvent(eventName string, data any) error {
	return s.Write(Event{Name: eventName, Data: data})
}

// WriteComment writes an SSE comment (used for keep-alive).
// Format: : {comment}\n\n
func (s *Writer) WriteComment(comment string) error {
	return s.emit(": " + comment + "\n\n")
}

func (s *Writer) emit(chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := fmt.Fprint(s.w, chunk); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Close marks the writer as closed. No more writes will be accepted.
func (s *Writer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// IsClosed returns whether the writer has been closed.
func (s *Writer) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

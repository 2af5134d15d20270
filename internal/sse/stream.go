// Package sse implements the generation event stream: one JSON object per
// "data:" frame, in the order connected, status, chunk, final, complete,
// error, end.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/model"
)

// ContentType is the content type for SSE responses.
const ContentType = "text/event-stream"

// Event types.
const (
	TypeConnected = "connected"
	TypeStatus    = "status"
	TypeChunk     = "chunk"
	TypeFinal     = "final"
	TypeComplete  = "complete"
	TypeError     = "error"
	TypeEnd       = "end"
)

// ErrClosed is returned by writes after End or a failed write.
var ErrClosed = errors.New("sse: stream closed")

// Stream writes events to one response. It is safe for concurrent use;
// the keepalive goroutine and the request goroutine share it.
type Stream struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	flusher  http.Flusher
	id       string
	closed   bool
	stopKeep chan struct{}
	now      func() time.Time
}

// Open sets the SSE headers, commits a 200 status, and sends the
// connected event. After Open the status code can no longer change.
func Open(c echo.Context) (*Stream, error) {
	res := c.Response()
	h := res.Header()
	h.Set(echo.HeaderContentType, ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable Nginx buffering
	res.WriteHeader(http.StatusOK)

	s := &Stream{w: res, flusher: res, id: uuid.NewString(), now: time.Now}
	if err := s.send(TypeConnected, map[string]any{"streamId": s.id}); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the stream identifier sent in the connected event.
func (s *Stream) ID() string { return s.id }

// Closed reports whether further writes will be dropped.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) send(typ string, fields map[string]any) error {
	ev := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		ev[k] = v
	}
	ev["type"] = typ
	ev["timestamp"] = s.now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sse: encode %s event: %w", typ, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write("data: " + string(payload) + "\n\n")
}

// write requires s.mu.
func (s *Stream) write(frame string) error {
	if s.closed {
		return ErrClosed
	}
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		s.closed = true
		return err
	}
	s.flusher.Flush()
	return nil
}

// Status reports pipeline progress.
func (s *Stream) Status(message string, extra map[string]any) error {
	fields := map[string]any{"message": message}
	for k, v := range extra {
		fields[k] = v
	}
	return s.send(TypeStatus, fields)
}

// Chunk forwards one upstream text fragment.
func (s *Stream) Chunk(content string) error {
	return s.send(TypeChunk, map[string]any{"content": content})
}

// Final sends the parsed result and the caller's usage.
func (s *Stream) Final(result any, usage model.UsageSnapshot, extra map[string]any) error {
	fields := map[string]any{"result": result, "usage": usage}
	for k, v := range extra {
		fields[k] = v
	}
	return s.send(TypeFinal, fields)
}

// Complete marks successful completion.
func (s *Stream) Complete() error {
	return s.send(TypeComplete, nil)
}

// Error sends err using the same body shape as JSON error responses.
func (s *Stream) Error(err error, devMode bool) error {
	return s.send(TypeError, apperror.Body(err, devMode))
}

// End sends the end marker, stops the keepalive, and closes the stream.
// It is idempotent.
func (s *Stream) End() {
	if !s.Closed() {
		_ = s.send(TypeEnd, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.stopKeep != nil {
		close(s.stopKeep)
		s.stopKeep = nil
	}
}

// KeepAlive writes a comment frame every interval until End. Comments are
// ignored by SSE clients and keep idle proxies from closing the connection.
func (s *Stream) KeepAlive(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	if s.closed || s.stopKeep != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stopKeep = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				err := s.write(": keepalive\n\n")
				s.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseWriteTimeout bounds a single SSE write so a stalled client
// cannot pin the handler goroutine forever.
const sseWriteTimeout = 3 * time.Second

// SSEStream wraps a ResponseWriter for server-sent events.
type SSEStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSEStream prepares w for event streaming. Returns an error if
// the underlying writer does not support flushing. The headers must
// be in place before the first flush commits the response.
func NewSSEStream(w http.ResponseWriter) (*SSEStream, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("streaming unsupported: %w", err)
	}
	return &SSEStream{w: w, rc: rc}, nil
}

// SendJSON marshals v and sends it as a named event.
func (s *SSEStream) SendJSON(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}
	return s.send(event, data)
}

// SendComment emits an SSE comment line, used as a heartbeat.
func (s *SSEStream) SendComment(text string) error {
	if err := s.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *SSEStream) send(event string, data []byte) error {
	if err := s.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter frames the pipeline's output as Server-Sent Events. The
// grammar is fixed for client interoperability:
//
//	data: "<json-string-fragment>"\n\n    one per content fragment
//	event: end\ndata: {}\n\n              success terminal
//	event: error\ndata: {"error":"..."}\n\n  failure terminal
//
// Fragments are JSON-encoded strings, so embedded newlines never split a
// frame.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeFragment emits one content fragment frame.
func (s *sseWriter) writeFragment(text string) error {
	data, err := json.Marshal(text)
	if err != nil {
		return fmt.Errorf("encode fragment: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write fragment: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// writeEnd emits the success terminal frame.
func (s *sseWriter) writeEnd() error {
	if _, err := fmt.Fprint(s.w, "event: end\ndata: {}\n\n"); err != nil {
		return fmt.Errorf("write end frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// writeError emits the failure terminal frame.
func (s *sseWriter) writeError(message string) error {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return fmt.Errorf("encode error frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: error\ndata: %s\n\n", data); err != nil {
		return fmt.Errorf("write error frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

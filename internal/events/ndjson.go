package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// NDJSONSink writes each event as one JSON line, flushing after every write
// when the underlying writer supports it. Safe for serial use by a single
// pipeline; the mutex covers the sweeper/processor handoff in tests.
type NDJSONSink struct {
	mu     sync.Mutex
	w      io.Writer
	enc    *json.Encoder
	logger *slog.Logger
}

// NewNDJSONSink wraps w as an event sink.
func NewNDJSONSink(w io.Writer, logger *slog.Logger) *NDJSONSink {
	return &NDJSONSink{w: w, enc: json.NewEncoder(w), logger: logger}
}

// Accept implements Sink. Write failures are logged, never propagated; a
// disconnected client is surfaced to the pipeline through context
// cancellation, not through the sink.
func (s *NDJSONSink) Accept(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(event); err != nil {
		s.logger.Debug("event write failed", "event_type", event.Type(), "error", err)
		return
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

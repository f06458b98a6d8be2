package events

import (
	"log/slog"
	"sync"
)

// Event is one frame delivered to the caller's sink. Frames from the AI
// stream pass through unchanged; the processor adds its own lifecycle frames
// in the same shape (a "type" field plus type-specific payload).
type Event map[string]interface{}

// Type returns the event's "type" field, or "" when absent.
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Completion statuses carried by the terminal "completed" event.
const (
	StatusSuccess   = "SUCCESS"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Sink consumes events from a single pipeline. The processor invokes Accept
// serially from its own goroutine; implementations must not panic back into
// the processor.
type Sink interface {
	Accept(event Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Accept implements Sink.
func (f SinkFunc) Accept(event Event) {
	f(event)
}

// Discard is a sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Guard wraps a sink so panics from the underlying implementation are logged
// and swallowed instead of unwinding into the pipeline.
func Guard(sink Sink, logger *slog.Logger) Sink {
	if sink == nil {
		return Discard
	}
	return SinkFunc(func(e Event) {
		defer func() {
			if r := recover(); r != nil {
				logger.Warn("event sink panicked", "event_type", e.Type(), "panic", r)
			}
		}()
		sink.Accept(e)
	})
}

// Started is the first event of every pipeline run.
func Started(correlationID string, analysisType string) Event {
	return Event{
		"type":           "analysis_started",
		"correlation_id": correlationID,
		"analysis_type":  analysisType,
	}
}

// Status is an informational state transition.
func Status(state, message string) Event {
	return Event{"type": "status", "state": state, "message": message}
}

// Progress reports processed/total counts.
func Progress(processed, total int) Event {
	return Event{"type": "progress", "processed": processed, "total": total}
}

// Warning is a non-fatal condition surfaced to the caller.
func Warning(message string) Event {
	return Event{"type": "warning", "message": message}
}

// Completed is the single terminal event of a pipeline run.
func Completed(status, message string, issuesFound, filesAnalyzed int) Event {
	return Event{
		"type":           "completed",
		"status":         status,
		"message":        message,
		"issues_found":   issuesFound,
		"files_analyzed": filesAnalyzed,
	}
}

// LockWaiting is emitted on each lock acquisition retry.
func LockWaiting(branch string, analysisType string, attempt int) Event {
	return Event{
		"type":          "lock_waiting",
		"branch":        branch,
		"analysis_type": analysisType,
		"attempt":       attempt,
	}
}

// Collector is an in-memory sink for tests.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Accept implements Sink.
func (c *Collector) Accept(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns a snapshot of everything accepted so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// OfType returns the collected events with the given type field.
func (c *Collector) OfType(eventType string) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Type() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event, or nil.
func (c *Collector) Last() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rostilos/codecrow/internal/models"
)

// Kind categorises a pipeline failure. The propagation policy is per kind:
// primary steps surface and abort, side effects recover locally.
type Kind int

const (
	// KindInvalidRequest - malformed request, rejected at the boundary.
	KindInvalidRequest Kind = iota
	// KindLockContention - could not acquire within the wait window.
	KindLockContention
	// KindUpstreamVcs - VCS call failed after retries.
	KindUpstreamVcs
	// KindUpstreamAi - AI stream failed or ended without a terminal event.
	KindUpstreamAi
	// KindPersistence - database failure; pipeline aborts.
	KindPersistence
	// KindCancelled - context cancellation observed at an I/O boundary.
	KindCancelled
	// KindPostReport - posting results to the provider failed; non-fatal.
	KindPostReport
	// KindRag - retrieval-indexer failure; non-fatal.
	KindRag
	// KindProtocolMismatch - AI returned an unparseable issues field.
	KindProtocolMismatch
	// KindInternal - unexpected internal state.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "INVALID_REQUEST"
	case KindLockContention:
		return "LOCK_CONTENTION"
	case KindUpstreamVcs:
		return "UPSTREAM_VCS"
	case KindUpstreamAi:
		return "UPSTREAM_AI"
	case KindPersistence:
		return "PERSISTENCE"
	case KindCancelled:
		return "CANCELLED"
	case KindPostReport:
		return "POST_REPORT"
	case KindRag:
		return "RAG"
	case KindProtocolMismatch:
		return "PROTOCOL_MISMATCH"
	default:
		return "INTERNAL"
	}
}

// Error is a structured pipeline error with kind and key/value context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind so callers can test with errors.Is(err, &Error{Kind: ...}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext attaches a key/value pair to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Fatal reports whether the pipeline must abort on this error.
// Side-effect kinds are recovered locally.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindPostReport, KindRag, KindProtocolMismatch:
		return false
	}
	return true
}

// DetailedString renders the error with its context for log output.
func (e *Error) DetailedString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Kind, e.Message))
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (caused by: %v)", e.Cause))
	}
	for k, v := range e.Context {
		sb.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	return sb.String()
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Context: make(map[string]interface{})}
}

// Newf creates an error of the given kind with formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error. Returns nil when err is nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err, Context: make(map[string]interface{})}
}

// Wrapf wraps an existing error with formatting.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *Error {
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// Convenience constructors.

func InvalidRequest(message string) *Error {
	return New(KindInvalidRequest, message)
}

func InvalidRequestf(format string, args ...interface{}) *Error {
	return Newf(KindInvalidRequest, format, args...)
}

func UpstreamVcs(err error, message string) *Error {
	return Wrap(err, KindUpstreamVcs, message)
}

func UpstreamAi(err error, message string) *Error {
	return Wrap(err, KindUpstreamAi, message)
}

func Persistence(err error, message string) *Error {
	return Wrap(err, KindPersistence, message)
}

func Cancelled(err error) *Error {
	return Wrap(err, KindCancelled, "cancelled")
}

func ProtocolMismatch(message string) *Error {
	return New(KindProtocolMismatch, message)
}

// LockedError is raised when a pipeline cannot acquire its analysis lock.
type LockedError struct {
	ProjectID    int64
	BranchName   string
	AnalysisType models.AnalysisType
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("analysis locked: type=%s branch=%s project=%d",
		e.AnalysisType, e.BranchName, e.ProjectID)
}

// IsLocked reports whether err is (or wraps) a LockedError.
func IsLocked(err error) bool {
	var le *LockedError
	return errors.As(err, &le)
}

// KindOf extracts the kind from err, defaulting to KindInternal for foreign
// errors and KindCancelled for context cancellation.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if IsLocked(err) {
		return KindLockContention
	}
	return KindInternal
}

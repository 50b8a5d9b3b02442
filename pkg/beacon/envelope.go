// envelope.go defines the normalized error/message record sent to the collector.

package beacon

import "time"

// Level indicates the severity of an envelope.
type Level string

const (
	// LevelError indicates a failure the host could not complete an operation through.
	LevelError Level = "error"

	// LevelWarning indicates a non-fatal issue that may need attention.
	LevelWarning Level = "warning"

	// LevelInfo indicates an informational message.
	LevelInfo Level = "info"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelError, LevelWarning, LevelInfo:
		return true
	}
	return false
}

// EventEnvelope is one captured error or message. It is built by
// EnvelopeBuilder and never modified afterwards.
type EventEnvelope struct {
	// ID is a unique identifier for this envelope (UUID).
	ID string `json:"id"`

	// Timestamp is when the event was captured.
	Timestamp time.Time `json:"timestamp"`

	// Message is the human-readable error or message text.
	Message string `json:"message"`

	// Stack is the optional scrubbed stack trace.
	Stack string `json:"stack,omitempty"`

	Level Level `json:"level"`

	// Platform is the tag of the adapter active when the event was built.
	Platform string `json:"platform"`

	// ErrorType is the Go type of the captured error, empty for messages.
	ErrorType string `json:"errorType,omitempty"`

	// Fingerprint groups envelopes describing the same failure.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Context is the adapter's ambient context snapshot.
	Context map[string]any `json:"context"`

	// Extra holds caller-supplied fields.
	Extra map[string]any `json:"extra"`

	// Session is a snapshot of the session at capture time.
	Session Session `json:"session"`
}

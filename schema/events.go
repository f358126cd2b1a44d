package schema

// TerminalEventType is the tag of a TerminalEvent.
type TerminalEventType string

const (
	// EventStatus carries progress notes (boot, sync, install phases).
	EventStatus TerminalEventType = "status"
	// EventOutput carries decoded process output.
	EventOutput TerminalEventType = "output"
	// EventError carries a user-facing error description.
	EventError TerminalEventType = "error"
	// EventExit terminates the stream; exactly one per execution.
	EventExit TerminalEventType = "exit"
)

// TerminalEvent is one entry in an execution's event stream. A stream is any
// number of status/output/error events followed by exactly one exit event.
type TerminalEvent struct {
	Type       TerminalEventType `json:"type"`
	Text       string            `json:"text,omitempty"`
	ExitCode   int               `json:"exit_code,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	TimedOut   bool              `json:"timed_out,omitempty"`
	Canceled   bool              `json:"canceled,omitempty"`
}

// StatusEvent builds a status event.
func StatusEvent(text string) TerminalEvent {
	return TerminalEvent{Type: EventStatus, Text: text}
}

// OutputEvent builds an output event.
func OutputEvent(text string) TerminalEvent {
	return TerminalEvent{Type: EventOutput, Text: text}
}

// ErrorEvent builds an error event.
func ErrorEvent(text string) TerminalEvent {
	return TerminalEvent{Type: EventError, Text: text}
}

// ExitEvent builds the terminal exit event.
func ExitEvent(code int, durationMs int64, timedOut, canceled bool) TerminalEvent {
	return TerminalEvent{Type: EventExit, ExitCode: code, DurationMs: durationMs, TimedOut: timedOut, Canceled: canceled}
}

package protocol

import (
	"encoding/json"
	"strings"
)

// Kind tags the variant held by an Event.
type Kind int

const (
	KindStdout Kind = iota
	KindStderr
	KindWaiting
	KindExited
	KindTimedOut
	KindCompileFailed
)

func (k Kind) String() string {
	switch k {
	case KindStdout:
		return "stdout"
	case KindStderr:
		return "stderr"
	case KindWaiting:
		return "waiting"
	case KindExited:
		return "exited"
	case KindTimedOut:
		return "timed_out"
	case KindCompileFailed:
		return "compile_failed"
	default:
		return "unknown"
	}
}

// Exit messages shown to the end user.
const (
	MessageSucceeded = "Code executed successfully"
	MessageFailed    = "Execution failed with an error."
	MessageTimedOut  = "Execution timed out"
)

// Event is one unit of a run's output stream.
type Event struct {
	Kind        Kind
	Data        string
	Waiting     bool
	Code        int
	Diagnostics []Diagnostic
}

func StdoutChunk(b []byte) Event   { return Event{Kind: KindStdout, Data: string(b)} }
func StderrChunk(b []byte) Event   { return Event{Kind: KindStderr, Data: string(b)} }
func WaitingForInput(w bool) Event { return Event{Kind: KindWaiting, Waiting: w} }
func Exited(code int) Event        { return Event{Kind: KindExited, Code: code} }
func TimedOut() Event              { return Event{Kind: KindTimedOut} }

// CompileFailed carries cleaned compiler output to the stream.
func CompileFailed(output string, diags []Diagnostic) Event {
	return Event{Kind: KindCompileFailed, Data: output, Diagnostics: diags}
}

// Terminal reports whether no further events follow for the run.
func (e Event) Terminal() bool {
	return e.Kind == KindExited || e.Kind == KindCompileFailed
}

// Outbound converts the event to its wire frame.
func (e Event) Outbound() Outbound {
	switch e.Kind {
	case KindStdout, KindStderr:
		return Outbound{Output: e.Data, Stream: e.Kind.String()}
	case KindWaiting:
		w := e.Waiting
		return Outbound{IsWaitingForInput: &w}
	case KindExited:
		code := e.Code
		msg := MessageSucceeded
		if code != 0 {
			msg = MessageFailed
		}
		return Outbound{Message: msg, ExitCode: &code}
	case KindTimedOut:
		return Outbound{Message: MessageTimedOut, TimedOut: true}
	case KindCompileFailed:
		return Outbound{
			Message:     "ERROR:\n" + strings.TrimSpace(e.Data),
			Diagnostics: e.Diagnostics,
		}
	}
	return Outbound{}
}

// Encode marshals the event's wire frame.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e.Outbound())
}

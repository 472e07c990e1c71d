package protocol

import (
	"encoding/json"
	"fmt"
)

// Client → server frame types.
const (
	TypeInput = "input"
	TypePing  = "ping"
)

// Handshake is the first frame written on a new connection. It carries the
// session id the client must quote on every run request.
type Handshake struct {
	UserID string `json:"userId"`
}

// Inbound is a frame received from the client over the persistent connection.
type Inbound struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// Diagnostic is one compiler message, with workspace paths already removed.
type Diagnostic struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// Outbound is the wire form of every server → client stream frame.
type Outbound struct {
	Output            string       `json:"output,omitempty"`
	Stream            string       `json:"stream,omitempty"`
	IsWaitingForInput *bool        `json:"isWaitingForInput,omitempty"`
	Message           string       `json:"message,omitempty"`
	ExitCode          *int         `json:"exitCode,omitempty"`
	TimedOut          bool         `json:"timedOut,omitempty"`
	Diagnostics       []Diagnostic `json:"diagnostics,omitempty"`
	Error             bool         `json:"error,omitempty"`
}

// ParseInbound decodes and validates a raw client frame.
func ParseInbound(raw []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch msg.Type {
	case "":
		return nil, fmt.Errorf("missing 'type' field")
	case TypeInput, TypePing:
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// ErrorFrame builds a frame reporting a rejected client message.
func ErrorFrame(message string) Outbound {
	return Outbound{Message: message, Error: true}
}

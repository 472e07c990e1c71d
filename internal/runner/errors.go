package runner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBusy is returned under the Reject policy when the session already has
// a running program.
var ErrBusy = errors.New("a program is already running for this session")

// SpawnError means the runtime could not be launched at all. It is distinct
// from a program that starts and exits nonzero.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting %s: %v", strings.Join(e.Command, " "), e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Policy decides what happens when a run is requested while another one is
// still active in the same session.
type Policy int

const (
	// Supersede kills the running program and starts the new one.
	Supersede Policy = iota
	// Reject refuses the new run with ErrBusy.
	Reject
)

func (p Policy) String() string {
	if p == Reject {
		return "reject"
	}
	return "supersede"
}

// ParsePolicy parses "supersede" or "reject".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "supersede":
		return Supersede, nil
	case "reject":
		return Reject, nil
	}
	return Supersede, fmt.Errorf("unknown run policy %q", s)
}

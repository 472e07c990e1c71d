package session

import (
	"sync"
	"time"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

// Conn delivers outbound events to the client that owns a session.
type Conn interface {
	Send(ev protocol.Event) error
	// Close is called once the session is torn down; the client must
	// reconnect to get a new one.
	Close() error
}

// Process is the child process a session is currently running.
type Process interface {
	// Kill stops event delivery before returning; the OS process may exit later.
	Kill()
	WriteInput(line string) error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed.
	ExitCode() int
}

// Session binds one client connection to its workspace and current process.
// All fields after mu are mutated only through the Registry or the engine
// while holding mu.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	conn       Conn
	workspace  string
	proc       Process
	lastActive time.Time
	closed     bool

	// pipeline serializes build→run for the session.
	pipeline sync.Mutex
}

// Conn returns the client connection, or nil once detached.
func (s *Session) Conn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Workspace returns the session directory, or "" before the first write.
func (s *Session) Workspace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspace
}

// LastActive is zero for a session that has never sent anything.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Process returns the active child process, if any.
func (s *Session) Process() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// BeginPipeline blocks until no other build→run is in progress for the
// session and returns the release function.
func (s *Session) BeginPipeline() func() {
	s.pipeline.Lock()
	return s.pipeline.Unlock
}

// SetProcess installs p as the active process and returns the one it
// replaced. It fails with ErrNotFound if the session is already torn down.
func (s *Session) SetProcess(p Process) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNotFound
	}
	prev := s.proc
	s.proc = p
	return prev, nil
}

// TakeProcess detaches and returns the active process, if any.
func (s *Session) TakeProcess() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc := s.proc
	s.proc = nil
	return proc
}

// ClearProcess removes p if it is still the active process.
func (s *Session) ClearProcess(p Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != p {
		return false
	}
	s.proc = nil
	return true
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// idleSince treats a session that was never active as idle since creation.
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastActive.IsZero() {
		return s.CreatedAt
	}
	return s.lastActive
}

// close marks the session dead and hands back what teardown must release.
func (s *Session) close() (Process, Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	proc := s.proc
	s.proc = nil
	return proc, conn
}

// Info is a point-in-time view of a session for listings.
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	Connected    bool      `json:"connected"`
	Running      bool      `json:"running"`
	HasWorkspace bool      `json:"has_workspace"`
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastActive:   s.lastActive,
		Connected:    s.conn != nil,
		Running:      s.proc != nil,
		HasWorkspace: s.workspace != "",
	}
}

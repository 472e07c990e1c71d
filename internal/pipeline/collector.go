package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

// Collector is a session connection that buffers events in memory. It is
// what non-WebSocket callers attach to a session.
type Collector struct {
	mu     sync.Mutex
	events []protocol.Event
	done   chan struct{}
	once   sync.Once
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{done: make(chan struct{})}
}

func (c *Collector) Send(ev protocol.Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()

	if ev.Terminal() {
		c.once.Do(func() { close(c.done) })
	}
	return nil
}

// Close marks the collector finished; a torn-down session sends nothing more.
func (c *Collector) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Done is closed after the first terminal event or Close.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Events returns a copy of everything received so far.
func (c *Collector) Events() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Event(nil), c.events...)
}

// Transcript is the collected result of a one-shot run.
type Transcript struct {
	RunID       string                `json:"run_id"`
	Stdout      string                `json:"stdout"`
	Stderr      string                `json:"stderr"`
	ExitCode    *int                  `json:"exit_code,omitempty"`
	TimedOut    bool                  `json:"timed_out,omitempty"`
	Diagnostics []protocol.Diagnostic `json:"diagnostics,omitempty"`
	CompileLog  string                `json:"compile_log,omitempty"`
}

// Succeeded reports a clean exit with status 0.
func (t *Transcript) Succeeded() bool {
	return t.ExitCode != nil && *t.ExitCode == 0 && !t.TimedOut
}

func transcriptFrom(runID string, events []protocol.Event) *Transcript {
	t := &Transcript{RunID: runID}
	var out, errOut strings.Builder
	for _, ev := range events {
		switch ev.Kind {
		case protocol.KindStdout:
			out.WriteString(ev.Data)
		case protocol.KindStderr:
			errOut.WriteString(ev.Data)
		case protocol.KindTimedOut:
			t.TimedOut = true
		case protocol.KindExited:
			code := ev.Code
			t.ExitCode = &code
		case protocol.KindCompileFailed:
			t.CompileLog = ev.Data
			t.Diagnostics = ev.Diagnostics
		}
	}
	t.Stdout = out.String()
	t.Stderr = errOut.String()
	return t
}

// Execute runs files in a throwaway session, feeds stdin lines to the
// program, and waits for it to finish or for ctx to end. The session is
// destroyed before returning.
func (p *Pipeline) Execute(ctx context.Context, files []protocol.SourceFile, stdin []string) (*Transcript, error) {
	conn := NewCollector()
	id, err := p.sessions.Create(conn)
	if err != nil {
		return nil, err
	}
	defer p.sessions.Destroy(id)

	out, err := p.Submit(ctx, &protocol.RunRequest{SessionID: id, Files: files})
	if err != nil {
		return nil, err
	}
	if out.CompileFailed() {
		return transcriptFrom(out.RunID, conn.Events()), nil
	}

	for _, line := range stdin {
		// The program may exit before reading everything it was given.
		if _, err := p.sessions.Input(id, line); err != nil {
			p.log.Debug().Err(err).Str("session", id).Msg("stdin not delivered")
			break
		}
	}

	select {
	case <-conn.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return transcriptFrom(out.RunID, conn.Events()), nil
}

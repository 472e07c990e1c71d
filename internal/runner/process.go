package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/metrics"
	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
	"github.com/Kintoyyy/codeshum-backend/internal/session"
)

const chunkSize = 4096

// Process is one running user program attached to a session.
type Process struct {
	id       string
	sess     *session.Session
	cmd      *exec.Cmd
	log      zerolog.Logger
	classify Classifier
	started  time.Time
	onExit   []func(*Process)

	// mu serializes delivery to the session connection. Once stopped is set
	// nothing more from this process reaches the client.
	mu      sync.Mutex
	stopped bool
	waiting bool

	inMu  sync.Mutex
	stdin io.WriteCloser

	killMu   sync.Mutex
	exited   bool
	killed   bool
	timedOut bool

	timer *time.Timer
	done  chan struct{}
	code  int
}

// ID returns the run id the process was started for.
func (p *Process) ID() string { return p.id }

// StartedAt returns the spawn time.
func (p *Process) StartedAt() time.Time { return p.started }

// Done is closed after the process has exited and its final events were sent.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode is valid after Done is closed.
func (p *Process) ExitCode() int {
	<-p.done
	return p.code
}

// TimedOut reports whether the execution deadline fired.
func (p *Process) TimedOut() bool {
	p.killMu.Lock()
	defer p.killMu.Unlock()
	return p.timedOut
}

// Killed reports whether the process was terminated by Kill or the deadline
// rather than exiting on its own.
func (p *Process) Killed() bool {
	p.killMu.Lock()
	defer p.killMu.Unlock()
	return p.killed
}

// Kill stops event delivery immediately and terminates the process group.
// It is safe to call any number of times, including after exit.
func (p *Process) Kill() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.terminate(false)
}

// WriteInput sends one line to the program's stdin.
func (p *Process) WriteInput(line string) error {
	p.inMu.Lock()
	defer p.inMu.Unlock()

	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return fmt.Errorf("writing to stdin: %w", err)
	}
	return nil
}

// terminate kills the group at most once and never after the child was reaped.
func (p *Process) terminate(deadline bool) bool {
	p.killMu.Lock()
	defer p.killMu.Unlock()

	if p.exited || p.killed {
		return false
	}
	p.killed = true
	p.timedOut = deadline

	if err := killProcessGroup(p.cmd); err != nil {
		p.log.Warn().Err(err).Msg("failed to kill process group")
	}
	return true
}

func (p *Process) expire() {
	if p.terminate(true) {
		p.log.Info().Msg("execution deadline reached, process killed")
	}
}

func (p *Process) pump(r io.Reader, kind protocol.Kind, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.deliver(kind, buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.log.Debug().Err(err).Str("stream", kind.String()).Msg("pipe read error")
			}
			return
		}
	}
}

func (p *Process) deliver(kind protocol.Kind, chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}

	ev := protocol.StdoutChunk(chunk)
	if kind == protocol.KindStderr {
		ev = protocol.StderrChunk(chunk)
	}
	p.send(ev)

	waiting := kind == protocol.KindStdout && p.classify(string(chunk))
	if waiting != p.waiting {
		p.waiting = waiting
		p.send(protocol.WaitingForInput(waiting))
	}
}

func (p *Process) emit(ev protocol.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.stopped {
		p.send(ev)
	}
}

// send requires p.mu. A detached session drops output; it does not kill.
func (p *Process) send(ev protocol.Event) {
	conn := p.sess.Conn()
	if conn == nil {
		return
	}
	if err := conn.Send(ev); err != nil {
		p.log.Debug().Err(err).Str("event", ev.Kind.String()).Msg("dropping event")
	}
}

func (p *Process) wait(readers *sync.WaitGroup) {
	readers.Wait()
	err := p.cmd.Wait()

	p.killMu.Lock()
	p.exited = true
	timedOut := p.timedOut
	p.killMu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}

	p.code = exitCode(err)
	if timedOut {
		p.emit(protocol.TimedOut())
	}
	p.emit(protocol.Exited(p.code))

	p.sess.ClearProcess(p)
	metrics.RunningProcesses.Dec()

	p.log.Info().
		Int("exit_code", p.code).
		Bool("timed_out", timedOut).
		Dur("elapsed", time.Since(p.started)).
		Msg("process exited")

	close(p.done)
	for _, fn := range p.onExit {
		fn(p)
	}
}

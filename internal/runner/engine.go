package runner

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/metrics"
	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
	"github.com/Kintoyyy/codeshum-backend/internal/session"
	"github.com/Kintoyyy/codeshum-backend/internal/toolchain"
)

// Engine spawns compiled programs and relays their output to sessions.
type Engine struct {
	tc       *toolchain.Toolchain
	log      zerolog.Logger
	timeout  time.Duration
	policy   Policy
	classify Classifier

	mu     sync.Mutex
	onExit []func(*Process)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout sets the execution deadline; zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithPolicy sets what happens to a run requested while another is active.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithClassifier swaps the waiting-for-input heuristic.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classify = c }
}

// New creates an engine that runs programs with tc.
func New(tc *toolchain.Toolchain, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		tc:       tc,
		log:      log.With().Str("component", "runner").Logger(),
		classify: PromptClassifier(nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnExit registers fn to run after every process the engine starts has
// exited and delivered its final event.
func (e *Engine) OnExit(fn func(*Process)) {
	e.mu.Lock()
	e.onExit = append(e.onExit, fn)
	e.mu.Unlock()
}

// Policy returns the configured concurrent-run policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Run starts mainFile from the session's workspace. It returns as soon as the
// process is spawned; output arrives on the session connection.
func (e *Engine) Run(sess *session.Session, mainFile, runID string) (*Process, error) {
	dir := sess.Workspace()
	if dir == "" {
		return nil, fmt.Errorf("session %s has no workspace", sess.ID)
	}

	if prev := sess.Process(); prev != nil {
		if e.policy == Reject {
			return nil, ErrBusy
		}
		prev.Kill()
		e.log.Info().Str("session", sess.ID).Msg("superseding running program")
	}

	args := e.tc.RunArgs(dir, mainFile)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: args, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: args, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: args, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: args, Err: err}
	}
	metrics.RunningProcesses.Inc()

	e.mu.Lock()
	hooks := append([]func(*Process){}, e.onExit...)
	e.mu.Unlock()

	p := &Process{
		id:       runID,
		sess:     sess,
		cmd:      cmd,
		stdin:    stdin,
		classify: e.classify,
		started:  time.Now(),
		onExit:   hooks,
		done:     make(chan struct{}),
		log: e.log.With().
			Str("session", sess.ID).
			Str("run", runID).
			Int("pid", cmd.Process.Pid).
			Logger(),
	}

	prev, setErr := sess.SetProcess(p)
	if setErr != nil {
		// Torn down while spawning; reap without delivering anything. The
		// run never belonged to the session, so exit hooks do not see it.
		p.onExit = nil
		p.Kill()
	} else if prev != nil {
		prev.Kill()
	}

	if e.timeout > 0 {
		p.timer = time.AfterFunc(e.timeout, p.expire)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.pump(stdout, protocol.KindStdout, &readers)
	go p.pump(stderr, protocol.KindStderr, &readers)
	go p.wait(&readers)

	if setErr != nil {
		return nil, setErr
	}
	p.log.Info().Strs("command", args).Msg("process started")
	return p, nil
}

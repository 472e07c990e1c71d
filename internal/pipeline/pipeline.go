package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/build"
	"github.com/Kintoyyy/codeshum-backend/internal/metrics"
	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
	"github.com/Kintoyyy/codeshum-backend/internal/runner"
	"github.com/Kintoyyy/codeshum-backend/internal/session"
	"github.com/Kintoyyy/codeshum-backend/internal/storage"
)

const historyTimeout = 5 * time.Second

// Outcome describes an accepted submission. When Build failed no process
// was started and Process is nil.
type Outcome struct {
	RunID   string
	Build   *build.Result
	Process *runner.Process
}

// CompileFailed reports whether the submission stopped at the compile step.
func (o *Outcome) CompileFailed() bool {
	return o.Build != nil && !o.Build.Success
}

// Pipeline turns a run request into files on disk, a compile, and a
// running program attached to the session.
type Pipeline struct {
	sessions *session.Registry
	compiler *build.Compiler
	engine   *runner.Engine
	history  storage.Store
	log      zerolog.Logger
}

// New wires the stages together. history may be nil to disable run records.
func New(sessions *session.Registry, compiler *build.Compiler, engine *runner.Engine, history storage.Store, log zerolog.Logger) *Pipeline {
	p := &Pipeline{
		sessions: sessions,
		compiler: compiler,
		engine:   engine,
		history:  history,
		log:      log.With().Str("component", "pipeline").Logger(),
	}
	engine.OnExit(p.recordExit)
	return p
}

// Sessions returns the registry the pipeline runs against.
func (p *Pipeline) Sessions() *session.Registry {
	return p.sessions
}

// Submit validates req, writes its files, compiles and starts the program.
// It returns once the program is spawned; output goes to the session
// connection. A compile failure is reported through the Outcome and also
// sent to the connection.
func (p *Pipeline) Submit(ctx context.Context, req *protocol.RunRequest) (*Outcome, error) {
	sess, err := p.sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := p.sessions.Touch(sess.ID); err != nil {
		return nil, err
	}

	release := sess.BeginPipeline()
	defer release()

	// Refuse before touching the files the running program may be using.
	if p.engine.Policy() == runner.Reject && sess.Process() != nil {
		return nil, runner.ErrBusy
	}
	// Otherwise the previous run goes now, so none of its output follows
	// this submission's events.
	if prev := sess.TakeProcess(); prev != nil {
		prev.Kill()
		p.log.Info().Str("session", sess.ID).Msg("superseding running program")
	}

	dir, err := p.sessions.WriteFiles(sess, req.Files)
	if err != nil {
		return nil, err
	}

	main, _ := req.Main()
	rec := &storage.Run{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Entry:     main.FileName,
		Files:     fileNames(req.Files),
		Status:    storage.StatusCompiling,
		StartedAt: time.Now().UTC(),
	}
	p.create(rec)

	log := p.log.With().Str("session", sess.ID).Str("run", rec.ID).Logger()

	res, err := p.compiler.Compile(ctx, dir, main.FileName)
	if err != nil {
		rec.Status = storage.StatusSpawnError
		p.finish(rec)
		return nil, err
	}

	if !res.Success {
		log.Info().Int("diagnostics", len(res.Diagnostics)).Msg("compile failed")
		if conn := sess.Conn(); conn != nil {
			if err := conn.Send(protocol.CompileFailed(res.Output, res.Diagnostics)); err != nil {
				log.Debug().Err(err).Msg("dropping compile failure event")
			}
		}
		rec.Status = storage.StatusCompileError
		rec.Diagnostics = res.Diagnostics
		p.finish(rec)
		return &Outcome{RunID: rec.ID, Build: res}, nil
	}

	rec.Status = storage.StatusRunning
	p.update(rec)

	proc, err := p.engine.Run(sess, main.FileName, rec.ID)
	if err != nil {
		// A process torn down during spawn never reaches recordExit, so the
		// record is finished here exactly once.
		rec.Status = storage.StatusSpawnError
		if errors.Is(err, runner.ErrBusy) || errors.Is(err, session.ErrNotFound) {
			rec.Status = storage.StatusKilled
		}
		p.finish(rec)
		return nil, err
	}

	return &Outcome{RunID: rec.ID, Build: res, Process: proc}, nil
}

func (p *Pipeline) recordExit(proc *runner.Process) {
	code := proc.ExitCode()

	status := storage.StatusFailed
	switch {
	case proc.TimedOut():
		status = storage.StatusTimedOut
	case proc.Killed():
		status = storage.StatusKilled
	case code == 0:
		status = storage.StatusSucceeded
	}
	metrics.RunsTotal.WithLabelValues(string(status)).Inc()

	if p.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	rec, err := p.history.GetRun(ctx, proc.ID())
	if err != nil {
		p.log.Warn().Err(err).Str("run", proc.ID()).Msg("run record missing at exit")
		return
	}
	rec.Status = status
	rec.ExitCode = &code
	if err := p.history.FinishRun(ctx, rec); err != nil {
		p.log.Warn().Err(err).Str("run", rec.ID).Msg("failed to record run exit")
	}
}

// History failures are logged and never fail the request.
func (p *Pipeline) create(rec *storage.Run) {
	if p.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := p.history.CreateRun(ctx, rec); err != nil {
		p.log.Warn().Err(err).Str("run", rec.ID).Msg("failed to record run")
	}
}

func (p *Pipeline) update(rec *storage.Run) {
	if p.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := p.history.UpdateRun(ctx, rec); err != nil {
		p.log.Warn().Err(err).Str("run", rec.ID).Msg("failed to update run")
	}
}

func (p *Pipeline) finish(rec *storage.Run) {
	metrics.RunsTotal.WithLabelValues(string(rec.Status)).Inc()
	if p.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := p.history.FinishRun(ctx, rec); err != nil {
		p.log.Warn().Err(err).Str("run", rec.ID).Msg("failed to finish run")
	}
}

func fileNames(files []protocol.SourceFile) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.FileName
	}
	return names
}

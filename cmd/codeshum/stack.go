package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/build"
	"github.com/Kintoyyy/codeshum-backend/internal/config"
	"github.com/Kintoyyy/codeshum-backend/internal/pipeline"
	"github.com/Kintoyyy/codeshum-backend/internal/runner"
	"github.com/Kintoyyy/codeshum-backend/internal/session"
	"github.com/Kintoyyy/codeshum-backend/internal/storage"
	"github.com/Kintoyyy/codeshum-backend/internal/storage/sqlite"
	"github.com/Kintoyyy/codeshum-backend/internal/toolchain"
	"github.com/Kintoyyy/codeshum-backend/internal/workspace"
)

// stack is everything serve and mcp share.
type stack struct {
	sessions *session.Registry
	pipeline *pipeline.Pipeline
	history  storage.Store
	tc       *toolchain.Toolchain
}

func (s *stack) Close() {
	s.sessions.CloseAll()
	if s.history != nil {
		s.history.Close()
	}
}

func loadToolchain(path string) (*toolchain.Toolchain, error) {
	if path == "" {
		return toolchain.Java(), nil
	}
	return toolchain.LoadProfile(path)
}

func buildStack(cfg *config.Config, log zerolog.Logger, opts ...session.Option) (*stack, error) {
	tc, err := loadToolchain(cfg.Toolchain.Profile)
	if err != nil {
		return nil, err
	}

	files, err := workspace.New(cfg.Workspace.Root, log)
	if err != nil {
		return nil, fmt.Errorf("opening workspace root: %w", err)
	}

	policy, err := runner.ParsePolicy(cfg.Run.Policy)
	if err != nil {
		return nil, err
	}

	var history storage.Store
	if cfg.Storage.DBPath != "" {
		store, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening run history: %w", err)
		}
		history = store
	}

	sessions := session.NewRegistry(files, log,
		append([]session.Option{session.WithMaxSessions(cfg.Session.MaxSessions)}, opts...)...)

	engine := runner.New(tc, log,
		runner.WithTimeout(cfg.Run.Timeout),
		runner.WithPolicy(policy),
		runner.WithClassifier(runner.PromptClassifier(cfg.Run.PromptPatterns)),
	)
	compiler := build.NewCompiler(tc, cfg.Build.Timeout, log)

	return &stack{
		sessions: sessions,
		pipeline: pipeline.New(sessions, compiler, engine, history, log),
		history:  history,
		tc:       tc,
	}, nil
}

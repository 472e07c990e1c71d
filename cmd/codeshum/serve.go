package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Kintoyyy/codeshum-backend/internal/limiter"
	"github.com/Kintoyyy/codeshum-backend/internal/reaper"
	"github.com/Kintoyyy/codeshum-backend/internal/server"
	"github.com/Kintoyyy/codeshum-backend/internal/session"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the codeshum server",
	Long: `Start the HTTP and WebSocket server together with the idle-session reaper.

Clients connect to /ws to get a session id, then POST their files to /run.

Examples:
  codeshum serve
  codeshum serve --port 9090
  CODESHUM_RUN_POLICY=reject codeshum serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log, os.Stderr)

	lim := limiter.New(cfg.Limits.RunRPS, cfg.Limits.RunBurst)
	st, err := buildStack(cfg, log, session.OnDestroy(lim.Forget))
	if err != nil {
		return err
	}
	defer st.Close()

	log.Info().
		Str("toolchain", st.tc.Name).
		Str("workspace", cfg.Workspace.Root).
		Str("policy", cfg.Run.Policy).
		Dur("run_timeout", cfg.Run.Timeout).
		Bool("history", st.history != nil).
		Msg("starting codeshum")

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(cfg.Server, st.pipeline, st.history, lim, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.New(st.sessions, cfg.Session.IdleTimeout, cfg.Session.SweepInterval, log).Run(ctx)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
		srv.Shutdown(context.Background())
	}()

	return srv.Start(port)
}

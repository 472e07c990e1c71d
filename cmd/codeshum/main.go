package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Kintoyyy/codeshum-backend/internal/config"
)

var version = "dev"

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "codeshum",
	Short: "codeshum - compile and run submitted programs over a live session",
	Long: `codeshum is a backend for interactive code playgrounds.

A browser opens a WebSocket, submits source files over HTTP, and receives the
program's output as it runs. Lines typed by the user are fed to the program's
stdin. Idle sessions are reaped along with their files and processes.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the codeshum version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("codeshum", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./codeshum.yaml or ~/.codeshum/codeshum.yaml)")
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. MCP mode passes stderr so stdout
// stays a clean protocol stream.
func newLogger(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	w := out
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

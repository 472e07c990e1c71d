package build

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/metrics"
	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
	"github.com/Kintoyyy/codeshum-backend/internal/toolchain"
)

// ErrCompilerUnavailable means the compiler could not be launched at all,
// as opposed to rejecting the submitted sources.
var ErrCompilerUnavailable = errors.New("compiler unavailable")

// Result is the outcome of one compile step. A failed compile is a Result,
// not an error.
type Result struct {
	Success     bool
	Diagnostics []protocol.Diagnostic
	// Output is the compiler's combined output with workspace paths removed.
	Output   string
	Duration time.Duration
}

// Compiler runs a toolchain's compile command over a workspace.
type Compiler struct {
	tc      *toolchain.Toolchain
	timeout time.Duration
	log     zerolog.Logger
}

// NewCompiler returns a compiler bounded by timeout; zero means no bound.
func NewCompiler(tc *toolchain.Toolchain, timeout time.Duration, log zerolog.Logger) *Compiler {
	return &Compiler{
		tc:      tc,
		timeout: timeout,
		log:     log.With().Str("component", "build").Logger(),
	}
}

// Compile builds every source in dir. It blocks until the compiler exits.
func (c *Compiler) Compile(ctx context.Context, dir, mainFile string) (*Result, error) {
	if c.tc.Interpreted() {
		return &Result{Success: true}, nil
	}

	names, err := sourceNames(dir)
	if err != nil {
		return nil, err
	}
	files := c.tc.Sources(names)
	if len(files) == 0 {
		return &Result{
			Diagnostics: []protocol.Diagnostic{{Message: fmt.Sprintf("no %s source files to compile", c.tc.Extension)}},
			Output:      fmt.Sprintf("no %s source files to compile", c.tc.Extension),
		}, nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := c.tc.CompileArgs(dir, files, mainFile)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir

	start := time.Now()
	out, runErr := cmd.CombinedOutput()
	elapsed := time.Since(start)
	metrics.CompileDuration.Observe(float64(elapsed.Milliseconds()))

	res := &Result{Duration: elapsed, Output: Clean(string(out), dir)}

	switch {
	case runErr == nil:
		res.Success = true
	case ctx.Err() != nil:
		msg := "compilation timed out"
		if errors.Is(ctx.Err(), context.Canceled) {
			msg = "compilation cancelled"
		}
		res.Output = strings.TrimSpace(res.Output + "\n" + msg)
		res.Diagnostics = []protocol.Diagnostic{{Message: msg}}
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCompilerUnavailable, args[0], runErr)
		}
		res.Diagnostics = ParseDiagnostics(res.Output)
	}

	c.log.Debug().
		Str("dir", filepath.Base(dir)).
		Bool("success", res.Success).
		Int("diagnostics", len(res.Diagnostics)).
		Dur("elapsed", elapsed).
		Msg("compile finished")
	return res, nil
}

// sourceNames lists regular files in dir by base name, sorted.
func sourceNames(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}

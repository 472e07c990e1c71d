package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/Kintoyyy/codeshum-backend/internal/client"
	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

var (
	serverFlag string
	mainFlag   string
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

var runCmd = &cobra.Command{
	Use:   "run <file>...",
	Short: "Submit files to a codeshum server and interact with the program",
	Long: `Connect to a running codeshum server, submit the given source files and
stream the program's output. Lines typed at the prompt are sent to the
program's stdin until it exits.

Examples:
  codeshum run Main.java
  codeshum run Main.java Util.java --main Main.java
  codeshum run --server http://playground:8000 Main.java`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&serverFlag, "server", "http://localhost:8000", "Server base URL")
	runCmd.Flags().StringVar(&mainFlag, "main", "", "Entry file name (default: the first file)")
	rootCmd.AddCommand(runCmd)
}

func readSources(paths []string, mainName string) ([]protocol.SourceFile, error) {
	if mainName == "" {
		mainName = filepath.Base(paths[0])
	}

	files := make([]protocol.SourceFile, 0, len(paths))
	found := false
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(p)
		isMain := name == mainName
		found = found || isMain
		files = append(files, protocol.SourceFile{FileName: name, Content: string(data), IsMain: isMain})
	}
	if !found {
		return nil, fmt.Errorf("main file %q is not among the submitted files", mainName)
	}
	return files, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	files, err := readSources(args, mainFlag)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, serverFlag)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()
	fmt.Println(dimStyle.Render("session " + c.SessionID))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "",
		HistoryFile:     filepath.Join(os.TempDir(), "codeshum_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()
	out := rl.Stdout()

	if _, err := c.Submit(context.Background(), files); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && len(apiErr.Diagnostics) > 0 {
			printDiagnostics(out, apiErr.Diagnostics)
			return fmt.Errorf("compilation failed")
		}
		return err
	}

	exit := make(chan int, 1)
	go streamFrames(c, rl, out, exit)

	for {
		line, err := rl.Readline()
		if err != nil {
			// streamFrames closes rl once the run ends.
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) || len(exit) > 0 {
				break
			}
			return err
		}
		if err := c.SendInput(line); err != nil {
			return fmt.Errorf("sending input: %w", err)
		}
	}

	select {
	case code := <-exit:
		if code != 0 {
			return fmt.Errorf("program exited with code %d", code)
		}
	default:
		fmt.Fprintln(out, dimStyle.Render("detached; the server will stop the program"))
	}
	return nil
}

// streamFrames prints server frames until the run ends, then closes rl so
// the input loop returns.
func streamFrames(c *client.Client, rl *readline.Instance, out io.Writer, exit chan<- int) {
	defer rl.Close()

	for {
		f, err := c.ReadFrame()
		if err != nil {
			fmt.Fprintln(out, errStyle.Render("connection closed: "+err.Error()))
			exit <- -1
			return
		}

		switch {
		case f.Output != "" && f.Stream == "stderr":
			fmt.Fprint(out, errStyle.Render(f.Output))
		case f.Output != "":
			fmt.Fprint(out, f.Output)
		case f.IsWaitingForInput != nil:
			if *f.IsWaitingForInput {
				rl.SetPrompt(promptStyle.Render("> "))
			} else {
				rl.SetPrompt("")
			}
			rl.Refresh()
		case f.TimedOut:
			fmt.Fprintln(out, failStyle.Render(f.Message))
		case f.Error:
			fmt.Fprintln(out, errStyle.Render(f.Message))
		}

		if client.Final(f) {
			code := -1
			if f.ExitCode != nil {
				code = *f.ExitCode
			}
			style := failStyle
			if code == 0 {
				style = okStyle
			}
			if len(f.Diagnostics) > 0 {
				printDiagnostics(out, f.Diagnostics)
			} else {
				fmt.Fprintln(out, "\n"+style.Render(f.Message))
			}
			exit <- code
			return
		}
	}
}

func printDiagnostics(out io.Writer, diags []protocol.Diagnostic) {
	for _, d := range diags {
		loc := d.File
		if d.Line > 0 {
			loc = fmt.Sprintf("%s:%d", d.File, d.Line)
		}
		if loc != "" {
			fmt.Fprint(out, errStyle.Render(loc)+" ")
		}
		fmt.Fprintln(out, strings.TrimRight(d.Message, "\n"))
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/Kintoyyy/codeshum-backend/internal/pipeline"
	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

const maxToolOutput = 4000

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the run pipeline as an MCP tool over stdio",
	Long: `Expose a run_program tool over the Model Context Protocol on stdin/stdout.
Each call compiles and runs the given files in a throwaway session, feeds the
stdin text line by line, and returns the program's output.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Log.Pretty = false
	log := newLogger(cfg.Log, os.Stderr)

	st, err := buildStack(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// Leave headroom over the run deadline for compilation.
	callTimeout := cfg.Build.Timeout + cfg.Run.Timeout + 5*time.Second
	if cfg.Run.Timeout <= 0 {
		callTimeout = 0
	}

	s := server.NewMCPServer("codeshum", version)
	s.AddTool(mcp.Tool{
		Name:        "run_program",
		Description: fmt.Sprintf("Compile and run a %s program. Returns stdout, stderr and the exit code, or compiler diagnostics.", st.tc.Name),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"files": map[string]any{
					"type":        "array",
					"description": "Source files to submit",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"file_name": map[string]any{"type": "string"},
							"content":   map[string]any{"type": "string"},
						},
						"required": []string{"file_name", "content"},
					},
				},
				"main": map[string]any{
					"type":        "string",
					"description": "Name of the entry file (default: the first file)",
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Input for the program, one line per read (optional)",
				},
			},
			Required: []string{"files"},
		},
	}, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		files, stdin, err := toolArgs(request)
		if err != nil {
			return errResult("error: " + err.Error()), nil
		}

		if callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, callTimeout)
			defer cancel()
		}

		t, err := st.pipeline.Execute(ctx, files, stdin)
		if err != nil {
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: formatTranscript(t)}},
			IsError: !t.Succeeded(),
		}, nil
	})

	log.Info().Str("toolchain", st.tc.Name).Msg("serving MCP on stdio")
	return server.ServeStdio(s)
}

// toolArgs converts raw tool arguments into source files and stdin lines.
func toolArgs(request mcp.CallToolRequest) ([]protocol.SourceFile, []string, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return nil, nil, fmt.Errorf("invalid arguments")
	}

	rawFiles, _ := args["files"].([]any)
	if len(rawFiles) == 0 {
		return nil, nil, fmt.Errorf("'files' is required")
	}
	mainName, _ := args["main"].(string)

	files := make([]protocol.SourceFile, 0, len(rawFiles))
	for i, raw := range rawFiles {
		m, _ := raw.(map[string]any)
		name, _ := m["file_name"].(string)
		content, _ := m["content"].(string)
		if name == "" {
			return nil, nil, fmt.Errorf("files[%d]: 'file_name' is required", i)
		}
		isMain := name == mainName || (mainName == "" && i == 0)
		files = append(files, protocol.SourceFile{FileName: name, Content: content, IsMain: isMain})
	}

	var stdin []string
	if s, _ := args["stdin"].(string); s != "" {
		stdin = strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	}
	return files, stdin, nil
}

func formatTranscript(t *pipeline.Transcript) string {
	var output strings.Builder

	if len(t.Diagnostics) > 0 || t.CompileLog != "" {
		output.WriteString("compilation failed:\n")
		for _, d := range t.Diagnostics {
			if d.Line > 0 {
				fmt.Fprintf(&output, "%s:%d: %s\n", d.File, d.Line, d.Message)
			} else {
				output.WriteString(d.Message + "\n")
			}
		}
		if len(t.Diagnostics) == 0 {
			output.WriteString(t.CompileLog)
		}
		return truncateOutput(output.String())
	}

	output.WriteString(t.Stdout)
	if t.Stderr != "" {
		if output.Len() > 0 {
			output.WriteString("\n")
		}
		output.WriteString("STDERR:\n" + t.Stderr)
	}
	if t.TimedOut {
		output.WriteString("\ntimed out")
	}
	if t.ExitCode != nil && *t.ExitCode != 0 {
		fmt.Fprintf(&output, "\nexit code: %d", *t.ExitCode)
	}
	return truncateOutput(output.String())
}

func truncateOutput(text string) string {
	if len(text) > maxToolOutput {
		return text[:maxToolOutput] + "\n... (output truncated)"
	}
	return text
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}

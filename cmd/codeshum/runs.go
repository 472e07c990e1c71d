package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Kintoyyy/codeshum-backend/internal/storage"
	"github.com/Kintoyyy/codeshum-backend/internal/storage/sqlite"
)

var (
	statusFilter  string
	sessionFilter string
	limitFlag     int
	exportFormat  string
	exportOutput  string
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"run-history", "r"},
	Short:   "Inspect the run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its diagnostics",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export runs as markdown or JSON",
	RunE:  runRunsExport,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsExportCmd)

	for _, c := range []*cobra.Command{runsListCmd, runsExportCmd} {
		c.Flags().StringVar(&statusFilter, "status", "", "Filter by status (succeeded, failed, compile_error, timed_out, killed, ...)")
		c.Flags().StringVar(&sessionFilter, "session", "", "Filter by session id")
		c.Flags().IntVar(&limitFlag, "limit", 20, "Max runs to show")
	}

	runsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	runsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.DBPath == "" {
		return nil, fmt.Errorf("run history is disabled (storage.db_path is empty)")
	}
	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	return store, nil
}

func listOptions() storage.RunListOptions {
	return storage.RunListOptions{
		SessionID: sessionFilter,
		Status:    storage.RunStatus(statusFilter),
		Limit:     limitFlag,
	}
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), listOptions())
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-10s %-10s %-14s %-20s %-6s %s", "ID", "SESSION", "STATUS", "ENTRY", "EXIT", "STARTED")))
	fmt.Println(strings.Repeat("─", 80))

	for _, r := range runs {
		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprint(*r.ExitCode)
		}
		fmt.Printf("%-10s %-10s %-14s %-20s %-6s %s\n",
			short(r.ID), short(r.SessionID), r.Status, truncate(r.Entry, 20), exit, timeAgo(r.StartedAt))
	}

	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", r.ID)
	fmt.Printf("Session:  %s\n", r.SessionID)
	fmt.Printf("Entry:    %s\n", r.Entry)
	if len(r.Files) > 0 {
		fmt.Printf("Files:    %s\n", strings.Join(r.Files, ", "))
	}
	fmt.Printf("Status:   %s\n", r.Status)
	if r.ExitCode != nil {
		fmt.Printf("Exit:     %d\n", *r.ExitCode)
	}
	fmt.Printf("Started:  %s\n", r.StartedAt.Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Printf("Finished: %s (%s)\n", r.FinishedAt.Format(time.RFC3339), r.Duration().Round(time.Millisecond))
	}

	if len(r.Diagnostics) > 0 {
		fmt.Printf("\nDiagnostics: %d\n", len(r.Diagnostics))
		fmt.Println(strings.Repeat("─", 60))
		printDiagnostics(os.Stdout, r.Diagnostics)
	}
	return nil
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), listOptions())
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(runs)
		if err != nil {
			return err
		}
		output = string(data) + "\n"
	default:
		output = storage.ExportMarkdown(runs)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen-2] + ".."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

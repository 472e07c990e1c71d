package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders runs as a markdown report.
func ExportMarkdown(runs []Run) string {
	var b strings.Builder

	b.WriteString("# Run history\n\n")
	if len(runs) == 0 {
		b.WriteString("_No runs recorded._\n")
		return b.String()
	}

	for _, r := range runs {
		b.WriteString(fmt.Sprintf("## %s\n\n", r.ID))
		b.WriteString(fmt.Sprintf("- **Session:** %s\n", r.SessionID))
		b.WriteString(fmt.Sprintf("- **Entry:** %s\n", r.Entry))
		if len(r.Files) > 0 {
			b.WriteString(fmt.Sprintf("- **Files:** %s\n", strings.Join(r.Files, ", ")))
		}
		b.WriteString(fmt.Sprintf("- **Status:** %s\n", r.Status))
		if r.ExitCode != nil {
			b.WriteString(fmt.Sprintf("- **Exit code:** %d\n", *r.ExitCode))
		}
		b.WriteString(fmt.Sprintf("- **Started:** %s\n", r.StartedAt.Format("2006-01-02 15:04:05")))
		if d := r.Duration(); d > 0 {
			b.WriteString(fmt.Sprintf("- **Duration:** %s\n", d.Round(1e6)))
		}

		if len(r.Diagnostics) > 0 {
			b.WriteString("\n```\n")
			for _, d := range r.Diagnostics {
				switch {
				case d.File != "" && d.Line > 0:
					b.WriteString(fmt.Sprintf("%s:%d: %s\n", d.File, d.Line, d.Message))
				case d.File != "":
					b.WriteString(fmt.Sprintf("%s: %s\n", d.File, d.Message))
				default:
					b.WriteString(d.Message + "\n")
				}
			}
			b.WriteString("```\n")
		}
		b.WriteString("\n")
	}

	return b.String()
}

// ExportJSON renders runs as formatted JSON.
func ExportJSON(runs []Run) ([]byte, error) {
	export := struct {
		Runs []Run `json:"runs"`
	}{
		Runs: runs,
	}
	if export.Runs == nil {
		export.Runs = []Run{}
	}
	return json.MarshalIndent(export, "", "  ")
}

package build

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

// Clean removes every occurrence of the workspace directory so output only
// names the submitted files.
func Clean(output, dir string) string {
	if dir == "" {
		return output
	}
	prefixes := []string{dir}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil && resolved != dir {
		prefixes = append(prefixes, resolved)
	}

	pairs := make([]string, 0, len(prefixes)*4)
	for _, p := range prefixes {
		pairs = append(pairs, p+string(filepath.Separator), "", p, ".")
	}
	return strings.NewReplacer(pairs...).Replace(output)
}

// javac: "Main.java:3: error: ';' expected"
// sh -n: "Main.sh: line 3: syntax error ..." or "Main.sh: 3: Syntax error ..."
var diagLine = regexp.MustCompile(`^([^\s:]+):\s*(?:line\s+)?(\d+):\s*(.*)$`)

var summaryLine = regexp.MustCompile(`^\d+ (error|warning)s?$`)

// ParseDiagnostics splits cleaned compiler output into per-location
// diagnostics. Lines that do not start a new location (source excerpts,
// carets) are appended to the previous message.
func ParseDiagnostics(output string) []protocol.Diagnostic {
	var diags []protocol.Diagnostic
	for _, line := range strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || summaryLine.MatchString(trimmed) {
			continue
		}

		if m := diagLine.FindStringSubmatch(trimmed); m != nil {
			n, _ := strconv.Atoi(m[2])
			diags = append(diags, protocol.Diagnostic{File: m[1], Line: n, Message: m[3]})
			continue
		}

		if len(diags) == 0 {
			diags = append(diags, protocol.Diagnostic{Message: trimmed})
			continue
		}
		last := &diags[len(diags)-1]
		last.Message += "\n" + strings.TrimRight(line, " \t")
	}
	return diags
}

package runner

import (
	"regexp"
	"strings"
)

// Classifier decides from one stdout chunk whether the program is waiting
// for input. It is a heuristic over printed text, not a check on the
// process state.
type Classifier func(chunk string) bool

// DefaultPatterns are the prompt words matched case-insensitively.
var DefaultPatterns = []string{"enter", "input", "scan", "prompt", "waiting"}

// PromptClassifier matches any of the given words as whole words,
// case-insensitively. An empty list falls back to DefaultPatterns.
func PromptClassifier(patterns []string) Classifier {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	quoted := make([]string, len(patterns))
	for i, p := range patterns {
		quoted[i] = regexp.QuoteMeta(strings.TrimSpace(p))
	}
	re := regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	return re.MatchString
}

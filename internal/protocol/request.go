package protocol

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SourceFile is one submitted file.
type SourceFile struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
	IsMain   bool   `json:"isMain"`
}

// RunRequest is the body of a Submit+Run request.
type RunRequest struct {
	SessionID string       `json:"sessionId"`
	Files     []SourceFile `json:"files"`
}

// ValidationError reports a malformed submission. Nothing has been written
// when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validate checks the file batch: it must be non-empty, have exactly one main
// file, and every name must be a plain file name.
func (r *RunRequest) Validate() error {
	if len(r.Files) == 0 {
		return &ValidationError{Field: "files", Reason: "missing files"}
	}

	mains := 0
	for _, f := range r.Files {
		if f.IsMain {
			mains++
		}
	}
	switch {
	case mains == 0:
		return &ValidationError{Field: "files", Reason: "missing main file"}
	case mains > 1:
		return &ValidationError{Field: "files", Reason: fmt.Sprintf("expected exactly one main file, got %d", mains)}
	}

	for _, f := range r.Files {
		if err := ValidateFileName(f.FileName); err != nil {
			return err
		}
	}
	return nil
}

// Main returns the file flagged as the entry point.
func (r *RunRequest) Main() (SourceFile, bool) {
	for _, f := range r.Files {
		if f.IsMain {
			return f, true
		}
	}
	return SourceFile{}, false
}

// ValidateFileName rejects names that could escape the session directory.
func ValidateFileName(name string) error {
	bad := func(reason string) error {
		return &ValidationError{Field: "file_name", Reason: fmt.Sprintf("unsafe file name %q: %s", name, reason)}
	}

	switch {
	case strings.TrimSpace(name) == "":
		return &ValidationError{Field: "file_name", Reason: "missing file name"}
	case name == "." || name == "..":
		return bad("not a file")
	case filepath.IsAbs(name) || strings.HasPrefix(name, "/"):
		return bad("absolute path")
	case strings.ContainsAny(name, `/\`):
		return bad("path separators are not allowed")
	case strings.ContainsRune(name, 0):
		return bad("contains NUL")
	}
	return nil
}

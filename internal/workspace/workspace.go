package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

// IOError wraps a failed filesystem operation on a session directory.
type IOError struct {
	Op   string // "mkdir", "write", "list", "delete"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Store keeps one directory per session under a shared root.
type Store struct {
	root string
	log  zerolog.Logger
}

// New creates the root directory if needed and returns a store rooted there.
func New(root string, log zerolog.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: abs, Err: err}
	}
	return &Store{root: abs, log: log.With().Str("component", "workspace").Logger()}, nil
}

// Root returns the absolute directory holding every session directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory for a session. It does not create it.
func (s *Store) Dir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// Exists reports whether the session directory is present on disk.
func (s *Store) Exists(sessionID string) bool {
	info, err := os.Stat(s.Dir(sessionID))
	return err == nil && info.IsDir()
}

// Write stores one file for the session, creating the directory on first use
// and overwriting any previous file of the same name.
func (s *Store) Write(sessionID, fileName string, content []byte) (string, error) {
	if err := protocol.ValidateFileName(sessionID); err != nil {
		return "", fmt.Errorf("invalid session id: %w", err)
	}
	if err := protocol.ValidateFileName(fileName); err != nil {
		return "", err
	}

	dir := s.Dir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", &IOError{Op: "write", Path: path, Err: err}
	}

	s.log.Debug().Str("session", sessionID).Str("file", fileName).Int("bytes", len(content)).Msg("file written")
	return dir, nil
}

// Files returns the absolute paths of every regular file in the session
// directory, sorted by name.
func (s *Store) Files(sessionID string) ([]string, error) {
	dir := s.Dir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &IOError{Op: "list", Path: dir, Err: err}
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Delete removes the session directory recursively. Failures are logged and
// returned, but callers on the teardown path are expected to ignore them.
func (s *Store) Delete(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	dir := s.Dir(sessionID)
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Error().Err(err).Str("session", sessionID).Msg("deleting workspace")
		return &IOError{Op: "delete", Path: dir, Err: err}
	}
	s.log.Debug().Str("session", sessionID).Msg("workspace deleted")
	return nil
}

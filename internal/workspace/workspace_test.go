package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "code"), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewCreatesRoot(t *testing.T) {
	s := testStore(t)
	info, err := os.Stat(s.Root())
	if err != nil || !info.IsDir() {
		t.Fatalf("root %s not created: %v", s.Root(), err)
	}
	if !filepath.IsAbs(s.Root()) {
		t.Errorf("root %q should be absolute", s.Root())
	}
}

func TestWriteCreatesDirLazily(t *testing.T) {
	s := testStore(t)

	if s.Exists("abc") {
		t.Fatal("directory should not exist before first write")
	}

	dir, err := s.Write("abc", "Main.java", []byte("class Main {}"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if dir != s.Dir("abc") {
		t.Errorf("dir = %q, want %q", dir, s.Dir("abc"))
	}
	if !s.Exists("abc") {
		t.Fatal("directory should exist after write")
	}

	data, err := os.ReadFile(filepath.Join(dir, "Main.java"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "class Main {}" {
		t.Errorf("content = %q", data)
	}
}

func TestWriteOverwrites(t *testing.T) {
	s := testStore(t)
	s.Write("abc", "Main.java", []byte("old content that is longer"))
	s.Write("abc", "Main.java", []byte("new"))

	data, _ := os.ReadFile(filepath.Join(s.Dir("abc"), "Main.java"))
	if string(data) != "new" {
		t.Errorf("content = %q, want %q", data, "new")
	}
}

func TestWriteRejectsTraversal(t *testing.T) {
	s := testStore(t)

	for _, name := range []string{"../escape.java", "/etc/passwd", "sub/dir.java"} {
		_, err := s.Write("abc", name, []byte("x"))
		var verr *protocol.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Write(%q) error = %v, want ValidationError", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(s.Root()), "escape.java")); err == nil {
		t.Fatal("file escaped the workspace root")
	}
}

func TestWriteRejectsBadSessionID(t *testing.T) {
	s := testStore(t)
	if _, err := s.Write("../other", "Main.java", []byte("x")); err == nil {
		t.Fatal("expected error for session id with path separators")
	}
}

func TestWriteIOError(t *testing.T) {
	s := testStore(t)
	// A regular file where the session directory should go.
	if err := os.WriteFile(s.Dir("blocked"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.Write("blocked", "Main.java", []byte("x"))
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("error = %v, want IOError", err)
	}
	if ioErr.Op != "mkdir" {
		t.Errorf("op = %q, want mkdir", ioErr.Op)
	}
}

func TestFilesSorted(t *testing.T) {
	s := testStore(t)
	s.Write("abc", "Zeta.java", []byte("z"))
	s.Write("abc", "Alpha.java", []byte("a"))

	files, err := s.Files("abc")
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if filepath.Base(files[0]) != "Alpha.java" || filepath.Base(files[1]) != "Zeta.java" {
		t.Errorf("files = %v", files)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	s.Write("abc", "Main.java", []byte("x"))

	if err := s.Delete("abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists("abc") {
		t.Fatal("directory should be gone")
	}

	// Deleting again is fine.
	if err := s.Delete("abc"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestDeleteEmptyIDIsNoop(t *testing.T) {
	s := testStore(t)
	if err := s.Delete(""); err != nil {
		t.Fatalf("Delete(\"\"): %v", err)
	}
	if _, err := os.Stat(s.Root()); err != nil {
		t.Fatal("root must survive Delete with empty id")
	}
}

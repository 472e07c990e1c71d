package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/toolchain"
)

// shellToolchain passes absolute paths to the checker so the output has
// something to clean.
func shellToolchain() *toolchain.Toolchain {
	return &toolchain.Toolchain{
		Name:      "sh",
		Extension: ".sh",
		Compile:   []string{"sh", "-n", "{dir}/{main}"},
		Run:       []string{"sh", "{main}"},
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCompileSuccess(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Main.sh", "echo hello\n")

	c := NewCompiler(shellToolchain(), 10*time.Second, zerolog.Nop())
	res, err := c.Compile(context.Background(), dir, "Main.sh")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !res.Success || len(res.Diagnostics) != 0 {
		t.Errorf("res = %+v, want success", res)
	}
}

func TestCompileSyntaxErrorHidesWorkspace(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Main.sh", "echo ok\nif then\n")

	c := NewCompiler(shellToolchain(), 10*time.Second, zerolog.Nop())
	res, err := c.Compile(context.Background(), dir, "Main.sh")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if res.Success {
		t.Fatal("expected compile failure")
	}
	if len(res.Diagnostics) == 0 {
		t.Fatalf("no diagnostics in %q", res.Output)
	}
	if strings.Contains(res.Output, dir) {
		t.Errorf("output leaks workspace path: %q", res.Output)
	}

	d := res.Diagnostics[0]
	if d.File != "Main.sh" {
		t.Errorf("file = %q, want Main.sh", d.File)
	}
	if d.Line != 2 {
		t.Errorf("line = %d, want 2", d.Line)
	}
	for _, d := range res.Diagnostics {
		if strings.Contains(d.File, dir) || strings.Contains(d.Message, dir) {
			t.Errorf("diagnostic leaks workspace path: %+v", d)
		}
	}
}

func TestCompileNoSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "hi")

	c := NewCompiler(shellToolchain(), 0, zerolog.Nop())
	res, err := c.Compile(context.Background(), dir, "Main.sh")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || len(res.Diagnostics) != 1 {
		t.Errorf("res = %+v", res)
	}
}

func TestCompileTimeout(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Main.sh", "echo hi\n")

	tc := shellToolchain()
	tc.Compile = []string{"sleep", "5"}
	c := NewCompiler(tc, 100*time.Millisecond, zerolog.Nop())

	res, err := c.Compile(context.Background(), dir, "Main.sh")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected failure on timeout")
	}
	if !strings.Contains(res.Diagnostics[0].Message, "timed out") {
		t.Errorf("diagnostic = %+v", res.Diagnostics[0])
	}
}

func TestCompilerUnavailable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Main.sh", "echo hi\n")

	tc := shellToolchain()
	tc.Compile = []string{"/nonexistent/codeshum-compiler", "{files}"}
	c := NewCompiler(tc, time.Second, zerolog.Nop())

	_, err := c.Compile(context.Background(), dir, "Main.sh")
	if !errors.Is(err, ErrCompilerUnavailable) {
		t.Fatalf("err = %v, want ErrCompilerUnavailable", err)
	}
}

func TestCompileInterpreted(t *testing.T) {
	tc := shellToolchain()
	tc.Compile = nil
	c := NewCompiler(tc, time.Second, zerolog.Nop())

	res, err := c.Compile(context.Background(), t.TempDir(), "Main.sh")
	if err != nil || !res.Success {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
}

func TestClean(t *testing.T) {
	dir := "/srv/code/0b7e"
	out := "/srv/code/0b7e/Main.java:3: error: ';' expected\nin /srv/code/0b7e\n"
	got := Clean(out, dir)
	want := "Main.java:3: error: ';' expected\nin .\n"
	if got != want {
		t.Errorf("Clean = %q, want %q", got, want)
	}
	if Clean("untouched", "") != "untouched" {
		t.Error("empty dir should leave output alone")
	}
}

func TestParseDiagnostics(t *testing.T) {
	javac := `Main.java:3: error: ';' expected
        System.out.println("hi")
                                ^
Helper.java:10: error: cannot find symbol
    foo();
    ^
2 errors
`
	diags := ParseDiagnostics(javac)
	if len(diags) != 2 {
		t.Fatalf("got %d diagnostics: %+v", len(diags), diags)
	}
	if diags[0].File != "Main.java" || diags[0].Line != 3 || !strings.HasPrefix(diags[0].Message, "error: ';' expected") {
		t.Errorf("diags[0] = %+v", diags[0])
	}
	if !strings.Contains(diags[0].Message, `System.out.println("hi")`) {
		t.Errorf("source excerpt not attached: %q", diags[0].Message)
	}
	if diags[1].File != "Helper.java" || diags[1].Line != 10 {
		t.Errorf("diags[1] = %+v", diags[1])
	}

	tests := []struct {
		name string
		in   string
		file string
		line int
	}{
		{"bash", "Main.sh: line 4: syntax error near unexpected token `fi'", "Main.sh", 4},
		{"dash", "Main.sh: 2: Syntax error: \"then\" unexpected", "Main.sh", 2},
		{"no location", "error: invalid flag: -foo", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDiagnostics(tt.in)
			if len(d) != 1 {
				t.Fatalf("got %+v", d)
			}
			if d[0].File != tt.file || d[0].Line != tt.line {
				t.Errorf("got %+v", d[0])
			}
		})
	}
}

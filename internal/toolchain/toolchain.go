package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Toolchain describes the external compiler and runtime for one language
// family. Command templates may use the placeholders {dir}, {files}, {main}
// and {entry}; {files} must stand alone and expands to one argument per
// source file.
type Toolchain struct {
	Name      string   `yaml:"name"`
	Extension string   `yaml:"extension"`
	Compile   []string `yaml:"compile"`
	Run       []string `yaml:"run"`
}

// Java returns the built-in toolchain: javac over every source, then the JVM
// on the main class with the workspace as classpath.
func Java() *Toolchain {
	return &Toolchain{
		Name:      "java",
		Extension: ".java",
		Compile:   []string{"javac", "{files}"},
		Run:       []string{"java", "-cp", "{dir}", "{entry}"},
	}
}

// LoadProfile reads a toolchain from a YAML file.
func LoadProfile(path string) (*Toolchain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading toolchain %s: %w", path, err)
	}

	var tc Toolchain
	if err := yaml.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("parsing toolchain %s: %w", path, err)
	}
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("toolchain %s: %w", path, err)
	}
	return &tc, nil
}

// Validate checks that the toolchain can be invoked.
func (t *Toolchain) Validate() error {
	if len(t.Run) == 0 {
		return fmt.Errorf("run command is required")
	}
	if t.Extension != "" && !strings.HasPrefix(t.Extension, ".") {
		return fmt.Errorf("extension %q must start with a dot", t.Extension)
	}
	return nil
}

// Interpreted reports whether there is no compile step.
func (t *Toolchain) Interpreted() bool {
	return len(t.Compile) == 0
}

// EntryName strips the source extension from the main file name, giving the
// unit the runtime is asked to invoke (Main.java → Main).
func (t *Toolchain) EntryName(mainFile string) string {
	base := filepath.Base(mainFile)
	if t.Extension != "" && strings.HasSuffix(base, t.Extension) {
		return strings.TrimSuffix(base, t.Extension)
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Sources filters names down to the ones this toolchain compiles.
func (t *Toolchain) Sources(names []string) []string {
	if t.Extension == "" {
		return names
	}
	var out []string
	for _, n := range names {
		if strings.HasSuffix(n, t.Extension) {
			out = append(out, n)
		}
	}
	return out
}

// CompileArgs expands the compile template.
func (t *Toolchain) CompileArgs(dir string, files []string, mainFile string) []string {
	return t.expand(t.Compile, dir, files, mainFile)
}

// RunArgs expands the run template.
func (t *Toolchain) RunArgs(dir, mainFile string) []string {
	return t.expand(t.Run, dir, nil, mainFile)
}

func (t *Toolchain) expand(tmpl []string, dir string, files []string, mainFile string) []string {
	r := strings.NewReplacer(
		"{dir}", dir,
		"{main}", mainFile,
		"{entry}", t.EntryName(mainFile),
	)

	args := make([]string, 0, len(tmpl)+len(files))
	for _, a := range tmpl {
		if a == "{files}" {
			args = append(args, files...)
			continue
		}
		args = append(args, r.Replace(a))
	}
	return args
}

package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/build"
	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
	"github.com/Kintoyyy/codeshum-backend/internal/runner"
	"github.com/Kintoyyy/codeshum-backend/internal/session"
	"github.com/Kintoyyy/codeshum-backend/internal/storage"
	"github.com/Kintoyyy/codeshum-backend/internal/storage/sqlite"
	"github.com/Kintoyyy/codeshum-backend/internal/toolchain"
	"github.com/Kintoyyy/codeshum-backend/internal/workspace"
)

func shellToolchain() *toolchain.Toolchain {
	return &toolchain.Toolchain{
		Name:      "sh",
		Extension: ".sh",
		Compile:   []string{"sh", "-n", "{main}"},
		Run:       []string{"sh", "{main}"},
	}
}

type fixture struct {
	pipe    *Pipeline
	reg     *session.Registry
	store   *workspace.Store
	history *sqlite.SQLiteStore
}

func newFixture(t *testing.T, opts ...runner.Option) *fixture {
	t.Helper()
	log := zerolog.Nop()

	store, err := workspace.New(filepath.Join(t.TempDir(), "code"), log)
	if err != nil {
		t.Fatal(err)
	}
	history, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { history.Close() })

	reg := session.NewRegistry(store, log)
	t.Cleanup(reg.CloseAll)

	tc := shellToolchain()
	pipe := New(reg, build.NewCompiler(tc, 10*time.Second, log), runner.New(tc, log, opts...), history, log)
	return &fixture{pipe: pipe, reg: reg, store: store, history: history}
}

func mainFile(content string) []protocol.SourceFile {
	return []protocol.SourceFile{{FileName: "Main.sh", Content: content, IsMain: true}}
}

func waitStatus(t *testing.T, h storage.Store, id string) *storage.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := h.GetRun(context.Background(), id)
		if err == nil && run.Status.Final() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a final status", id)
	return nil
}

func TestSubmitValidationOrder(t *testing.T) {
	f := newFixture(t)
	id, _ := f.reg.Create(NewCollector())

	tests := []struct {
		name string
		req  *protocol.RunRequest
		want string
	}{
		{"unknown session beats missing files", &protocol.RunRequest{SessionID: "nope"}, "invalid session"},
		{"missing files", &protocol.RunRequest{SessionID: id}, "missing files"},
		{"missing main", &protocol.RunRequest{SessionID: id, Files: []protocol.SourceFile{{FileName: "A.sh"}}}, "missing main file"},
		{"unsafe name", &protocol.RunRequest{SessionID: id, Files: []protocol.SourceFile{{FileName: "../x.sh", IsMain: true}}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipe.Submit(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != "" && err.Error() != tt.want {
				t.Errorf("err = %q, want %q", err, tt.want)
			}
		})
	}

	if f.store.Exists(id) {
		t.Error("rejected submissions must not create the workspace")
	}
}

func TestSubmitRunsProgram(t *testing.T) {
	f := newFixture(t)
	conn := NewCollector()
	id, _ := f.reg.Create(conn)

	out, err := f.pipe.Submit(context.Background(), &protocol.RunRequest{SessionID: id, Files: mainFile("echo hello\n")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.CompileFailed() || out.Process == nil {
		t.Fatalf("outcome = %+v", out)
	}

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal event")
	}
	tr := transcriptFrom(out.RunID, conn.Events())
	if !strings.Contains(tr.Stdout, "hello") || !tr.Succeeded() {
		t.Errorf("transcript = %+v", tr)
	}

	run := waitStatus(t, f.history, out.RunID)
	if run.Status != storage.StatusSucceeded || run.ExitCode == nil || *run.ExitCode != 0 {
		t.Errorf("run = %+v", run)
	}
	if run.Entry != "Main.sh" || run.SessionID != id {
		t.Errorf("run = %+v", run)
	}
}

func TestSubmitCompileFailure(t *testing.T) {
	f := newFixture(t)
	conn := NewCollector()
	id, _ := f.reg.Create(conn)

	out, err := f.pipe.Submit(context.Background(), &protocol.RunRequest{SessionID: id, Files: mainFile("if then\n")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !out.CompileFailed() || out.Process != nil {
		t.Fatalf("outcome = %+v", out)
	}

	s, _ := f.reg.Get(id)
	if s.Process() != nil {
		t.Error("no process may be spawned after a compile failure")
	}

	evs := conn.Events()
	if len(evs) != 1 || evs[0].Kind != protocol.KindCompileFailed {
		t.Fatalf("events = %+v", evs)
	}
	if !strings.HasPrefix(evs[0].Outbound().Message, "ERROR:\n") {
		t.Errorf("message = %q", evs[0].Outbound().Message)
	}

	run, err := f.history.GetRun(context.Background(), out.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != storage.StatusCompileError || len(run.Diagnostics) == 0 {
		t.Errorf("run = %+v", run)
	}
}

func TestSupersedeStopsOldProgramBeforeCompile(t *testing.T) {
	f := newFixture(t)
	conn := NewCollector()
	id, _ := f.reg.Create(conn)
	s, _ := f.reg.Get(id)

	first, err := f.pipe.Submit(context.Background(), &protocol.RunRequest{
		SessionID: id,
		Files:     mainFile("while true; do echo tick; sleep 0.05; done\n"),
	})
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(transcriptFrom("", conn.Events()).Stdout, "tick") {
		if time.Now().After(deadline) {
			t.Fatal("first program produced no output")
		}
		time.Sleep(10 * time.Millisecond)
	}

	out, err := f.pipe.Submit(context.Background(), &protocol.RunRequest{SessionID: id, Files: mainFile("if then fi (\n")})
	if err != nil {
		t.Fatal(err)
	}
	if !out.CompileFailed() {
		t.Fatalf("outcome = %+v, want a compile failure", out)
	}

	select {
	case <-first.Process.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("superseded program still running")
	}
	if !first.Process.Killed() {
		t.Error("superseded program should have been killed")
	}
	if s.Process() != nil {
		t.Error("no process may stay registered after a failed resubmission")
	}

	// Give a leaked pump time to deliver anything it still could.
	time.Sleep(200 * time.Millisecond)
	evs := conn.Events()
	last := evs[len(evs)-1]
	if last.Kind != protocol.KindCompileFailed {
		t.Errorf("last event = %v %q, want CompileFailed", last.Kind, last.Data)
	}
	for _, ev := range evs {
		if ev.Kind == protocol.KindExited {
			t.Error("a superseded program must not report its exit")
		}
	}

	run := waitStatus(t, f.history, first.RunID)
	if run.Status != storage.StatusKilled {
		t.Errorf("superseded run status = %s, want killed", run.Status)
	}
}

func TestSubmitRejectWhileRunning(t *testing.T) {
	f := newFixture(t, runner.WithPolicy(runner.Reject))
	id, _ := f.reg.Create(NewCollector())

	if _, err := f.pipe.Submit(context.Background(), &protocol.RunRequest{SessionID: id, Files: mainFile("sleep 5\n")}); err != nil {
		t.Fatal(err)
	}
	_, err := f.pipe.Submit(context.Background(), &protocol.RunRequest{SessionID: id, Files: mainFile("echo overwrite\n")})
	if !errors.Is(err, runner.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestConcurrentSubmitsKeepOneProcess(t *testing.T) {
	f := newFixture(t)
	id, _ := f.reg.Create(NewCollector())
	s, _ := f.reg.Get(id)

	results := make(chan *Outcome, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			out, err := f.pipe.Submit(context.Background(), &protocol.RunRequest{SessionID: id, Files: mainFile("sleep 5\n")})
			if err != nil {
				errs <- err
				return
			}
			results <- out
		}()
	}

	var outs []*Outcome
	for len(outs) < 2 {
		select {
		case out := <-results:
			outs = append(outs, out)
		case err := <-errs:
			t.Fatal(err)
		case <-time.After(10 * time.Second):
			t.Fatal("submits did not return")
		}
	}

	active := s.Process()
	if active == nil {
		t.Fatal("expected one active process")
	}
	live := 0
	for _, out := range outs {
		if session.Process(out.Process) == active {
			live++
			continue
		}
		if !out.Process.Killed() {
			t.Error("the superseded process should have been killed")
		}
	}
	if live != 1 {
		t.Errorf("%d outcomes own the session, want exactly 1", live)
	}
}

func TestExecuteWithStdin(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	prog := "read name\necho \"hi $name\"\n"
	tr, err := f.pipe.Execute(ctx, mainFile(prog), []string{"ada"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(tr.Stdout, "hi ada") || !tr.Succeeded() {
		t.Errorf("transcript = %+v", tr)
	}
	if f.reg.Len() != 0 {
		t.Error("Execute must destroy its session")
	}
}

func TestExecuteCompileFailure(t *testing.T) {
	f := newFixture(t)
	tr, err := f.pipe.Execute(context.Background(), mainFile("if then\n"), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tr.ExitCode != nil || len(tr.Diagnostics) == 0 || tr.CompileLog == "" {
		t.Errorf("transcript = %+v", tr)
	}
}

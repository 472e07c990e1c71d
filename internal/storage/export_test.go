package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

func sampleRuns() []Run {
	code := 1
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []Run{
		{
			ID:         "run-ok",
			SessionID:  "sess-1",
			Entry:      "Main.java",
			Files:      []string{"Main.java", "Util.java"},
			Status:     StatusFailed,
			ExitCode:   &code,
			StartedAt:  start,
			FinishedAt: start.Add(1500 * time.Millisecond),
		},
		{
			ID:        "run-bad",
			SessionID: "sess-1",
			Entry:     "Main.java",
			Status:    StatusCompileError,
			Diagnostics: []protocol.Diagnostic{
				{File: "Main.java", Line: 3, Message: "error: ';' expected"},
			},
			StartedAt: start,
		},
	}
}

func TestExportMarkdown(t *testing.T) {
	md := ExportMarkdown(sampleRuns())

	for _, want := range []string{
		"## run-ok",
		"**Files:** Main.java, Util.java",
		"**Exit code:** 1",
		"**Duration:** 1.5s",
		"Main.java:3: error: ';' expected",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}

	if !strings.Contains(ExportMarkdown(nil), "No runs recorded") {
		t.Error("empty export should say so")
	}
}

func TestExportJSON(t *testing.T) {
	data, err := ExportJSON(sampleRuns())
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Runs []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Runs) != 2 {
		t.Fatalf("runs = %d", len(out.Runs))
	}
	if _, ok := out.Runs[1]["finished_at"]; ok {
		t.Error("unfinished run should omit finished_at")
	}

	empty, _ := ExportJSON(nil)
	if !strings.Contains(string(empty), `"runs": []`) {
		t.Errorf("empty export = %s", empty)
	}
}

package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"squish/internal/scheduler"
)

func sampleRun() Run {
	started := time.Date(2025, 2, 3, 1, 0, 0, 0, time.Local)
	return Run{
		Started:  started,
		Finished: started.Add(time.Hour + 2*time.Minute + 3*time.Second),
		Summary: scheduler.Summary{
			Results: scheduler.Results{
				Succeeded:        []scheduler.FileResult{{Path: "/v/a.mp4", GroupID: "nvenc"}},
				SourceNotDeleted: []scheduler.FileResult{{Path: "/v/b.mp4", GroupID: "cpu"}},
				EngineFailed:     []scheduler.FileResult{{Path: "/v/c.mp4", GroupID: "cpu"}},
			},
			Queued:  []string{"/v/a.mp4", "/v/b.mp4", "/v/c.mp4"},
			Skipped: []string{"/v/old.mp4"},
		},
	}
}

func TestRenderMatchesReportLayout(t *testing.T) {
	want := strings.Join([]string{
		"Squish CRON log for 2025-02-03",
		"",
		"Execution Time: 1:02:03",
		"Videos Detected: 4",
		"Videos Queued: 3",
		"Videos Skipped: 1",
		"Videos Succeeded: 1",
		"Source Not Deleted: 1",
		"Failed In Handbrake: 1",
		"Error Opening Handbrake: 0",
		"",
		" ",
		"Videos Succeeded:",
		" /v/a.mp4 (nvenc)",
		" ",
		"Source not deleted:",
		" /v/b.mp4 (cpu)",
		" ",
		"Videos Failed in Handbrake:",
		" /v/c.mp4 (cpu)",
		" ",
		"Videos not opened in Handbrake:",
		" ",
		"Videos skipped (already completed):",
		" /v/old.mp4",
	}, "\n")
	if got := Render(sampleRun()); got != want {
		t.Fatalf("Render mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderIncludesInterruptedAndUnstarted(t *testing.T) {
	run := sampleRun()
	run.Summary.Interrupted = []scheduler.FileResult{{Path: "/v/d.mp4", GroupID: "cpu"}}
	run.Summary.Unstarted = []string{"/v/e.mp4"}
	got := Render(run)
	for _, want := range []string{"Videos interrupted (retried next run):\n /v/d.mp4 (cpu)", "Videos not started (run cancelled):\n /v/e.mp4"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in report:\n%s", want, got)
		}
	}
}

func TestWriteArtifacts(t *testing.T) {
	dir := t.TempDir()
	run := sampleRun()

	path, err := Write(dir, run)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "Squish CRON 2025-02-03.log" {
		t.Fatalf("unexpected report name %q", path)
	}

	busy, err := WriteAlreadyRunning(dir, run.Started)
	if err != nil {
		t.Fatal(err)
	}
	if busy != path {
		t.Fatalf("already-running notice should reuse the dated name, got %q", busy)
	}
	data, err := os.ReadFile(busy)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != AlreadyRunningMessage {
		t.Fatalf("unexpected body %q", data)
	}

	crash, err := WriteCrash(dir, run.Started, errors.New("walk failed"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(crash) != "Squish CRON 2025-02-03 CRASH.log" {
		t.Fatalf("unexpected crash name %q", crash)
	}
	data, err = os.ReadFile(crash)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "walk failed" {
		t.Fatalf("unexpected crash body %q", data)
	}
	if ok, _ := filepath.Match(Pattern, filepath.Base(crash)); !ok {
		t.Fatal("crash report should match retention pattern")
	}
	if ok, _ := filepath.Match(Pattern, "Squish CRON.log"); ok {
		t.Fatal("status artifact must not match retention pattern")
	}
}

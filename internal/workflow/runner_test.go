package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"squish/internal/config"
	"squish/internal/handbrake"
	"squish/internal/logging"
	"squish/internal/notifications"
	"squish/internal/queuestate"
	"squish/internal/report"
	"squish/internal/testsupport"
	"squish/internal/workflow"
)

type fakeEngine struct {
	mu     sync.Mutex
	calls  []handbrake.Invocation
	encode func(ctx context.Context, inv handbrake.Invocation) (handbrake.Result, error)
}

func (f *fakeEngine) Encode(ctx context.Context, inv handbrake.Invocation) (handbrake.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	if f.encode != nil {
		return f.encode(ctx, inv)
	}
	return handbrake.Result{Succeeded: true, MarkerSeen: true}, nil
}

func (f *fakeEngine) inputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		out = append(out, call.Input)
	}
	return out
}

var fixedNow = time.Date(2026, 5, 4, 2, 0, 0, 0, time.UTC)

func newRunner(t *testing.T, cfgOpts []testsupport.ConfigOption, opts ...workflow.Option) (*workflow.Runner, *fakeEngine, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	engine := &fakeEngine{}
	base := []workflow.Option{
		workflow.WithEngine(engine),
		workflow.WithClock(func() time.Time { return fixedNow }),
		workflow.WithRunIDs(func() string { return "run-0001" }),
		workflow.WithPreflight(false),
	}
	runner, err := workflow.NewRunner(cfg, logging.NewNop(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return runner, engine, cfg
}

func seedMedia(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		testsupport.WriteFile(t, path, 16)
		paths = append(paths, path)
	}
	return paths
}

func TestRunProcessesDiscoveredMedia(t *testing.T) {
	runner, engine, cfg := newRunner(t, nil)
	input := cfg.Paths.InputDir
	seedMedia(t, input, "a.mkv", "shows/b.mp4", "notes.txt", "c [SQUISH].mkv")

	out, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != workflow.StatusCompleted || out.RunID != "run-0001" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := out.Summary.SucceededCount(); got != 2 {
		t.Fatalf("expected 2 successes, got %d", got)
	}
	inputs := engine.inputs()
	if len(inputs) != 2 {
		t.Fatalf("expected 2 encodes, got %v", inputs)
	}
	for _, in := range inputs {
		if strings.Contains(in, "[SQUISH]") || strings.HasSuffix(in, ".txt") {
			t.Fatalf("unexpected encode input %s", in)
		}
		if _, err := os.Stat(in); !os.IsNotExist(err) {
			t.Fatalf("expected source %s removed", in)
		}
	}

	wantReport := filepath.Join(input, report.DatedName(fixedNow))
	if out.ReportPath != wantReport {
		t.Fatalf("expected report %s, got %s", wantReport, out.ReportPath)
	}
	body, err := os.ReadFile(wantReport)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(body), "Videos Succeeded: 2") {
		t.Fatalf("unexpected report body:\n%s", body)
	}
	if _, err := os.Stat(filepath.Join(input, "Squish CRON.log")); !os.IsNotExist(err) {
		t.Fatal("expected status artifact removed after run")
	}
}

func TestRunSkipsCompletedOnSecondRun(t *testing.T) {
	runner, engine, cfg := newRunner(t, []testsupport.ConfigOption{testsupport.WithDeleteSource(false)})
	seedMedia(t, cfg.Paths.InputDir, "a.mkv", "b.mkv")

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	out, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(out.Summary.Skipped) != 2 || len(out.Summary.Queued) != 0 {
		t.Fatalf("expected both files skipped, got %+v", out.Summary)
	}
	if got := len(engine.inputs()); got != 2 {
		t.Fatalf("expected no encodes on second run, got %d total", got)
	}
}

func TestRunRecordsFailuresInQueueState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine := &fakeEngine{encode: func(context.Context, handbrake.Invocation) (handbrake.Result, error) {
		return handbrake.Result{ExitCode: 3}, nil
	}}
	runner, err := workflow.NewRunner(cfg, logging.NewNop(), workflow.WithEngine(engine), workflow.WithPreflight(false))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	paths := seedMedia(t, cfg.Paths.InputDir, "broken.mkv")

	out, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Summary.EngineFailed) != 1 {
		t.Fatalf("expected engine failure, got %+v", out.Summary)
	}
	state := queuestate.NewStore(cfg.Paths.QueueStateFile, logging.NewNop()).Load()
	if !state.IsFailed(paths[0]) {
		t.Fatal("expected failure persisted to queue state")
	}
	if _, err := os.Stat(paths[0]); err != nil {
		t.Fatalf("expected failed source kept: %v", err)
	}
}

func TestRunRefusesWhileStatusArtifactPresent(t *testing.T) {
	runner, engine, cfg := newRunner(t, nil)
	seedMedia(t, cfg.Paths.InputDir, "a.mkv")
	status := cfg.Paths.StatusFile
	if err := os.WriteFile(status, []byte("Running"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != workflow.StatusAlreadyRunning {
		t.Fatalf("expected already running, got %s", out.Status)
	}
	body, err := os.ReadFile(out.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if string(body) != report.AlreadyRunningMessage {
		t.Fatalf("unexpected report body %q", body)
	}
	if len(engine.inputs()) != 0 {
		t.Fatal("expected no encodes")
	}
	if _, err := os.Stat(status); err != nil {
		t.Fatal("expected foreign status artifact left in place")
	}
}

func TestRunForceClearsStaleArtifact(t *testing.T) {
	runner, engine, cfg := newRunner(t, nil, workflow.WithForce(true))
	seedMedia(t, cfg.Paths.InputDir, "a.mkv")
	if err := os.WriteFile(cfg.Paths.StatusFile, []byte("Running"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != workflow.StatusCompleted || len(engine.inputs()) != 1 {
		t.Fatalf("expected forced run to process media, got %+v", out)
	}
}

func TestRunWritesCrashReport(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.InputDir = filepath.Join(testsupport.BaseDir(cfg), "missing")
	cfg.Paths.ReportDir = filepath.Join(testsupport.BaseDir(cfg), "reports")
	runner, err := workflow.NewRunner(cfg, logging.NewNop(),
		workflow.WithEngine(&fakeEngine{}),
		workflow.WithClock(func() time.Time { return fixedNow }),
		workflow.WithPreflight(false),
	)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	out, err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("expected run to fail for missing input dir")
	}
	if out.Status != workflow.StatusCrashed {
		t.Fatalf("expected crashed status, got %s", out.Status)
	}
	if filepath.Base(out.ReportPath) != report.CrashName(fixedNow) {
		t.Fatalf("unexpected crash report path %s", out.ReportPath)
	}
	if _, err := os.Stat(out.ReportPath); err != nil {
		t.Fatalf("expected crash report: %v", err)
	}
}

func TestRunInterruptedByCancellation(t *testing.T) {
	started := make(chan struct{}, 4)
	cfg := testsupport.NewConfig(t)
	engine := &fakeEngine{encode: func(ctx context.Context, _ handbrake.Invocation) (handbrake.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return handbrake.Result{}, ctx.Err()
	}}
	runner, err := workflow.NewRunner(cfg, logging.NewNop(), workflow.WithEngine(engine), workflow.WithPreflight(false))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	seedMedia(t, cfg.Paths.InputDir, "a.mkv", "b.mkv", "c.mkv", "d.mkv")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	out, err := runner.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if out.Status != workflow.StatusInterrupted {
		t.Fatalf("expected interrupted status, got %s", out.Status)
	}
	if len(out.Summary.Interrupted)+len(out.Summary.Unstarted) != 4 {
		t.Fatalf("expected every file interrupted or unstarted, got %+v", out.Summary)
	}
	if _, err := os.Stat(out.ReportPath); err != nil {
		t.Fatalf("expected report for interrupted run: %v", err)
	}
	state := queuestate.NewStore(cfg.Paths.QueueStateFile, logging.NewNop()).Load()
	if len(state.Completed) != 0 || len(state.Failed) != 0 {
		t.Fatalf("expected interrupted jobs not persisted, got %+v", state)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	runner, _, cfg := newRunner(t, nil)
	seedMedia(t, cfg.Paths.InputDir, "a.mkv")
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	store := testsupport.MustOpenHistory(t, cfg)
	runs, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-0001" || runs[0].Succeeded != 1 {
		t.Fatalf("unexpected history %+v", runs)
	}
	files, err := store.Files(context.Background(), "run-0001")
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0].Path) != "a.mkv" {
		t.Fatalf("unexpected history files %+v", files)
	}
}

func TestRunSkipsHistoryWhenDisabled(t *testing.T) {
	runner, _, cfg := newRunner(t, []testsupport.ConfigOption{testsupport.WithHistory(false)})
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(cfg.HistoryPath()); !os.IsNotExist(err) {
		t.Fatalf("expected no history database, stat err %v", err)
	}
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []notifications.RunSummary
	failed    []error
}

func (n *recordingNotifier) NotifyRunCompleted(_ context.Context, summary notifications.RunSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, summary)
	return nil
}

func (n *recordingNotifier) NotifyRunFailed(_ context.Context, err error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, err)
	return errors.New("ntfy unreachable")
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func TestRunNotifiesOutcome(t *testing.T) {
	notifier := &recordingNotifier{}
	runner, _, cfg := newRunner(t, nil, workflow.WithNotifier(notifier))

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("empty Run: %v", err)
	}
	if len(notifier.completed) != 0 {
		t.Fatalf("expected empty run to stay quiet, got %+v", notifier.completed)
	}

	seedMedia(t, cfg.Paths.InputDir, "a.mkv")
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(notifier.completed) != 1 || notifier.completed[0].Succeeded != 1 {
		t.Fatalf("expected one completion notification, got %+v", notifier.completed)
	}

	if err := os.RemoveAll(cfg.Paths.InputDir); err != nil {
		t.Fatal(err)
	}
	cfg.Paths.StatusFile = filepath.Join(testsupport.BaseDir(cfg), "status.log")
	cfg.Paths.ReportDir = filepath.Join(testsupport.BaseDir(cfg), "reports")
	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatal("expected run against a missing input dir to fail")
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("expected failure notification, got %d", len(notifier.failed))
	}
}

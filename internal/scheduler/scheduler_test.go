package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"squish/internal/config"
	"squish/internal/handbrake"
	"squish/internal/logging"
	"squish/internal/progress"
	"squish/internal/queuestate"
	"squish/internal/services"
)

// fakeEngine records concurrency per preset file. Tests give each group a
// distinct preset file so per-file counts are per-group counts.
type fakeEngine struct {
	mu        sync.Mutex
	active    map[string]int
	maxActive map[string]int
	total     int
	maxTotal  int
	calls     []handbrake.Invocation
	delay     time.Duration
	started   chan string
	verdict   func(handbrake.Invocation) (handbrake.Result, error)
}

func newFakeEngine(delay time.Duration) *fakeEngine {
	return &fakeEngine{
		active:    map[string]int{},
		maxActive: map[string]int{},
		delay:     delay,
	}
}

func (f *fakeEngine) Encode(ctx context.Context, inv handbrake.Invocation) (handbrake.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.active[inv.PresetFile]++
	f.total++
	f.maxActive[inv.PresetFile] = max(f.maxActive[inv.PresetFile], f.active[inv.PresetFile])
	f.maxTotal = max(f.maxTotal, f.total)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active[inv.PresetFile]--
		f.total--
		f.mu.Unlock()
	}()

	if f.started != nil {
		f.started <- inv.Input
	}
	if f.delay > 0 {
		timer := time.NewTimer(f.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return handbrake.Result{}, services.Wrap(services.ErrTimeout, "fake", "encode", "", ctx.Err())
			}
			return handbrake.Result{}, services.Wrap(services.ErrEngineInvocation, "fake", "encode", "", ctx.Err())
		}
	}
	if f.verdict != nil {
		return f.verdict(inv)
	}
	return handbrake.Result{Succeeded: true}, nil
}

func (f *fakeEngine) inputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Input)
	}
	return out
}

type recordingReporter struct {
	mu       sync.Mutex
	messages []string
	last     progress.Stats
}

func (r *recordingReporter) Report(message string, stats progress.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	r.last = stats
}

func (r *recordingReporter) Announce(message string, stats progress.Stats) {
	r.Report(message, stats)
}

type failingSaver struct{ calls int }

func (f *failingSaver) Save(*queuestate.State) error {
	f.calls++
	return services.Wrap(services.ErrStateIO, "test", "save", "disk full", nil)
}

func group(id string, maxInstances int) config.ProfileGroup {
	return config.ProfileGroup{ID: id, PresetFile: "/presets/" + id + ".json", PresetName: id + " preset", MaxInstances: maxInstances}
}

func files(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "/videos/" + n
	}
	return out
}

func newScheduler(t *testing.T, groups []config.ProfileGroup, engine handbrake.Engine, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(groups, Dependencies{
		Engine:   engine,
		Resolver: staticResolver{},
		Logger:   logging.NewNop(),
	}, append([]Option{WithRemoveFunc(func(string) error { return nil })}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

type staticResolver struct{}

func (staticResolver) Resolve(g config.ProfileGroup) (string, error) { return g.PresetName, nil }

type failingResolver struct{}

func (failingResolver) Resolve(g config.ProfileGroup) (string, error) {
	return "", services.Wrap(services.ErrProfileRead, "test", "resolve", g.ID, errors.New("missing"))
}

func TestNewRejectsInvalidGroups(t *testing.T) {
	engine := newFakeEngine(0)
	cases := map[string][]config.ProfileGroup{
		"empty":        nil,
		"zero ceiling": {group("cpu", 0)},
		"negative":     {group("cpu", -1)},
		"duplicate":    {group("cpu", 1), group("cpu", 2)},
	}
	for name, groups := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(groups, Dependencies{Engine: engine, Resolver: staticResolver{}})
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
	if _, err := New([]config.ProfileGroup{group("cpu", 1)}, Dependencies{Resolver: staticResolver{}}); err == nil {
		t.Fatal("expected error without engine")
	}
}

func TestRunSingleSlotDispatchesInInputOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	engine := newFakeEngine(5 * time.Millisecond)
	s := newScheduler(t, []config.ProfileGroup{group("cpu", 1)}, engine)
	input := files("a.mp4", "b.mp4", "c.mp4")

	summary, err := s.Run(context.Background(), input, queuestate.New())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := engine.inputs(); !reflect.DeepEqual(got, input) {
		t.Fatalf("dispatch order = %v, want %v", got, input)
	}
	if engine.maxTotal != 1 {
		t.Fatalf("expected strictly one job at a time, saw %d", engine.maxTotal)
	}
	if len(summary.Succeeded) != 3 {
		t.Fatalf("succeeded = %d", len(summary.Succeeded))
	}
}

func TestRunRespectsPerGroupCeilings(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	engine := newFakeEngine(40 * time.Millisecond)
	groups := []config.ProfileGroup{group("nvenc", 1), group("cpu", 2)}
	s := newScheduler(t, groups, engine)

	input := files("1.mp4", "2.mp4", "3.mp4", "4.mp4", "5.mp4", "6.mp4", "7.mp4", "8.mp4")
	summary, err := s.Run(context.Background(), input, queuestate.New())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if engine.maxActive["/presets/nvenc.json"] > 1 {
		t.Fatalf("nvenc exceeded ceiling: %d", engine.maxActive["/presets/nvenc.json"])
	}
	if engine.maxActive["/presets/cpu.json"] > 2 {
		t.Fatalf("cpu exceeded ceiling: %d", engine.maxActive["/presets/cpu.json"])
	}
	if engine.maxTotal != 3 {
		t.Fatalf("expected 3 concurrent jobs at peak, saw %d", engine.maxTotal)
	}
	if len(summary.Succeeded) != len(input) {
		t.Fatalf("succeeded = %d, want %d", len(summary.Succeeded), len(input))
	}
	perGroup := map[string]int{}
	for _, res := range summary.Succeeded {
		perGroup[res.GroupID]++
	}
	if perGroup["nvenc"] == 0 || perGroup["cpu"] == 0 {
		t.Fatalf("expected both groups used, got %v", perGroup)
	}
}

func TestRunInitialFillFollowsGroupOrder(t *testing.T) {
	engine := newFakeEngine(0)
	release := make(chan struct{})
	engine.verdict = func(handbrake.Invocation) (handbrake.Result, error) {
		<-release
		return handbrake.Result{Succeeded: true}, nil
	}
	engine.started = make(chan string, 8)
	reporter := &recordingReporter{}
	s, err := New([]config.ProfileGroup{group("nvenc", 1), group("cpu", 2)}, Dependencies{
		Engine: engine, Resolver: staticResolver{}, Progress: reporter,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan Summary, 1)
	go func() {
		summary, _ := s.Run(context.Background(), files("a.mp4", "b.mp4", "c.mp4", "d.mp4"), queuestate.New())
		done <- summary
	}()
	for range 3 {
		<-engine.started
	}
	reporter.mu.Lock()
	first := append([]string(nil), reporter.messages[:3]...)
	running := reporter.last.Running
	queued := reporter.last.Queued
	reporter.mu.Unlock()
	if !reflect.DeepEqual(first, []string{"Transcoding (nvenc)", "Transcoding (cpu)", "Transcoding (cpu)"}) {
		t.Fatalf("unexpected dispatch announcements %v", first)
	}
	if running != 3 || queued != 1 {
		t.Fatalf("stats after fill = running %d queued %d", running, queued)
	}
	close(release)
	summary := <-done

	byFile := map[string]string{}
	for _, res := range summary.Succeeded {
		byFile[filepath.Base(res.Path)] = res.GroupID
	}
	if byFile["a.mp4"] != "nvenc" || byFile["b.mp4"] != "cpu" || byFile["c.mp4"] != "cpu" {
		t.Fatalf("unexpected group assignment %v", byFile)
	}
}

func TestRunSkipsCompletedAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := queuestate.NewStore(path, logging.NewNop())
	input := files("a.mp4", "b.mp4", "c.mp4")

	state := queuestate.New()
	state.MarkCompleted(input[1])
	engine := newFakeEngine(0)
	s, err := New([]config.ProfileGroup{group("cpu", 2)}, Dependencies{Engine: engine, Resolver: staticResolver{}, State: store},
		WithDeleteSource(false))
	if err != nil {
		t.Fatal(err)
	}

	first, err := s.Run(context.Background(), input, state)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first.Skipped, []string{input[1]}) {
		t.Fatalf("skipped = %v", first.Skipped)
	}
	if !reflect.DeepEqual(first.Queued, []string{input[0], input[2]}) {
		t.Fatalf("queued = %v", first.Queued)
	}
	for _, call := range engine.inputs() {
		if call == input[1] {
			t.Fatal("completed file was dispatched")
		}
	}

	second := newFakeEngine(0)
	s2, err := New([]config.ProfileGroup{group("cpu", 2)}, Dependencies{Engine: second, Resolver: staticResolver{}, State: store})
	if err != nil {
		t.Fatal(err)
	}
	summary, err := s2.Run(context.Background(), input, store.Load())
	if err != nil {
		t.Fatal(err)
	}
	if len(second.inputs()) != 0 {
		t.Fatalf("expected no dispatch on second run, got %v", second.inputs())
	}
	if len(summary.Skipped) != 3 || len(summary.Queued) != 0 || summary.Detected() != 3 {
		t.Fatalf("unexpected second summary %+v", summary)
	}
}

func TestRunClassifiesOutcomes(t *testing.T) {
	input := files("ok.mp4", "marker.mp4", "fail.mp4", "crash.mp4", "undeletable.mp4")
	engine := newFakeEngine(0)
	engine.verdict = func(inv handbrake.Invocation) (handbrake.Result, error) {
		switch filepath.Base(inv.Input) {
		case "marker.mp4":
			return handbrake.Result{Succeeded: true, MarkerSeen: true, ExitCode: 1}, nil
		case "fail.mp4":
			return handbrake.Result{ExitCode: 3, OutputTail: "boom"}, nil
		case "crash.mp4":
			return handbrake.Result{}, services.Wrap(services.ErrEngineInvocation, "fake", "start", "", errors.New("exec format error"))
		}
		return handbrake.Result{Succeeded: true}, nil
	}
	var removed []string
	remove := func(path string) error {
		if filepath.Base(path) == "undeletable.mp4" {
			return errors.New("permission denied")
		}
		removed = append(removed, path)
		return nil
	}
	state := queuestate.New()
	s := newScheduler(t, []config.ProfileGroup{group("cpu", 1)}, engine, WithDeleteSource(true), WithRemoveFunc(remove))

	summary, err := s.Run(context.Background(), input, state)
	if err != nil {
		t.Fatal(err)
	}
	paths := func(rs []FileResult) []string {
		out := []string{}
		for _, r := range rs {
			out = append(out, filepath.Base(r.Path))
		}
		return out
	}
	if got := paths(summary.Succeeded); !reflect.DeepEqual(got, []string{"ok.mp4", "marker.mp4"}) {
		t.Fatalf("succeeded = %v", got)
	}
	if got := paths(summary.SourceNotDeleted); !reflect.DeepEqual(got, []string{"undeletable.mp4"}) {
		t.Fatalf("source not deleted = %v", got)
	}
	if got := paths(summary.EngineFailed); !reflect.DeepEqual(got, []string{"fail.mp4"}) {
		t.Fatalf("engine failed = %v", got)
	}
	if got := paths(summary.InvokeFailed); !reflect.DeepEqual(got, []string{"crash.mp4"}) {
		t.Fatalf("invoke failed = %v", got)
	}
	if !errors.Is(summary.EngineFailed[0].Err, services.ErrEngineReportedFailure) {
		t.Fatalf("engine failure error = %v", summary.EngineFailed[0].Err)
	}
	if !errors.Is(summary.SourceNotDeleted[0].Err, services.ErrSourceDeletion) {
		t.Fatalf("deletion error = %v", summary.SourceNotDeleted[0].Err)
	}
	for _, name := range []string{"ok.mp4", "marker.mp4", "undeletable.mp4"} {
		if !state.IsCompleted("/videos/" + name) {
			t.Fatalf("%s should be completed", name)
		}
	}
	for _, name := range []string{"fail.mp4", "crash.mp4"} {
		if !state.IsFailed("/videos/" + name) {
			t.Fatalf("%s should be failed", name)
		}
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %v", removed)
	}
	if summary.SucceededCount() != 3 || summary.FailedCount() != 2 || len(summary.All()) != 5 {
		t.Fatalf("unexpected counts %+v", summary.Results)
	}
}

func TestRunDeleteDisabledKeepsSource(t *testing.T) {
	engine := newFakeEngine(0)
	s := newScheduler(t, []config.ProfileGroup{group("cpu", 1)}, engine, WithDeleteSource(false),
		WithRemoveFunc(func(string) error {
			t.Fatal("remove must not be called when deletion is disabled")
			return nil
		}))
	summary, err := s.Run(context.Background(), files("a.mp4"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Succeeded) != 1 {
		t.Fatalf("expected success, got %+v", summary.Results)
	}
}

func TestRunProfileReadErrorIsInvokeFailure(t *testing.T) {
	engine := newFakeEngine(0)
	s, err := New([]config.ProfileGroup{group("cpu", 1)}, Dependencies{Engine: engine, Resolver: failingResolver{}})
	if err != nil {
		t.Fatal(err)
	}
	state := queuestate.New()
	summary, err := s.Run(context.Background(), files("a.mp4", "b.mp4"), state)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.InvokeFailed) != 2 || len(engine.inputs()) != 0 {
		t.Fatalf("expected two invoke failures without engine calls, got %+v", summary.Results)
	}
	if !errors.Is(summary.InvokeFailed[0].Err, services.ErrProfileRead) {
		t.Fatalf("error = %v", summary.InvokeFailed[0].Err)
	}
	if !state.IsFailed("/videos/a.mp4") {
		t.Fatal("expected failed state")
	}
}

func TestRunEmptyQueueSpawnsNothing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	input := files("a.mp4", "b.mp4")
	state := queuestate.New()
	for _, f := range input {
		state.MarkCompleted(f)
	}
	engine := newFakeEngine(0)
	reporter := &recordingReporter{}
	s, err := New([]config.ProfileGroup{group("cpu", 1)}, Dependencies{Engine: engine, Resolver: staticResolver{}, Progress: reporter})
	if err != nil {
		t.Fatal(err)
	}

	summary, err := s.Run(context.Background(), input, state)
	if err != nil {
		t.Fatal(err)
	}
	if len(engine.inputs()) != 0 || len(summary.All()) != 0 {
		t.Fatalf("expected nothing dispatched, got %+v", summary)
	}
	if !reflect.DeepEqual(summary.Skipped, input) {
		t.Fatalf("skipped = %v", summary.Skipped)
	}
	if len(reporter.messages) != 0 {
		t.Fatalf("expected no progress reports, got %v", reporter.messages)
	}
}

func TestRunSaveFailureIsSoft(t *testing.T) {
	engine := newFakeEngine(0)
	saver := &failingSaver{}
	s, err := New([]config.ProfileGroup{group("cpu", 2)}, Dependencies{Engine: engine, Resolver: staticResolver{}, State: saver})
	if err != nil {
		t.Fatal(err)
	}
	summary, err := s.Run(context.Background(), files("a.mp4", "b.mp4", "c.mp4"), queuestate.New())
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Succeeded) != 3 {
		t.Fatalf("expected run to continue past save failures, got %+v", summary.Results)
	}
	if saver.calls != 3 {
		t.Fatalf("expected a save per completion, got %d", saver.calls)
	}
}

func TestRunJobTimeoutIsInvokeFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	engine := newFakeEngine(time.Minute)
	s := newScheduler(t, []config.ProfileGroup{group("cpu", 2)}, engine, WithJobTimeout(30*time.Millisecond))

	state := queuestate.New()
	summary, err := s.Run(context.Background(), files("slow.mp4"), state)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.InvokeFailed) != 1 {
		t.Fatalf("expected invoke failure, got %+v", summary.Results)
	}
	if services.Kind(summary.InvokeFailed[0].Err) != services.KindTimeout {
		t.Fatalf("expected timeout kind, got %v", summary.InvokeFailed[0].Err)
	}
	if !state.IsFailed("/videos/slow.mp4") {
		t.Fatal("expected timed-out file marked failed")
	}
}

func TestRunCancellationInterruptsInFlight(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	engine := newFakeEngine(time.Minute)
	engine.started = make(chan string, 4)
	s := newScheduler(t, []config.ProfileGroup{group("cpu", 2)}, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	state := queuestate.New()
	input := files("a.mp4", "b.mp4", "c.mp4")

	type outcome struct {
		summary Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		summary, err := s.Run(ctx, input, state)
		done <- outcome{summary, err}
	}()
	<-engine.started
	<-engine.started
	cancel()
	got := <-done

	if !errors.Is(got.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", got.err)
	}
	if len(got.summary.Interrupted) != 2 {
		t.Fatalf("interrupted = %+v", got.summary.Interrupted)
	}
	if !reflect.DeepEqual(got.summary.Unstarted, []string{input[2]}) {
		t.Fatalf("unstarted = %v", got.summary.Unstarted)
	}
	if len(got.summary.All()) != 0 {
		t.Fatalf("expected no bucketed results, got %+v", got.summary.Results)
	}
	for _, f := range input {
		if state.IsCompleted(f) || state.IsFailed(f) {
			t.Fatalf("%s should not be recorded after cancellation", f)
		}
	}
}

func TestRunAlreadyCancelled(t *testing.T) {
	engine := newFakeEngine(0)
	s := newScheduler(t, []config.ProfileGroup{group("cpu", 1)}, engine)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.Run(ctx, files("a.mp4"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if len(engine.inputs()) != 0 || len(summary.Unstarted) != 1 {
		t.Fatalf("expected nothing dispatched, got %+v", summary)
	}
}

func TestRunReportsFinalStats(t *testing.T) {
	engine := newFakeEngine(0)
	engine.verdict = func(inv handbrake.Invocation) (handbrake.Result, error) {
		if filepath.Base(inv.Input) == "bad.mp4" {
			return handbrake.Result{ExitCode: 1}, nil
		}
		return handbrake.Result{Succeeded: true}, nil
	}
	reporter := &recordingReporter{}
	s, err := New([]config.ProfileGroup{group("cpu", 1)}, Dependencies{Engine: engine, Resolver: staticResolver{}, Progress: reporter})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background(), files("good.mp4", "bad.mp4"), nil); err != nil {
		t.Fatal(err)
	}
	want := progress.Stats{Running: 0, Queued: 0, Succeeded: 1, Failed: 1, Jobs: []progress.RunningJob{}}
	if !reflect.DeepEqual(reporter.last, want) {
		t.Fatalf("final stats = %+v, want %+v", reporter.last, want)
	}
	if reporter.messages[len(reporter.messages)-1] != "Updated queue state" {
		t.Fatalf("unexpected last message %q", reporter.messages[len(reporter.messages)-1])
	}
}

func TestRunDropsNormalizationDuplicates(t *testing.T) {
	engine := newFakeEngine(0)
	s := newScheduler(t, []config.ProfileGroup{group("cpu", 2)}, engine)
	composed := "/videos/Caf\u00e9.mkv"
	decomposed := "/videos/Cafe\u0301.mkv"

	summary, err := s.Run(context.Background(), []string{composed, decomposed}, queuestate.New())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := engine.inputs(); !reflect.DeepEqual(got, []string{composed}) {
		t.Fatalf("expected one dispatch for both spellings, got %q", got)
	}
	if len(summary.Queued) != 1 || len(summary.Succeeded) != 1 {
		t.Fatalf("unexpected summary: queued=%v succeeded=%d", summary.Queued, len(summary.Succeeded))
	}
}

func TestRunPassesDerivedOutputPath(t *testing.T) {
	engine := newFakeEngine(0)
	s := newScheduler(t, []config.ProfileGroup{group("cpu", 1)}, engine, WithOutput(" [SMALL]", "mp4"))
	if _, err := s.Run(context.Background(), []string{"/videos/Show/Ep 1.avi"}, nil); err != nil {
		t.Fatal(err)
	}
	call := engine.calls[0]
	if call.Output != "/videos/Show/Ep 1 [SMALL].mp4" {
		t.Fatalf("output = %q", call.Output)
	}
	if call.PresetFile != "/presets/cpu.json" || call.PresetName != "cpu preset" {
		t.Fatalf("unexpected invocation %+v", call)
	}
}

func TestOutputPath(t *testing.T) {
	cases := []struct {
		source, suffix, ext, want string
	}{
		{"/v/movie.mp4", " [SQUISH]", "mkv", "/v/movie [SQUISH].mkv"},
		{"/v/a.b.c.wmv", " [SQUISH]", ".mkv", "/v/a.b.c [SQUISH].mkv"},
		{"/v/noext", "-x", "mkv", "/v/noext-x.mkv"},
		{"/v.dir/clip.MOV", "_s", "mp4", "/v.dir/clip_s.mp4"},
	}
	for _, tc := range cases {
		if got := OutputPath(tc.source, tc.suffix, tc.ext); got != tc.want {
			t.Errorf("OutputPath(%q) = %q, want %q", tc.source, got, tc.want)
		}
	}
}

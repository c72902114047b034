package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"scanbot/internal/eventbus"
	logx "scanbot/pkg/logx"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (w *syncBuffer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}

func (w *syncBuffer) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.String()
}

func newTestService(t *testing.T, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(Config{Timezone: "UTC"}, logx.Nop(), bus)
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func jobInfo(s *Service, name string) JobInfo {
	for _, j := range s.Snapshot().Jobs {
		if j.Name == name {
			return j
		}
	}
	return JobInfo{}
}

func TestAddJobValidation(t *testing.T) {
	t.Parallel()
	s := newTestService(t, nil)
	noop := func(context.Context) error { return nil }

	if err := s.AddJob("0 9 * * 1-5", Job{Name: " ", Handler: noop}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.AddJob("0 9 * * 1-5", Job{Name: "scan"}); err == nil {
		t.Fatal("expected error for nil handler")
	}
	if err := s.AddJob("0 9 * *", Job{Name: "scan", Handler: noop}); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("err = %v, want ErrInvalidSpec", err)
	}
	if err := s.AddJob("0 9 * * 1-5", Job{Name: "scan", Handler: noop}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := s.AddJob("0 10 * * *", Job{Name: "scan", Handler: noop}); err != nil {
		t.Fatalf("AddJob upsert: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Jobs) != 1 || snap.Jobs[0].Spec != "0 10 * * *" {
		t.Fatalf("jobs = %+v", snap.Jobs)
	}
	if !s.RemoveJob("scan") || s.RemoveJob("scan") {
		t.Fatal("RemoveJob should succeed once")
	}
}

func TestTickFiresOnlyMatchingJobs(t *testing.T) {
	t.Parallel()
	s := newTestService(t, nil)
	fired := make(chan string, 4)
	mk := func(name string) Job {
		return Job{Name: name, Handler: func(context.Context) error { fired <- name; return nil }}
	}
	if err := s.AddJob("0 10 * * 1-5", mk("weekday")); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("0 10 * * 0", mk("sunday")); err != nil {
		t.Fatal(err)
	}

	monday := time.Date(2026, 10, 19, 10, 0, 12, 0, time.UTC)
	if n := s.tick(monday); n != 1 {
		t.Fatalf("tick fired %d jobs, want 1", n)
	}
	select {
	case name := <-fired:
		if name != "weekday" {
			t.Fatalf("fired %q", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}

	// Same minute again is ignored.
	if n := s.tick(monday.Add(20 * time.Second)); n != 0 {
		t.Fatalf("repeated minute fired %d jobs", n)
	}
	if n := s.tick(monday.Add(time.Minute)); n != 0 {
		t.Fatalf("10:01 fired %d jobs", n)
	}
	if n := s.tick(time.Date(2026, 10, 24, 10, 0, 0, 0, time.UTC)); n != 0 {
		t.Fatalf("saturday fired %d jobs", n)
	}
}

func TestTickSkipsJobStillRunning(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := newTestService(t, bus)
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	err := s.AddJob("* * * * *", Job{Name: "scan", Handler: func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	if n := s.tick(base); n != 1 {
		t.Fatalf("first tick fired %d", n)
	}
	<-started
	if n := s.tick(base.Add(time.Minute)); n != 0 {
		t.Fatalf("overlapping tick fired %d", n)
	}
	if err := s.Trigger("scan"); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("Trigger err = %v, want ErrJobRunning", err)
	}

	select {
	case ev := <-events:
		skip, ok := ev.Data.(JobSkipped)
		if ev.Type != eventbus.TypeJobSkipped || !ok || skip.Name != "scan" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no skip event published")
	}

	close(release)
	waitFor(t, "job to finish", func() bool { return !jobInfo(s, "scan").Running })

	info := jobInfo(s, "scan")
	if info.Runs != 1 || info.Skips != 2 {
		t.Fatalf("runs=%d skips=%d, want 1 and 2", info.Runs, info.Skips)
	}
	if n := s.tick(base.Add(2 * time.Minute)); n != 1 {
		t.Fatalf("tick after finish fired %d", n)
	}
	<-started
}

func TestTriggerUnknownJob(t *testing.T) {
	t.Parallel()
	s := newTestService(t, nil)
	if err := s.Trigger("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
}

func TestReAddedJobWaitsForRemovedRun(t *testing.T) {
	t.Parallel()
	s := newTestService(t, nil)

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	handler := func(ctx context.Context) error {
		mu.Lock()
		active++
		maxSeen = max(maxSeen, active)
		mu.Unlock()
		started <- struct{}{}
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}

	if err := s.AddJob("0 0 1 1 *", Job{Name: "scan", Handler: handler}); err != nil {
		t.Fatal(err)
	}
	if err := s.Trigger("scan"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	<-started

	if !s.RemoveJob("scan") {
		t.Fatal("RemoveJob = false")
	}
	if err := s.AddJob("0 0 1 1 *", Job{Name: "scan", Handler: handler}); err != nil {
		t.Fatal(err)
	}
	if err := s.Trigger("scan"); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("Trigger while removed run in flight: err = %v, want ErrJobRunning", err)
	}
	if !jobInfo(s, "scan").Running {
		t.Fatal("re-added job not reported running")
	}

	close(release)
	waitFor(t, "guard released", func() bool { return !jobInfo(s, "scan").Running })
	if err := s.Trigger("scan"); err != nil {
		t.Fatalf("Trigger after release: %v", err)
	}
	<-started
	waitFor(t, "second run", func() bool { return !jobInfo(s, "scan").Running })

	mu.Lock()
	defer mu.Unlock()
	if maxSeen != 1 {
		t.Fatalf("max concurrent executions = %d, want 1", maxSeen)
	}
}

func TestRemoveIdleJobForgetsGuard(t *testing.T) {
	t.Parallel()
	s := newTestService(t, nil)
	if err := s.AddJob("0 0 1 1 *", Job{Name: "scan", Handler: func(context.Context) error { return nil }}); err != nil {
		t.Fatal(err)
	}
	s.RemoveJob("scan")
	s.mu.Lock()
	_, kept := s.guards["scan"]
	s.mu.Unlock()
	if kept {
		t.Fatal("guard of idle removed job kept")
	}
	if s.RemoveJob("scan") {
		t.Fatal("second RemoveJob = true")
	}
}

func TestJobRunsUnderOwnTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC", JobTimeout: 30 * time.Millisecond}, logx.Nop(), nil)
	err := s.AddJob("* * * * *", Job{Name: "slow", Handler: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Trigger("slow"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, "timeout", func() bool {
		i := jobInfo(s, "slow")
		return i.Runs == 1 && !i.Running && i.LastError != ""
	})
	if got := jobInfo(s, "slow").LastError; !strings.Contains(got, context.DeadlineExceeded.Error()) {
		t.Fatalf("LastError = %q", got)
	}
}

func TestJobPanicIsRecorded(t *testing.T) {
	t.Parallel()
	s := newTestService(t, nil)
	err := s.AddJob("* * * * *", Job{Name: "boom", Handler: func(context.Context) error { panic("kaput") }})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Trigger("boom"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, "panic recorded", func() bool { return strings.Contains(jobInfo(s, "boom").LastError, "kaput") })
	if jobInfo(s, "boom").Running {
		t.Fatal("guard not released after panic")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()
	buf := &syncBuffer{}
	s := New(Config{}, logx.NewWriter(buf, "debug"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx)
	if !s.Running() {
		t.Fatal("scheduler not running")
	}
	if got := strings.Count(buf.String(), "already running"); got != 1 {
		t.Fatalf("warnings = %d, want 1; log:\n%s", got, buf.String())
	}
	if got := strings.Count(buf.String(), "scheduler started"); got != 1 {
		t.Fatalf("loops started = %d, want 1", got)
	}

	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatal("scheduler still running after Stop")
	}
	s.Start(ctx)
	if !s.Running() {
		t.Fatal("restart failed")
	}
	cancel()
	waitFor(t, "loop exit on ctx cancel", func() bool { return !s.Running() })
}

func TestSnapshotReportsNextFire(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC"}, logx.Nop(), nil)
	s.now = func() time.Time { return time.Date(2026, 10, 23, 12, 0, 0, 0, time.UTC) } // Friday
	if err := s.AddJob("0 9 * * 1-5", Job{Name: "scan", Handler: func(context.Context) error { return nil }}); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.Timezone != "UTC" || snap.JobTimeout != DefaultJobTimeout || snap.Running {
		t.Fatalf("snapshot = %+v", snap)
	}
	want := time.Date(2026, 10, 26, 9, 0, 0, 0, time.UTC) // Monday
	if got := snap.Jobs[0].Next; !got.Equal(want) {
		t.Fatalf("Next = %s, want %s", got, want)
	}
}

package scheduler_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qri-io/ioes"
	"github.com/qri-io/iso8601"

	"github.com/migrato/migrato/event"
	"github.com/migrato/migrato/migration"
	"github.com/migrato/migrato/scheduler"
)

func fastOptions() scheduler.Options {
	return scheduler.Options{
		MaxConcurrent: 2,
		CheckInterval: time.Millisecond * 10,
		MaxAttempts:   3,
		BackoffBase:   time.Millisecond * 5,
		BackoffMax:    time.Millisecond * 20,
	}
}

// waitForStatus polls the store until the job reaches the wanted status,
// failing the test after a second
func waitForStatus(t *testing.T, store migration.Store, id string, want migration.Status) *migration.Job {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(time.Millisecond * 5)
	}
	job, _ := store.GetJob(ctx, id)
	t.Fatalf("timed out waiting for job %s to reach %s, status: %s", id, want, job.Status)
	return nil
}

func mustCreate(t *testing.T, store migration.Store, job *migration.Job) {
	t.Helper()
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
}

func TestSchedulerBoundedAdmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := migration.NewMemStore()
	jobs := make([]*migration.Job, 3)
	for i := range jobs {
		jobs[i] = migration.NewJob(fmt.Sprintf("https://src.example/repo-%d.git", i), fmt.Sprintf("target-%d", i))
		// keep creation order unambiguous
		jobs[i].CreatedAt = jobs[i].CreatedAt.Add(time.Duration(i) * time.Millisecond)
		mustCreate(t, store, jobs[i])
	}

	var started sync.Map
	release := make(chan struct{})
	runner := func(ctx context.Context, _ ioes.IOStreams, job *migration.Job, report scheduler.ReportFunc) (string, error) {
		started.Store(job.ID, time.Now())
		<-release
		report(10, 10, "rev-10")
		return "rev-10", nil
	}

	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	go sch.Start(ctx)

	waitForStatus(t, store, jobs[0].ID, migration.StatusRunning)
	waitForStatus(t, store, jobs[1].ID, migration.StatusRunning)

	// the third job must stay queued while both slots are occupied
	time.Sleep(time.Millisecond * 50)
	third, err := store.GetJob(ctx, jobs[2].ID)
	if err != nil {
		t.Fatal(err)
	}
	if third.Status != migration.StatusPending {
		t.Errorf("expected third job to wait in %s, got: %s", migration.StatusPending, third.Status)
	}

	close(release)
	for _, job := range jobs {
		got := waitForStatus(t, store, job.ID, migration.StatusCompleted)
		if got.LastSyncedRevision != "rev-10" {
			t.Errorf("job %s revision, expected: %q, got: %q", job.ID, "rev-10", got.LastSyncedRevision)
		}
		if got.LastSyncedAt == nil {
			t.Errorf("job %s expected LastSyncedAt to be set", job.ID)
		}
	}

	// first and second jobs must have started before the third
	for _, early := range jobs[:2] {
		tEarly, _ := started.Load(early.ID)
		tLate, _ := started.Load(jobs[2].ID)
		if !tEarly.(time.Time).Before(tLate.(time.Time)) {
			t.Errorf("expected job %s to start before job %s", early.ID, jobs[2].ID)
		}
	}
}

func TestSchedulerRetryPolicy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := migration.NewMemStore()
	job := migration.NewJob("https://src.example/flaky.git", "target-flaky")
	mustCreate(t, store, job)

	var attempts int64
	runner := func(ctx context.Context, _ ioes.IOStreams, _ *migration.Job, report scheduler.ReportFunc) (string, error) {
		n := atomic.AddInt64(&attempts, 1)
		report(int(n), 10, "")
		return "", migration.NewRetryableError(fmt.Errorf("source unreachable"))
	}

	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	go sch.Start(ctx)

	waitForStatus(t, store, job.ID, migration.StatusFailed)

	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Errorf("attempt count, expected: %d, got: %d", 3, got)
	}

	entries, err := store.QueueEntries(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("queue entry count, expected: %d, got: %d", 3, len(entries))
	}
	for i, e := range entries {
		if e.Status != migration.StatusFailed {
			t.Errorf("entry %d status, expected: %s, got: %s", i, migration.StatusFailed, e.Status)
		}
	}

	logs, err := store.Logs(ctx, job.ID, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	// one warning per attempt, including the final one, plus one summary
	warnings, retries, summaries := 0, 0, 0
	for _, l := range logs {
		if l.Level == migration.LogLevelWarning && strings.HasPrefix(l.Message, "attempt ") {
			warnings++
			if strings.Contains(l.Message, "retrying in") {
				retries++
			}
		}
		if l.Level == migration.LogLevelError && strings.Contains(l.Message, "failed after 3 attempts") {
			summaries++
		}
	}
	if warnings != 3 {
		t.Errorf("attempt warning log count, expected: %d, got: %d", 3, warnings)
	}
	if retries != 2 {
		t.Errorf("retry warning log count, expected: %d, got: %d", 2, retries)
	}
	if summaries != 1 {
		t.Errorf("failure summary log count, expected: %d, got: %d", 1, summaries)
	}
}

func TestSchedulerFatalErrorSkipsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := migration.NewMemStore()
	job := migration.NewJob("https://src.example/bad.git", "target-bad")
	mustCreate(t, store, job)

	var attempts int64
	runner := func(ctx context.Context, _ ioes.IOStreams, _ *migration.Job, _ scheduler.ReportFunc) (string, error) {
		atomic.AddInt64(&attempts, 1)
		return "", migration.NewFatalError(fmt.Errorf("layout config rejects repository shape"))
	}

	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	go sch.Start(ctx)

	waitForStatus(t, store, job.ID, migration.StatusFailed)
	if got := atomic.LoadInt64(&attempts); got != 1 {
		t.Errorf("attempt count, expected: %d, got: %d", 1, got)
	}
}

func TestSchedulerReconcilesInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := migration.NewMemStore()

	running := migration.NewJob("https://src.example/interrupted.git", "target-a")
	mustCreate(t, store, running)
	if _, err := store.UpdateStatus(ctx, running.ID, migration.StatusRunning, migration.StatusUpdate{
		RunID: migration.NewRunID(),
	}); err != nil {
		t.Fatal(err)
	}

	syncing := migration.NewJob("https://src.example/interrupted-sync.git", "target-b")
	mustCreate(t, store, syncing)
	for _, next := range []migration.Status{migration.StatusRunning, migration.StatusCompleted, migration.StatusSyncing} {
		if _, err := store.UpdateStatus(ctx, syncing.ID, next, migration.StatusUpdate{}); err != nil {
			t.Fatal(err)
		}
	}

	var invoked int64
	runner := func(ctx context.Context, _ ioes.IOStreams, _ *migration.Job, _ scheduler.ReportFunc) (string, error) {
		atomic.AddInt64(&invoked, 1)
		return "", nil
	}

	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	go sch.Start(ctx)

	for _, id := range []string{running.ID, syncing.ID} {
		waitForStatus(t, store, id, migration.StatusFailed)
		logs, err := store.Logs(ctx, id, 0, -1)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, l := range logs {
			if l.Level == migration.LogLevelError && l.Message == "interrupted by restart" {
				found = true
			}
		}
		if !found {
			t.Errorf("job %s expected an interrupted-by-restart log entry", id)
		}
	}

	if got := atomic.LoadInt64(&invoked); got != 0 {
		t.Errorf("runner invocations for interrupted jobs, expected: %d, got: %d", 0, got)
	}
}

func TestSchedulerCooperativeCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := migration.NewMemStore()
	job := migration.NewJob("https://src.example/cancel-me.git", "target-cancel")
	mustCreate(t, store, job)

	runner := func(ctx context.Context, _ ioes.IOStreams, _ *migration.Job, report scheduler.ReportFunc) (string, error) {
		report(3, 10, "rev-3")
		<-ctx.Done()
		// stop at the last completed checkpoint
		return "rev-3", ctx.Err()
	}

	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	go sch.Start(ctx)

	waitForStatus(t, store, job.ID, migration.StatusRunning)
	if err := sch.Cancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	got := waitForStatus(t, store, job.ID, migration.StatusCancelled)
	if got.LastSyncedRevision != "rev-3" {
		t.Errorf("checkpoint revision, expected: %q, got: %q", "rev-3", got.LastSyncedRevision)
	}
}

func TestSchedulerCancelQueuedJob(t *testing.T) {
	ctx := context.Background()
	store := migration.NewMemStore()
	job := migration.NewJob("https://src.example/never-ran.git", "target-queued")
	mustCreate(t, store, job)

	runner := func(ctx context.Context, _ ioes.IOStreams, _ *migration.Job, _ scheduler.ReportFunc) (string, error) {
		return "", nil
	}
	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}

	// no Start call: the job stays queued, cancel applies directly
	if err := sch.Cancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != migration.StatusCancelled {
		t.Errorf("status, expected: %s, got: %s", migration.StatusCancelled, got.Status)
	}
}

func TestSchedulerPauseResume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := migration.NewMemStore()
	job := migration.NewJob("https://src.example/pausable.git", "target-pause")
	mustCreate(t, store, job)

	var resumedFrom atomic.Value
	runner := func(ctx context.Context, _ ioes.IOStreams, job *migration.Job, report scheduler.ReportFunc) (string, error) {
		if job.LastSyncedRevision == "" {
			report(5, 10, "rev-5")
			<-ctx.Done()
			return "rev-5", ctx.Err()
		}
		resumedFrom.Store(job.LastSyncedRevision)
		report(10, 10, "rev-10")
		return "rev-10", nil
	}

	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	go sch.Start(ctx)

	waitForStatus(t, store, job.ID, migration.StatusRunning)
	if err := sch.Pause(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	paused := waitForStatus(t, store, job.ID, migration.StatusPaused)
	if paused.LastSyncedRevision != "rev-5" {
		t.Errorf("paused checkpoint, expected: %q, got: %q", "rev-5", paused.LastSyncedRevision)
	}

	if err := sch.Resume(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	done := waitForStatus(t, store, job.ID, migration.StatusCompleted)
	if done.LastSyncedRevision != "rev-10" {
		t.Errorf("final revision, expected: %q, got: %q", "rev-10", done.LastSyncedRevision)
	}
	if got := resumedFrom.Load(); got != "rev-5" {
		t.Errorf("resume checkpoint handed to capability, expected: %q, got: %v", "rev-5", got)
	}
}

func TestSchedulerCancelPausedJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := migration.NewMemStore()
	job := migration.NewJob("https://src.example/pause-then-cancel.git", "target-ptc")
	mustCreate(t, store, job)

	var invoked int64
	runner := func(ctx context.Context, _ ioes.IOStreams, _ *migration.Job, report scheduler.ReportFunc) (string, error) {
		atomic.AddInt64(&invoked, 1)
		report(5, 10, "rev-5")
		<-ctx.Done()
		return "rev-5", ctx.Err()
	}

	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	go sch.Start(ctx)

	waitForStatus(t, store, job.ID, migration.StatusRunning)
	if err := sch.Pause(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, store, job.ID, migration.StatusPaused)

	// cancelling a paused job finishes it in place, without another run
	if err := sch.Cancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	got := waitForStatus(t, store, job.ID, migration.StatusCancelled)
	if got.LastSyncedRevision != "rev-5" {
		t.Errorf("checkpoint revision, expected: %q, got: %q", "rev-5", got.LastSyncedRevision)
	}

	time.Sleep(time.Millisecond * 50)
	if got := atomic.LoadInt64(&invoked); got != 1 {
		t.Errorf("runner invocations, expected: %d, got: %d", 1, got)
	}
	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != migration.StatusCancelled {
		t.Errorf("status, expected: %s, got: %s", migration.StatusCancelled, final.Status)
	}
}

func TestSchedulerPauseRequiresRunning(t *testing.T) {
	ctx := context.Background()
	store := migration.NewMemStore()
	job := migration.NewJob("https://src.example/idle.git", "target-idle")
	mustCreate(t, store, job)

	runner := func(ctx context.Context, _ ioes.IOStreams, _ *migration.Job, _ scheduler.ReportFunc) (string, error) {
		return "", nil
	}
	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}

	if err := sch.Pause(ctx, job.ID); err == nil {
		t.Error("expected pausing a pending job to error")
	}
	if err := sch.Pause(ctx, "no-such-job"); err == nil {
		t.Error("expected pausing an unknown job to error")
	}
}

func TestSchedulerRequestSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := migration.NewMemStore()
	job := migration.NewJob("https://src.example/sync-me.git", "target-sync")
	mustCreate(t, store, job)

	var syncSeen atomic.Bool
	runner := func(ctx context.Context, _ ioes.IOStreams, job *migration.Job, report scheduler.ReportFunc) (string, error) {
		if job.Status == migration.StatusSyncing {
			syncSeen.Store(true)
			report(2, 2, "rev-20")
			return "rev-20", nil
		}
		report(10, 10, "rev-10")
		return "rev-10", nil
	}

	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	go sch.Start(ctx)

	waitForStatus(t, store, job.ID, migration.StatusCompleted)

	if err := sch.RequestSync(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.LastSyncedRevision == "rev-20" {
			break
		}
		time.Sleep(time.Millisecond * 5)
	}

	got := waitForStatus(t, store, job.ID, migration.StatusCompleted)
	if got.LastSyncedRevision != "rev-20" {
		t.Errorf("post-sync revision, expected: %q, got: %q", "rev-20", got.LastSyncedRevision)
	}
	if !syncSeen.Load() {
		t.Error("expected the capability to observe a syncing-status job")
	}

	// syncing is only reachable from completed
	pending := migration.NewJob("https://src.example/not-done.git", "target-nd")
	if err := store.CreateJob(ctx, pending); err != nil {
		t.Fatal(err)
	}
	if err := sch.RequestSync(ctx, pending.ID); err == nil {
		t.Error("expected sync request for a non-completed job to error")
	}
}

func TestSchedulerAutomaticSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interval, err := iso8601.ParseRepeatingInterval("R/PT1S")
	if err != nil {
		t.Fatal(err)
	}

	store := migration.NewMemStore()
	job := migration.NewJob("https://src.example/periodic.git", "target-periodic")
	job.SyncInterval = interval
	mustCreate(t, store, job)

	// complete the initial migration an hour ago so the interval has elapsed
	past := time.Now().Add(-time.Hour)
	migration.NowFunc = func() time.Time { return past }
	for _, next := range []migration.Status{migration.StatusRunning, migration.StatusCompleted} {
		if _, err := store.UpdateStatus(ctx, job.ID, next, migration.StatusUpdate{Revision: "rev-1", SyncedNow: true}); err != nil {
			migration.NowFunc = time.Now
			t.Fatal(err)
		}
	}
	migration.NowFunc = time.Now

	var synced atomic.Bool
	runner := func(ctx context.Context, _ ioes.IOStreams, job *migration.Job, report scheduler.ReportFunc) (string, error) {
		if job.Status == migration.StatusSyncing {
			synced.Store(true)
		}
		report(1, 1, "rev-2")
		return "rev-2", nil
	}

	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	go sch.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !synced.Load() {
		time.Sleep(time.Millisecond * 5)
	}
	if !synced.Load() {
		t.Fatal("expected a due job to be re-synced automatically")
	}
	got := waitForStatus(t, store, job.ID, migration.StatusCompleted)
	if got.LastSyncedRevision != "rev-2" {
		t.Errorf("post-sync revision, expected: %q, got: %q", "rev-2", got.LastSyncedRevision)
	}
}

func TestSchedulerPublishesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := migration.NewMemStore()
	bus := event.NewBus(ctx)
	statuses := bus.Subscribe(event.ETJobStatus)
	progressed := bus.Subscribe(event.ETJobProgress)

	job := migration.NewJob("https://src.example/events.git", "target-events")
	mustCreate(t, store, job)

	runner := func(ctx context.Context, _ ioes.IOStreams, _ *migration.Job, report scheduler.ReportFunc) (string, error) {
		report(1, 2, "rev-1")
		report(2, 2, "rev-2")
		return "rev-2", nil
	}

	sch, err := scheduler.New(store, bus, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	go sch.Start(ctx)
	waitForStatus(t, store, job.ID, migration.StatusCompleted)

	wantStatuses := []migration.Status{migration.StatusRunning, migration.StatusCompleted}
	for _, want := range wantStatuses {
		select {
		case e := <-statuses:
			got := e.Payload.(event.JobStatusEvent)
			if got.Status != want {
				t.Errorf("status event, expected: %s, got: %s", want, got.Status)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s status event", want)
		}
	}

	wantPercents := []int{50, 100}
	for _, want := range wantPercents {
		select {
		case e := <-progressed:
			got := e.Payload.(event.JobProgressEvent)
			if got.Percent != want {
				t.Errorf("progress event percent, expected: %d, got: %d", want, got.Percent)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d%% progress event", want)
		}
	}
}

// flakyStore wraps a working store with an update path that always fails,
// counting list calls so tests can observe admission behaviour
type flakyStore struct {
	migration.Store
	lists int64
}

func (f *flakyStore) ListJobs(ctx context.Context, filter migration.Filter) ([]*migration.Job, error) {
	atomic.AddInt64(&f.lists, 1)
	return f.Store.ListJobs(ctx, filter)
}

func (f *flakyStore) UpdateStatus(ctx context.Context, id string, next migration.Status, upd migration.StatusUpdate) (*migration.Job, error) {
	return nil, migration.ErrStoreUnavailable
}

func TestSchedulerStoreFailureStopsAdmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &flakyStore{Store: migration.NewMemStore()}
	job := migration.NewJob("https://src.example/unadmittable.git", "target-flaky-store")
	mustCreate(t, store, job)

	runner := func(ctx context.Context, _ ioes.IOStreams, _ *migration.Job, _ scheduler.ReportFunc) (string, error) {
		return "", nil
	}
	sch, err := scheduler.New(store, nil, runner, fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	go sch.Start(ctx)

	// when admission cannot persist a transition, each check cycle must give
	// up instead of re-fetching the same pending job in a tight loop
	time.Sleep(time.Millisecond * 100)
	if got := atomic.LoadInt64(&store.lists); got > 60 {
		t.Errorf("list call count for a failing store, expected at most %d, got: %d", 60, got)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != migration.StatusPending {
		t.Errorf("status, expected: %s, got: %s", migration.StatusPending, got.Status)
	}
}

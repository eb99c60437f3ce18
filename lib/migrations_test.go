package lib

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/qri-io/ioes"

	"github.com/migrato/migrato/config"
	"github.com/migrato/migrato/event"
	"github.com/migrato/migrato/migration"
	"github.com/migrato/migrato/scheduler"
)

func noopRunner(ctx context.Context, _ ioes.IOStreams, _ *migration.Job, report scheduler.ReportFunc) (string, error) {
	report(1, 1, "rev-1")
	return "rev-1", nil
}

func newTestInstance(t *testing.T, ctx context.Context) *Instance {
	t.Helper()
	inst, err := NewInstance(ctx,
		OptStore(migration.NewMemStore()),
		OptRunner(noopRunner),
	)
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func TestNewInstanceDefaults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst, err := NewInstance(ctx, OptStore(migration.NewMemStore()))
	if err != nil {
		t.Fatal(err)
	}
	if inst.Config() == nil || inst.Scheduler() == nil || inst.Bus() == nil {
		t.Error("expected instance to carry default config, scheduler & bus")
	}

	bad := config.DefaultConfig()
	bad.Scheduler.BackoffBase = "nope"
	if _, err := NewInstance(ctx, OptConfig(bad), OptStore(migration.NewMemStore())); err == nil {
		t.Error("expected invalid config to error")
	}
}

func TestApplyLogLevels(t *testing.T) {
	if err := applyLogLevels(nil); err != nil {
		t.Errorf("unexpected error for nil logging config: %s", err)
	}

	cfg := &config.Logging{Levels: map[string]string{"lib": "debug"}}
	if err := applyLogLevels(cfg); err != nil {
		t.Fatalf("unexpected error applying levels: %s", err)
	}
	want, err := golog.LevelFromString("debug")
	if err != nil {
		t.Fatal(err)
	}
	if got := golog.GetConfig().SubsystemLevels["lib"]; got != want {
		t.Errorf("lib subsystem level, expected: %v, got: %v", want, got)
	}

	bad := &config.Logging{Levels: map[string]string{"lib": "shouting"}}
	if err := applyLogLevels(bad); err == nil {
		t.Error("expected an unknown level name to error")
	}

	// back to the default so other tests keep quiet logs
	if err := applyLogLevels(&config.Logging{Levels: map[string]string{"lib": "info"}}); err != nil {
		t.Fatal(err)
	}
}

func TestSubmitValidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestInstance(t, ctx).Migration()

	if _, err := m.Submit(ctx, &SubmitParams{TargetID: "proj"}); err == nil {
		t.Error("expected missing source locator to error")
	}
	if _, err := m.Submit(ctx, &SubmitParams{SourceLocator: "https://src.example/a.git"}); err == nil {
		t.Error("expected missing target ID to error")
	}
	if _, err := m.Submit(ctx, &SubmitParams{
		SourceLocator: "https://src.example/a.git",
		TargetID:      "proj",
		SyncInterval:  "whenever",
	}); err == nil {
		t.Error("expected bad sync interval to error")
	}
}

func TestSubmitGetList(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestInstance(t, ctx).Migration()

	layout := json.RawMessage(`{"branches":"folders"}`)
	job, err := m.Submit(ctx, &SubmitParams{
		SourceLocator: "https://src.example/a.git",
		TargetID:      "proj-a",
		LayoutConfig:  layout,
		SyncInterval:  "R/P1D",
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != migration.StatusPending {
		t.Errorf("status, expected: %s, got: %s", migration.StatusPending, job.Status)
	}
	if !job.SyncsAutomatically() {
		t.Error("expected job with sync interval to sync automatically")
	}

	got, err := m.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.LayoutConfig) != string(layout) {
		t.Errorf("layout config, expected: %s, got: %s", layout, got.LayoutConfig)
	}

	if _, err := m.Get(ctx, "no-such-job"); err != migration.ErrNotFound {
		t.Errorf("expected: %s, got: %s", migration.ErrNotFound, err)
	}

	jobs, err := m.List(ctx, &ListParams{})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Errorf("job count, expected: %d, got: %d", 1, len(jobs))
	}

	if _, err := m.List(ctx, &ListParams{Status: "sideways"}); err == nil {
		t.Error("expected invalid status filter to error")
	}

	logs, err := m.Logs(ctx, &LogParams{ID: job.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Message != "migration job created" {
		t.Errorf("expected a single creation log entry, got: %v", logs)
	}
}

func TestDeleteRefusesActiveJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst := newTestInstance(t, ctx)
	m := inst.Migration()

	job, err := m.Submit(ctx, &SubmitParams{
		SourceLocator: "https://src.example/a.git",
		TargetID:      "proj-a",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := inst.Store().UpdateStatus(ctx, job.ID, migration.StatusRunning, migration.StatusUpdate{}); err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(ctx, job.ID); err == nil {
		t.Error("expected deleting a running job to error")
	}

	if _, err := inst.Store().UpdateStatus(ctx, job.ID, migration.StatusCancelled, migration.StatusUpdate{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, job.ID); err != migration.ErrNotFound {
		t.Errorf("expected: %s, got: %s", migration.ErrNotFound, err)
	}
}

func TestFollowReceivesLifecycleEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestInstance(t, ctx).Migration()

	events := m.Follow()
	defer m.Unfollow(events)

	job, err := m.Submit(ctx, &SubmitParams{
		SourceLocator: "https://src.example/a.git",
		TargetID:      "proj-a",
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-events:
		if e.Topic != event.ETJobCreated {
			t.Errorf("topic, expected: %s, got: %s", event.ETJobCreated, e.Topic)
		}
		payload := e.Payload.(event.JobCreatedEvent)
		if payload.JobID != job.ID {
			t.Errorf("job ID, expected: %s, got: %s", job.ID, payload.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for creation event")
	}
}

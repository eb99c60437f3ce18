// Package spec defines conformance tests for migration.Store
// implementations. Both the in-memory store and the sql store are held to
// the behavior asserted here
package spec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/migrato/migrato/migration"
)

// AssertStore confirms the expected behavior of a migration.Store interface
// implementation
func AssertStore(t *testing.T, store migration.Store) {
	ctx := context.Background()

	alice := migration.NewJob("https://svn.example.com/alice", "projects/1")
	if err := store.CreateJob(ctx, alice); err != nil {
		t.Fatal(err)
	}

	// creation order decides list order, so give britt a later timestamp
	britt := migration.NewJob("https://svn.example.com/britt", "projects/2")
	britt.CreatedAt = alice.CreatedAt.Add(time.Second)
	britt.UpdatedAt = britt.CreatedAt
	if err := store.CreateJob(ctx, britt); err != nil {
		t.Fatal(err)
	}

	if err := store.CreateJob(ctx, &migration.Job{ID: "no-source"}); err == nil {
		t.Errorf("CreateJob must reject jobs that don't validate")
	}

	got, err := store.GetJob(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != migration.StatusPending {
		t.Errorf("new jobs must be pending. got: %q", got.Status)
	}
	if got.SourceLocator != alice.SourceLocator || got.TargetID != alice.TargetID {
		t.Errorf("GetJob returned wrong job. got: %s -> %s", got.SourceLocator, got.TargetID)
	}

	if _, err := store.GetJob(ctx, "unknown"); !errors.Is(err, migration.ErrNotFound) {
		t.Errorf("GetJob for an unknown id must return migration.ErrNotFound, got: %v", err)
	}

	assertListing(t, store, alice.ID, britt.ID)
	assertStatusUpdates(t, store, alice.ID)
	assertRunTracking(t, store, britt.ID)
	assertCascadeDelete(t, store, alice.ID)
}

func assertListing(t *testing.T, store migration.Store, firstID, secondID string) {
	t.Helper()
	ctx := context.Background()

	jobs, err := store.ListJobs(ctx, migration.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got: %d", len(jobs))
	}
	if jobs[0].ID != firstID || jobs[1].ID != secondID {
		t.Errorf("ListJobs must order FIFO by creation time. got: %s, %s", jobs[0].ID, jobs[1].ID)
	}

	pending, err := store.ListJobs(ctx, migration.Filter{Status: migration.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending jobs, got: %d", len(pending))
	}

	running, err := store.ListJobs(ctx, migration.Filter{Status: migration.StatusRunning})
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 0 {
		t.Errorf("expected 0 running jobs, got: %d", len(running))
	}

	limited, err := store.ListJobs(ctx, migration.Filter{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != secondID {
		t.Errorf("offset/limit paging is off. got %d jobs", len(limited))
	}
}

func assertStatusUpdates(t *testing.T, store migration.Store, id string) {
	t.Helper()
	ctx := context.Background()

	before, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatal(err)
	}

	// illegal transition is rejected & nothing is written
	if _, err := store.UpdateStatus(ctx, id, migration.StatusCompleted, migration.StatusUpdate{}); !errors.Is(err, migration.ErrInvalidTransition) {
		t.Errorf("pending -> completed must be rejected with ErrInvalidTransition, got: %v", err)
	}
	after, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != before.Status {
		t.Errorf("a rejected transition must not mutate the record")
	}

	// a stale expectation loses with ErrConflict
	if _, err := store.UpdateStatus(ctx, id, migration.StatusRunning, migration.StatusUpdate{ExpectCurrent: migration.StatusPaused}); !errors.Is(err, migration.ErrConflict) {
		t.Errorf("stale ExpectCurrent must fail with ErrConflict, got: %v", err)
	}

	// legal transition with riding effects: queue entry + log, atomically
	progress := 0
	runID := migration.NewRunID()
	job, err := store.UpdateStatus(ctx, id, migration.StatusRunning, migration.StatusUpdate{
		ExpectCurrent: migration.StatusPending,
		RunID:         runID,
		Progress:      &progress,
		LogLevel:      migration.LogLevelInfo,
		LogMessage:    "migration started",
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != migration.StatusRunning {
		t.Errorf("expected status running, got: %q", job.Status)
	}
	if !job.UpdatedAt.After(before.UpdatedAt) && !job.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("UpdateStatus must refresh UpdatedAt")
	}

	entries, err := store.QueueEntries(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 queue entry, got: %d", len(entries))
	}
	if entries[0].RunID != runID || entries[0].Status != migration.StatusRunning {
		t.Errorf("queue entry must mirror the transition. got: %s %q", entries[0].RunID, entries[0].Status)
	}

	logs, err := store.Logs(ctx, id, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Message != "migration started" {
		t.Fatalf("expected the riding log entry, got: %d entries", len(logs))
	}

	// revision advances on success, never regresses
	done := 100
	if _, err := store.UpdateStatus(ctx, id, migration.StatusCompleted, migration.StatusUpdate{
		Revision:   "204",
		SyncedNow:  true,
		RunID:      runID,
		Progress:   &done,
		LogLevel:   migration.LogLevelInfo,
		LogMessage: "migration completed at revision 204",
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := store.UpdateStatus(ctx, id, migration.StatusSyncing, migration.StatusUpdate{Revision: "11"}); !errors.Is(err, migration.ErrRevisionRegress) {
		t.Errorf("a regressing revision must be rejected, got: %v", err)
	}
	job, err = store.GetJob(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if job.LastSyncedRevision != "204" {
		t.Errorf("expected revision 204, got: %q", job.LastSyncedRevision)
	}
	if job.Status != migration.StatusCompleted {
		t.Errorf("rejected revision must not move status. got: %q", job.Status)
	}
	if job.LastSyncedAt == nil {
		t.Errorf("SyncedNow must stamp LastSyncedAt")
	}

	if err := store.AdvanceRevision(ctx, id, "117"); !errors.Is(err, migration.ErrRevisionRegress) {
		t.Errorf("AdvanceRevision must reject regressions, got: %v", err)
	}
	if err := store.AdvanceRevision(ctx, id, "300"); err != nil {
		t.Fatal(err)
	}
}

func assertRunTracking(t *testing.T, store migration.Store, id string) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.UpdateStatus(ctx, id, migration.StatusRunning, migration.StatusUpdate{}); err != nil {
		t.Fatal(err)
	}

	runID := migration.NewRunID()
	if err := store.StartRun(ctx, id, runID); err != nil {
		t.Fatal(err)
	}
	if err := store.SetProgress(ctx, runID, 40); err != nil {
		t.Fatal(err)
	}
	if err := store.SetProgress(ctx, "unknown-run", 1); !errors.Is(err, migration.ErrNotFound) {
		t.Errorf("SetProgress for an unknown run must return ErrNotFound, got: %v", err)
	}
	if err := store.FinishRun(ctx, runID, migration.StatusFailed, 40); err != nil {
		t.Fatal(err)
	}

	entries, err := store.QueueEntries(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 queue entry, got: %d", len(entries))
	}
	if entries[0].Progress != 40 || entries[0].Status != migration.StatusFailed {
		t.Errorf("expected failed entry at 40%%, got: %q at %d%%", entries[0].Status, entries[0].Progress)
	}
}

func assertCascadeDelete(t *testing.T, store migration.Store, id string) {
	t.Helper()
	ctx := context.Background()

	if err := store.AppendLog(ctx, id, migration.LogLevelWarning, "about to be deleted"); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteJob(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteJob(ctx, id); !errors.Is(err, migration.ErrNotFound) {
		t.Errorf("deleting a deleted job must return ErrNotFound, got: %v", err)
	}
	if _, err := store.GetJob(ctx, id); !errors.Is(err, migration.ErrNotFound) {
		t.Errorf("deleted jobs must be gone, got: %v", err)
	}
	if _, err := store.Logs(ctx, id, 0, 0); !errors.Is(err, migration.ErrNotFound) {
		t.Errorf("logs must cascade with their job, got: %v", err)
	}
	if _, err := store.QueueEntries(ctx, id); !errors.Is(err, migration.ErrNotFound) {
		t.Errorf("queue entries must cascade with their job, got: %v", err)
	}
}

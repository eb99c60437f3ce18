package migration

import (
	"context"
)

// Filter narrows a job listing. The zero Filter lists everything
type Filter struct {
	// Status, when non-empty, limits results to jobs in that status
	Status Status
	// Offset & Limit page through results. a Limit <= 0 returns the entire
	// list
	Offset int
	Limit  int
}

// StatusUpdate carries the side effects that ride along with a status
// change. All of its effects are applied in the same atomic unit as the
// transition itself
type StatusUpdate struct {
	// ExpectCurrent, when non-empty, asserts the status the caller last
	// read. a mismatch means a concurrent writer won the race & the update
	// fails with ErrConflict
	ExpectCurrent Status
	// Revision, when non-empty, advances lastSyncedRevision. regressions are
	// rejected
	Revision string
	// SyncedNow, when true, stamps LastSyncedAt with the current time
	SyncedNow bool
	// RunID, when non-empty, upserts the matching queue entry, mirroring the
	// job's new status
	RunID string
	// Progress, when non-nil, sets the queue entry's progress
	Progress *int
	// LogLevel & LogMessage, when the message is non-empty, append a log
	// entry explaining the change
	LogLevel   LogLevel
	LogMessage string
}

// Store handles the persistence of migration jobs, their logs & queue
// entries. It is the single source of truth surviving process restarts, and
// the only component allowed to mutate job records. Store implementations
// must be safe for concurrent use, and must apply each UpdateStatus as a
// single atomic unit: either all of its effects are visible or none are,
// even under concurrent writers or a crash mid-write
type Store interface {
	// CreateJob persists a new job record. the job must validate
	CreateJob(ctx context.Context, job *Job) error
	// GetJob fetches a job by id, returning ErrNotFound for unknown ids
	GetJob(ctx context.Context, id string) (*Job, error)
	// ListJobs returns jobs matching filter in FIFO order by creation time
	ListJobs(ctx context.Context, filter Filter) ([]*Job, error)
	// UpdateStatus transitions a job to next, applying upd in the same
	// atomic write. the transition must be accepted by the state machine
	// against the stored status: writers racing a concurrent transition
	// receive ErrConflict rather than silently overwriting. every
	// successful write refreshes the job's UpdatedAt
	UpdateStatus(ctx context.Context, id string, next Status, upd StatusUpdate) (*Job, error)
	// StartRun records a new queue entry for an execution attempt
	StartRun(ctx context.Context, id, runID string) error
	// FinishRun marks an execution attempt's queue entry with a final
	// status & progress without touching the parent job
	FinishRun(ctx context.Context, runID string, status Status, progress int) error
	// SetProgress updates the progress of an execution attempt's queue
	// entry, refreshing its UpdatedAt
	SetProgress(ctx context.Context, runID string, progress int) error
	// AdvanceRevision moves lastSyncedRevision forward at a checkpoint.
	// regressions are rejected with ErrRevisionRegress
	AdvanceRevision(ctx context.Context, id, revision string) error
	// AppendLog adds an entry to a job's append-only history
	AppendLog(ctx context.Context, id string, level LogLevel, message string) error
	// Logs lists a job's log entries in append order. a limit <= 0 returns
	// them all
	Logs(ctx context.Context, id string, offset, limit int) ([]*LogEntry, error)
	// QueueEntries lists a job's execution attempts, oldest first
	QueueEntries(ctx context.Context, id string) ([]*QueueEntry, error)
	// DeleteJob removes a job and, by cascade, all of its logs and queue
	// entries
	DeleteJob(ctx context.Context, id string) error
}

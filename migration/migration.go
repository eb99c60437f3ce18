// Package migration defines the migration job data model: the durable job
// record, its status state machine, the store contract all mutation funnels
// through, and the error taxonomy shared by every component that touches jobs
package migration

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	golog "github.com/ipfs/go-log/v2"
	"github.com/qri-io/iso8601"
)

var (
	log = golog.Logger("migration")

	// NowFunc is an overridable function for getting datestamps, tests can
	// swap it out to create determinism
	NowFunc = time.Now
)

// NewID creates a job identifier
func NewID() string {
	return uuid.New().String()
}

// NewRunID creates a run identifier for a single execution attempt
func NewRunID() string {
	return uuid.New().String()
}

// SetIDRand sets the random reader NewID and NewRunID use as a source of
// random bytes. passing in nil will default to crypto.Rand. This can be used
// to make ID generation deterministic for tests
func SetIDRand(r io.Reader) {
	uuid.SetRand(r)
}

// Status enumerates all possible statuses of a migration job, in relation to
// the current time. Jobs that have finished are broken into categories based
// on exit state
type Status string

const (
	// StatusPending indicates a job that is waiting to be admitted for
	// execution
	StatusPending = Status("pending")
	// StatusRunning indicates a job that is currently executing its initial
	// migration
	StatusRunning = Status("running")
	// StatusPaused indicates a job suspended at a checkpoint by an operator,
	// retaining all progress made so far
	StatusPaused = Status("paused")
	// StatusSyncing indicates a completed job that is re-synchronizing
	// against its source
	StatusSyncing = Status("syncing")
	// StatusCompleted indicates a job whose most recent migration or sync
	// finished without error
	StatusCompleted = Status("completed")
	// StatusFailed indicates a job that exhausted its retries or hit an
	// unrecoverable error
	StatusFailed = Status("failed")
	// StatusCancelled indicates a job stopped by an operator
	StatusCancelled = Status("cancelled")
)

// AllStatuses gives the set of statuses a job can hold
var AllStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusPaused,
	StatusSyncing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// Valid returns true if s is a member of the fixed status set
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Active returns true for statuses that occupy an execution slot
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusSyncing
}

// Terminal returns true for statuses with no further transitions except
// explicit operator retry or re-sync
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// zero is a "constant" representing an empty repeating interval
var zeroInterval iso8601.RepeatingInterval

// Job is a durable record representing one migrate-or-sync operation from a
// source repository to a target project
type Job struct {
	ID            string `json:"id"`            // opaque unique identifier, assigned at creation, immutable
	SourceLocator string `json:"sourceLocator"` // where the source repository lives
	TargetID      string `json:"targetID"`      // destination project identifier, immutable
	Status        Status `json:"status"`

	// LastSyncedRevision is the last successfully processed source revision
	// marker. empty means no revision has been processed. only ever advances
	LastSyncedRevision string `json:"lastSyncedRevision,omitempty"`

	// opaque configuration blobs supplied at creation, read-only thereafter
	LayoutConfig  json.RawMessage `json:"layoutConfig,omitempty"`
	AuthorMapping json.RawMessage `json:"authorMapping,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`

	// SyncInterval optionally schedules automatic re-syncs once the initial
	// migration completes. The zero interval disables automatic sync
	SyncInterval iso8601.RepeatingInterval `json:"syncInterval,omitempty"`
	LastSyncedAt *time.Time                `json:"lastSyncedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewJob constructs a pending Job for a source & target, assigning it a fresh
// identifier
func NewJob(sourceLocator, targetID string) *Job {
	now := NowFunc()
	return &Job{
		ID:            NewID(),
		SourceLocator: sourceLocator,
		TargetID:      targetID,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate confirms a Job contains the details required for persistence
func (j *Job) Validate() error {
	if j.ID == "" {
		return ErrNoID
	}
	if j.SourceLocator == "" {
		return fmt.Errorf("source locator is required")
	}
	if j.TargetID == "" {
		return fmt.Errorf("target ID is required")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("invalid status: %q", j.Status)
	}
	return nil
}

// Copy returns a shallow copy of the job. configuration blobs are shared, as
// they're read-only after creation
func (j *Job) Copy() *Job {
	if j == nil {
		return nil
	}
	cp := &Job{}
	*cp = *j
	return cp
}

// SyncsAutomatically returns true if the job carries a repeating sync
// interval
func (j *Job) SyncsAutomatically() bool {
	return j.SyncInterval != zeroInterval
}

// NextSync returns the next time an automatic re-sync is due. returns the
// zero time for jobs that don't sync automatically or haven't completed an
// initial migration
func (j *Job) NextSync() time.Time {
	if !j.SyncsAutomatically() || j.LastSyncedAt == nil {
		return time.Time{}
	}
	return j.SyncInterval.After(*j.LastSyncedAt)
}

// SyncDue returns true when an automatic re-sync should be queued
func (j *Job) SyncDue(now time.Time) bool {
	next := j.NextSync()
	if next.IsZero() {
		return false
	}
	return now.After(next)
}

// LogLevel flags the severity of a migration log entry
type LogLevel string

const (
	// LogLevelInfo is for routine lifecycle messages
	LogLevelInfo = LogLevel("info")
	// LogLevelWarning is for recoverable trouble, like a retried attempt
	LogLevelWarning = LogLevel("warning")
	// LogLevelError is for terminal failures
	LogLevelError = LogLevel("error")
)

// LogEntry is one append-only line in a job's history. Entries are owned by
// their job & removed only when the job is deleted
type LogEntry struct {
	MigrationID string    `json:"migrationID"`
	Level       LogLevel  `json:"level"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// QueueEntry is the execution-time view of a job. one entry is created each
// time the scheduler starts an execution attempt, and updated on every
// progress callback
type QueueEntry struct {
	MigrationID string    `json:"migrationID"`
	RunID       string    `json:"runID"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"` // 0-100
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

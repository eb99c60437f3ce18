package lib

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qri-io/iso8601"

	"github.com/migrato/migrato/event"
	"github.com/migrato/migrato/migration"
)

// MigrationMethods groups methods for creating, inspecting & steering
// migration jobs
type MigrationMethods struct {
	inst *Instance
}

// Name returns the name of this method group
func (m MigrationMethods) Name() string {
	return "migration"
}

// Migration returns the MigrationMethods for an instance
func (inst *Instance) Migration() *MigrationMethods {
	return &MigrationMethods{inst: inst}
}

// SubmitParams are parameters for submitting a new migration job
type SubmitParams struct {
	SourceLocator string          `json:"sourceLocator"`
	TargetID      string          `json:"targetID"`
	LayoutConfig  json.RawMessage `json:"layoutConfig,omitempty"`
	AuthorMapping json.RawMessage `json:"authorMapping,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	// SyncInterval optionally schedules automatic re-syncs, an ISO 8601
	// repeating interval string like "R/P1D"
	SyncInterval string `json:"syncInterval,omitempty"`
}

// Validate returns an error if SubmitParams fields are in an invalid state
func (p *SubmitParams) Validate() error {
	if p.SourceLocator == "" {
		return fmt.Errorf("source locator is required")
	}
	if p.TargetID == "" {
		return fmt.Errorf("target ID is required")
	}
	return nil
}

// Submit creates a pending migration job. The scheduler picks it up on its
// next cycle
func (m *MigrationMethods) Submit(ctx context.Context, p *SubmitParams) (*migration.Job, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	job := migration.NewJob(p.SourceLocator, p.TargetID)
	job.LayoutConfig = p.LayoutConfig
	job.AuthorMapping = p.AuthorMapping
	job.Metadata = p.Metadata
	if p.SyncInterval != "" {
		interval, err := iso8601.ParseRepeatingInterval(p.SyncInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid sync interval: %w", err)
		}
		job.SyncInterval = interval
	}

	if err := m.inst.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := m.inst.store.AppendLog(ctx, job.ID, migration.LogLevelInfo, "migration job created"); err != nil {
		log.Errorf("appending creation log for job %s: %s", job.ID, err)
	}

	m.inst.bus.Publish(ctx, event.ETJobCreated, event.JobCreatedEvent{
		JobID:         job.ID,
		SourceLocator: job.SourceLocator,
		TargetID:      job.TargetID,
	})
	return job, nil
}

// Get fetches a migration job by identifier
func (m *MigrationMethods) Get(ctx context.Context, id string) (*migration.Job, error) {
	return m.inst.store.GetJob(ctx, id)
}

// ListParams is the general input for paginated methods
type ListParams struct {
	// Status optionally filters to jobs in one state
	Status migration.Status `json:"status,omitempty"`
	Offset int              `json:"offset"`
	Limit  int              `json:"limit"`
}

// DefaultPageSize is the max number of items in a page if no Limit param is
// provided to a paginated method
const DefaultPageSize = 100

// List fetches migration jobs in creation order
func (m *MigrationMethods) List(ctx context.Context, p *ListParams) ([]*migration.Job, error) {
	if p.Status != "" && !p.Status.Valid() {
		return nil, fmt.Errorf("invalid status filter: %q", p.Status)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return m.inst.store.ListJobs(ctx, migration.Filter{
		Status: p.Status,
		Offset: p.Offset,
		Limit:  limit,
	})
}

// Pause asks a running job to suspend at its next checkpoint
func (m *MigrationMethods) Pause(ctx context.Context, id string) error {
	return m.inst.sch.Pause(ctx, id)
}

// Resume queues a paused job to continue from its last checkpoint
func (m *MigrationMethods) Resume(ctx context.Context, id string) error {
	return m.inst.sch.Resume(ctx, id)
}

// Cancel stops a job permanently, keeping its record & logs
func (m *MigrationMethods) Cancel(ctx context.Context, id string) error {
	return m.inst.sch.Cancel(ctx, id)
}

// Retry moves a failed or cancelled job back into the pending queue
func (m *MigrationMethods) Retry(ctx context.Context, id string) error {
	return m.inst.sch.Retry(ctx, id)
}

// Sync requests an immediate re-sync of a completed job
func (m *MigrationMethods) Sync(ctx context.Context, id string) error {
	return m.inst.sch.RequestSync(ctx, id)
}

// Delete removes a job & all its logs and queue records. Executing jobs
// must be cancelled first
func (m *MigrationMethods) Delete(ctx context.Context, id string) error {
	job, err := m.inst.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Active() {
		return fmt.Errorf("cannot delete job %s while %s, cancel it first", id, job.Status)
	}

	if err := m.inst.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	m.inst.bus.Publish(ctx, event.ETJobDeleted, event.JobDeletedEvent{JobID: id})
	return nil
}

// LogParams are parameters for fetching a job's migration log
type LogParams struct {
	ID     string `json:"id"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// Logs fetches a job's migration log entries, oldest first
func (m *MigrationMethods) Logs(ctx context.Context, p *LogParams) ([]*migration.LogEntry, error) {
	if p.ID == "" {
		return nil, migration.ErrNoID
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return m.inst.store.Logs(ctx, p.ID, p.Offset, limit)
}

// Runs fetches a job's queue records, one per execution attempt
func (m *MigrationMethods) Runs(ctx context.Context, id string) ([]*migration.QueueEntry, error) {
	if id == "" {
		return nil, migration.ErrNoID
	}
	return m.inst.store.QueueEntries(ctx, id)
}

// Follow subscribes to live events for all migration jobs. The returned
// channel closes when the instance context completes or Unfollow is called
func (m *MigrationMethods) Follow() <-chan event.Event {
	return m.inst.bus.Subscribe(
		event.ETJobCreated,
		event.ETJobStatus,
		event.ETJobProgress,
		event.ETJobLog,
		event.ETJobDeleted,
	)
}

// Unfollow releases a subscription created with Follow
func (m *MigrationMethods) Unfollow(ch <-chan event.Event) {
	m.inst.bus.Unsubscribe(ch)
}

package migration

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of the Store interface. Jobs kept
// in a MemStore persist for the duration of a process at the longest.
// MemStore is safe for concurrent use
type MemStore struct {
	lock    sync.Mutex
	jobs    map[string]*Job
	logs    map[string][]*LogEntry
	entries map[string][]*QueueEntry // keyed by migration id
	runs    map[string]*QueueEntry   // keyed by run id
}

// assert MemStore is a Store at compile time
var _ Store = (*MemStore)(nil)

// NewMemStore creates an in-memory job store
func NewMemStore() *MemStore {
	return &MemStore{
		jobs:    map[string]*Job{},
		logs:    map[string][]*LogEntry{},
		entries: map[string][]*QueueEntry{},
		runs:    map[string]*QueueEntry{},
	}
}

// CreateJob places a new job in the store
func (s *MemStore) CreateJob(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrConflict
	}
	s.jobs[job.ID] = job.Copy()
	return nil
}

// GetJob fetches a job by id
func (s *MemStore) GetJob(ctx context.Context, id string) (*Job, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Copy(), nil
}

// ListJobs lists jobs matching filter in FIFO order by creation time
func (s *MemStore) ListJobs(ctx context.Context, filter Filter) ([]*Job, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	js := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		js = append(js, job.Copy())
	}
	sort.Slice(js, func(i, j int) bool {
		if js[i].CreatedAt.Equal(js[j].CreatedAt) {
			return js[i].ID < js[j].ID
		}
		return js[i].CreatedAt.Before(js[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(js) {
			return []*Job{}, nil
		}
		js = js[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(js) {
		js = js[:filter.Limit]
	}
	return js, nil
}

// UpdateStatus transitions a job, applying upd atomically under the store
// lock
func (s *MemStore) UpdateStatus(ctx context.Context, id string, next Status, upd StatusUpdate) (*Job, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.ExpectCurrent != "" && job.Status != upd.ExpectCurrent {
		return nil, ErrConflict
	}
	if err := ValidateTransition(job.Status, next); err != nil {
		return nil, err
	}
	if upd.Revision != "" && !RevisionAdvances(job.LastSyncedRevision, upd.Revision) {
		return nil, ErrRevisionRegress
	}

	now := NowFunc()
	job.Status = next
	job.UpdatedAt = now
	if upd.Revision != "" {
		job.LastSyncedRevision = upd.Revision
	}
	if upd.SyncedNow {
		t := now
		job.LastSyncedAt = &t
	}

	if upd.RunID != "" {
		entry, ok := s.runs[upd.RunID]
		if !ok {
			entry = &QueueEntry{
				MigrationID: id,
				RunID:       upd.RunID,
				CreatedAt:   now,
			}
			s.runs[upd.RunID] = entry
			s.entries[id] = append(s.entries[id], entry)
		}
		entry.Status = next
		if upd.Progress != nil {
			entry.Progress = *upd.Progress
		}
		entry.UpdatedAt = now
	}

	if upd.LogMessage != "" {
		s.appendLog(id, upd.LogLevel, upd.LogMessage)
	}

	return job.Copy(), nil
}

// StartRun records a queue entry for a new execution attempt
func (s *MemStore) StartRun(ctx context.Context, id, runID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	now := NowFunc()
	entry := &QueueEntry{
		MigrationID: id,
		RunID:       runID,
		Status:      job.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.runs[runID] = entry
	s.entries[id] = append(s.entries[id], entry)
	return nil
}

// FinishRun stamps an attempt's queue entry with a final status
func (s *MemStore) FinishRun(ctx context.Context, runID string, status Status, progress int) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	entry.Status = status
	entry.Progress = progress
	entry.UpdatedAt = NowFunc()
	return nil
}

// SetProgress updates an attempt's progress counter
func (s *MemStore) SetProgress(ctx context.Context, runID string, progress int) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	entry.Progress = progress
	entry.UpdatedAt = NowFunc()
	return nil
}

// AdvanceRevision moves a job's lastSyncedRevision forward
func (s *MemStore) AdvanceRevision(ctx context.Context, id, revision string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !RevisionAdvances(job.LastSyncedRevision, revision) {
		return ErrRevisionRegress
	}
	job.LastSyncedRevision = revision
	job.UpdatedAt = NowFunc()
	return nil
}

// AppendLog adds an entry to a job's history
func (s *MemStore) AppendLog(ctx context.Context, id string, level LogLevel, message string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	s.appendLog(id, level, message)
	return nil
}

// appendLog must be called with the store lock held
func (s *MemStore) appendLog(id string, level LogLevel, message string) {
	if level == "" {
		level = LogLevelInfo
	}
	s.logs[id] = append(s.logs[id], &LogEntry{
		MigrationID: id,
		Level:       level,
		Message:     message,
		Timestamp:   NowFunc(),
	})
}

// Logs lists a job's log entries in append order
func (s *MemStore) Logs(ctx context.Context, id string, offset, limit int) ([]*LogEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return nil, ErrNotFound
	}

	ls := s.logs[id]
	if offset > 0 {
		if offset >= len(ls) {
			return []*LogEntry{}, nil
		}
		ls = ls[offset:]
	}
	if limit > 0 && limit < len(ls) {
		ls = ls[:limit]
	}

	res := make([]*LogEntry, len(ls))
	for i, l := range ls {
		cp := *l
		res[i] = &cp
	}
	return res, nil
}

// QueueEntries lists a job's execution attempts, oldest first
func (s *MemStore) QueueEntries(ctx context.Context, id string) ([]*QueueEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return nil, ErrNotFound
	}

	res := make([]*QueueEntry, len(s.entries[id]))
	for i, e := range s.entries[id] {
		cp := *e
		res[i] = &cp
	}
	return res, nil
}

// DeleteJob removes a job, cascading to its logs & queue entries
func (s *MemStore) DeleteJob(ctx context.Context, id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	for _, e := range s.entries[id] {
		delete(s.runs, e.RunID)
	}
	delete(s.entries, id)
	delete(s.logs, id)
	delete(s.jobs, id)
	return nil
}

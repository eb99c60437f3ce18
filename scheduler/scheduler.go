// Package scheduler drives migration jobs to completion. It admits pending
// jobs in creation order while holding concurrent executions to a
// configured bound, applies the retry policy, relays operator pause/cancel
// signals to the running capability, and queues automatic re-syncs for
// completed jobs that carry a sync interval. All job mutation goes through
// the migration.Store contract; the scheduler itself keeps only the
// in-memory slot bookkeeping, which it rebuilds from the store at startup
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/qri-io/ioes"

	"github.com/migrato/migrato/event"
	"github.com/migrato/migrato/migration"
	"github.com/migrato/migrato/progress"
)

var (
	log = golog.Logger("scheduler")

	// ErrNotActive indicates an operator signal for a job that isn't
	// currently executing in this process
	ErrNotActive = fmt.Errorf("scheduler: job is not executing")
)

// Default policy values, all overridable via Options
const (
	// DefaultMaxConcurrent bounds how many jobs run or sync at once
	DefaultMaxConcurrent = 2
	// DefaultCheckInterval is how often the scheduler looks for admissible
	// jobs & due re-syncs
	DefaultCheckInterval = time.Second * 5
	// DefaultMaxAttempts caps retries of retryable execution failures
	DefaultMaxAttempts = 3
	// DefaultBackoffBase is the delay before the first retry, doubling per
	// attempt
	DefaultBackoffBase = time.Second * 2
	// DefaultBackoffMax caps the doubling
	DefaultBackoffMax = time.Minute
)

// Options configure a Scheduler
type Options struct {
	// MaxConcurrent is the execution slot bound N: at most N jobs in
	// running or syncing at any time
	MaxConcurrent int
	// CheckInterval is the scheduling cycle length
	CheckInterval time.Duration
	// MaxAttempts, BackoffBase & BackoffMax set the retry policy for
	// retryable execution failures
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxRunDuration optionally bounds a single execution attempt's wall
	// clock. expiry takes the cooperative-cancel path & counts as a
	// retryable failure. zero means no bound
	MaxRunDuration time.Duration
}

// DefaultOptions gives the documented default policy
func DefaultOptions() Options {
	return Options{
		MaxConcurrent: DefaultMaxConcurrent,
		CheckInterval: DefaultCheckInterval,
		MaxAttempts:   DefaultMaxAttempts,
		BackoffBase:   DefaultBackoffBase,
		BackoffMax:    DefaultBackoffMax,
	}
}

func (o *Options) normalize() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = DefaultCheckInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = o.BackoffBase
	}
}

// signal is an operator request relayed to a running attempt at its next
// checkpoint
type signal int

const (
	signalNone signal = iota
	signalPause
	signalCancel
)

// activeRun tracks one occupied execution slot
type activeRun struct {
	runID  string
	cancel context.CancelFunc
	intent signal
}

// admission is a queued request to occupy a slot for an already-known job:
// an operator resume or a requested sync
type admission struct {
	jobID string
	sync  bool
}

// Scheduler admits, bounds & drives migration job execution
type Scheduler struct {
	store migration.Store
	pub   event.Publisher
	run   RunFunc
	opts  Options

	lk      sync.Mutex
	active  map[string]*activeRun
	waiting []admission
	queued  map[string]bool // jobs with a pending admission request
}

// New creates a Scheduler. store & runFunc are required; a nil publisher
// disables event broadcast
func New(store migration.Store, pub event.Publisher, runFunc RunFunc, opts Options) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("store of type migration.Store required")
	}
	if runFunc == nil {
		return nil, fmt.Errorf("runFunc of type RunFunc required")
	}
	if pub == nil {
		pub = &event.NilPublisher{}
	}
	opts.normalize()

	return &Scheduler{
		store:  store,
		pub:    pub,
		run:    runFunc,
		opts:   opts,
		active: map[string]*activeRun{},
		queued: map[string]bool{},
	}, nil
}

// Start reconciles any executions interrupted by a prior crash, then runs
// the scheduling loop. Start blocks until the passed context completes
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.reconcileInterrupted(ctx); err != nil {
		return err
	}

	// initial cycle, so freshly submitted jobs don't wait a full interval
	s.check(ctx)

	t := time.NewTicker(s.opts.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.check(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// reconcileInterrupted fails any job the store still records as executing:
// a prior process died mid-run and the work must not be silently resumed
func (s *Scheduler) reconcileInterrupted(ctx context.Context) error {
	for _, status := range []migration.Status{migration.StatusRunning, migration.StatusSyncing} {
		jobs, err := s.store.ListJobs(ctx, migration.Filter{Status: status})
		if err != nil {
			return fmt.Errorf("listing %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			log.Infow("failing interrupted job", "id", job.ID, "status", job.Status)
			if _, err := s.transition(ctx, job.ID, migration.StatusFailed, migration.StatusUpdate{
				ExpectCurrent: job.Status,
				LogLevel:      migration.LogLevelError,
				LogMessage:    "interrupted by restart",
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

/// check runs one scheduling cycle: queue due re-syncs, then admit waiting
// work into free slots
func (s *Scheduler) check(ctx context.Context) {
	s.queueDueSyncs(ctx)

	for s.freeSlots() > 0 {
		if req, ok := s.nextAdmission(); ok {
			s.admitRequest(ctx, req)
			continue
		}
		if !s.admitOldestPending(ctx) {
			return
		}
	}
}

func (s *Scheduler) freeSlots() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.opts.MaxConcurrent - len(s.active)
}

// queueDueSyncs requests a sync for every completed job whose repeating
// sync interval has elapsed
func (s *Scheduler) queueDueSyncs(ctx context.Context) {
	jobs, err := s.store.ListJobs(ctx, migration.Filter{Status: migration.StatusCompleted})
	if err != nil {
		log.Errorf("listing completed jobs: %s", err)
		return
	}
	now := time.Now()
	for _, job := range jobs {
		if job.SyncDue(now) {
			s.enqueue(admission{jobID: job.ID, sync: true})
		}
	}
}

// enqueue adds an admission request unless the job already has one or is
// executing
func (s *Scheduler) enqueue(req admission) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.queued[req.jobID] {
		return
	}
	if _, executing := s.active[req.jobID]; executing {
		return
	}
	s.queued[req.jobID] = true
	s.waiting = append(s.waiting, req)
}

func (s *Scheduler) nextAdmission() (admission, bool) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if len(s.waiting) == 0 {
		return admission{}, false
	}
	req := s.waiting[0]
	s.waiting = s.waiting[1:]
	delete(s.queued, req.jobID)
	return req, true
}

// admitRequest moves a resumed or re-syncing job into an execution slot
func (s *Scheduler) admitRequest(ctx context.Context, req admission) {
	next := migration.StatusRunning
	expect := migration.StatusPaused
	msg := "resuming migration"
	if req.sync {
		next = migration.StatusSyncing
		expect = migration.StatusCompleted
		msg = "sync started"
	}

	job, err := s.store.GetJob(ctx, req.jobID)
	if err != nil {
		log.Debugw("admitRequest: fetching job", "id", req.jobID, "err", err)
		return
	}
	if job.Status != expect {
		// the job moved on while the request waited
		log.Debugw("admitRequest: stale request", "id", req.jobID, "status", job.Status)
		return
	}
	if job.LastSyncedRevision != "" && !req.sync {
		msg = fmt.Sprintf("resuming migration from revision %s", job.LastSyncedRevision)
	}

	s.launch(ctx, job, next, expect, msg)
}

// admitOldestPending admits the longest-waiting pending job. returns false
// when no pending job exists
func (s *Scheduler) admitOldestPending(ctx context.Context) bool {
	pending, err := s.store.ListJobs(ctx, migration.Filter{Status: migration.StatusPending, Limit: 1})
	if err != nil {
		log.Errorf("listing pending jobs: %s", err)
		return false
	}
	if len(pending) == 0 {
		return false
	}
	job := pending[0]
	if err := s.launch(ctx, job, migration.StatusRunning, migration.StatusPending,
		fmt.Sprintf("migration started: %s -> %s", job.SourceLocator, job.TargetID)); err != nil {
		// a failing store would hand back the same pending job every
		// iteration. stop admitting & wait for the next check cycle
		return false
	}
	return true
}

// launch transitions a job into an execution slot & starts its attempt
// goroutine. a lost transition race just skips this cycle without error,
// a store failure is returned so callers stop admitting
func (s *Scheduler) launch(ctx context.Context, job *migration.Job, next, expect migration.Status, logMsg string) error {
	runID := migration.NewRunID()
	zero := 0
	updated, err := s.transition(ctx, job.ID, next, migration.StatusUpdate{
		ExpectCurrent: expect,
		RunID:         runID,
		Progress:      &zero,
		LogLevel:      migration.LogLevelInfo,
		LogMessage:    logMsg,
	})
	if err != nil {
		if errors.Is(err, migration.ErrConflict) || errors.Is(err, migration.ErrInvalidTransition) {
			log.Debugw("launch: lost admission race", "id", job.ID, "err", err)
			return nil
		}
		log.Errorf("admitting job %s: %s", job.ID, err)
		return err
	}

	s.lk.Lock()
	s.active[job.ID] = &activeRun{runID: runID}
	s.lk.Unlock()

	go s.drive(ctx, updated, runID)
	return nil
}

// drive runs execution attempts for one admitted job until it reaches a
// terminal, paused or shutdown outcome, then frees the slot
func (s *Scheduler) drive(ctx context.Context, job *migration.Job, runID string) {
	defer s.clearActive(job.ID)

	mode := job.Status // running or syncing
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			runID = migration.NewRunID()
			if err := s.store.StartRun(ctx, job.ID, runID); err != nil {
				log.Errorf("recording attempt %d for job %s: %s", attempt, job.ID, err)
			}
			s.setRunID(job.ID, runID)
		}

		snap, rev, err := s.attempt(ctx, job, runID)

		if err == nil {
			hundred := 100
			upd := migration.StatusUpdate{
				ExpectCurrent: mode,
				Revision:      rev,
				SyncedNow:     true,
				RunID:         runID,
				Progress:      &hundred,
				LogLevel:      migration.LogLevelInfo,
			}
			upd.LogMessage = "migration completed"
			if mode == migration.StatusSyncing {
				upd.LogMessage = "sync completed"
			}
			if rev != "" {
				upd.LogMessage = fmt.Sprintf("%s at revision %s", upd.LogMessage, rev)
			}
			if _, terr := s.transition(ctx, job.ID, migration.StatusCompleted, upd); terr != nil {
				log.Errorf("completing job %s: %s", job.ID, terr)
			}
			return
		}

		// operator signals win over error classification: the capability
		// reports a context error after stopping at its checkpoint
		switch s.takeIntent(job.ID) {
		case signalPause:
			pct := snap.Percent
			msg := "paused"
			if rev != "" {
				msg = fmt.Sprintf("paused at checkpoint %s", rev)
			}
			if _, terr := s.transition(ctx, job.ID, migration.StatusPaused, migration.StatusUpdate{
				ExpectCurrent: mode,
				Revision:      rev,
				RunID:         runID,
				Progress:      &pct,
				LogLevel:      migration.LogLevelInfo,
				LogMessage:    msg,
			}); terr != nil {
				log.Errorf("pausing job %s: %s", job.ID, terr)
			}
			return
		case signalCancel:
			pct := snap.Percent
			if _, terr := s.transition(ctx, job.ID, migration.StatusCancelled, migration.StatusUpdate{
				ExpectCurrent: mode,
				Revision:      rev,
				RunID:         runID,
				Progress:      &pct,
				LogLevel:      migration.LogLevelInfo,
				LogMessage:    "cancelled by operator",
			}); terr != nil {
				log.Errorf("cancelling job %s: %s", job.ID, terr)
			}
			return
		}

		if ctx.Err() != nil {
			// scheduler shutdown. leave the job as-is: the next startup
			// reconciles it as interrupted
			log.Debugw("drive: shutdown mid-attempt", "id", job.ID)
			return
		}

		timedOut := s.opts.MaxRunDuration > 0 && errors.Is(err, context.DeadlineExceeded)
		retryable := migration.IsRetryable(err) || timedOut
		if timedOut {
			err = fmt.Errorf("execution exceeded %s", s.opts.MaxRunDuration)
		}

		if !retryable || attempt >= s.opts.MaxAttempts {
			pct := snap.Percent
			msg := fmt.Sprintf("migration failed: %s", err)
			if retryable {
				// retries are exhausted. the final attempt gets its own log
				// entry like the earlier ones, then the summary marks failure
				s.logAndPublish(ctx, job.ID, migration.LogLevelWarning,
					fmt.Sprintf("attempt %d of %d failed: %s", attempt, s.opts.MaxAttempts, err))
				msg = fmt.Sprintf("failed after %d attempts, last error: %s", attempt, err)
			}
			if _, terr := s.transition(ctx, job.ID, migration.StatusFailed, migration.StatusUpdate{
				ExpectCurrent: mode,
				Revision:      rev,
				RunID:         runID,
				Progress:      &pct,
				LogLevel:      migration.LogLevelError,
				LogMessage:    msg,
			}); terr != nil {
				log.Errorf("failing job %s: %s", job.ID, terr)
			}
			return
		}

		// retryable failure with attempts left: close out this queue entry,
		// log the attempt & back off
		if ferr := s.store.FinishRun(ctx, runID, migration.StatusFailed, snap.Percent); ferr != nil {
			log.Errorf("finishing run %s: %s", runID, ferr)
		}
		delay := backoffDelay(attempt, s.opts.BackoffBase, s.opts.BackoffMax)
		s.logAndPublish(ctx, job.ID, migration.LogLevelWarning,
			fmt.Sprintf("attempt %d of %d failed: %s, retrying in %s", attempt, s.opts.MaxAttempts, err, delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		// an operator may have signalled during the backoff window
		switch s.takeIntent(job.ID) {
		case signalPause:
			if _, terr := s.transition(ctx, job.ID, migration.StatusPaused, migration.StatusUpdate{
				ExpectCurrent: mode,
				LogLevel:      migration.LogLevelInfo,
				LogMessage:    "paused while waiting to retry",
			}); terr != nil {
				log.Errorf("pausing job %s: %s", job.ID, terr)
			}
			return
		case signalCancel:
			if _, terr := s.transition(ctx, job.ID, migration.StatusCancelled, migration.StatusUpdate{
				ExpectCurrent: mode,
				LogLevel:      migration.LogLevelInfo,
				LogMessage:    "cancelled by operator",
			}); terr != nil {
				log.Errorf("cancelling job %s: %s", job.ID, terr)
			}
			return
		}
	}
}

// attempt performs one execution attempt, wiring progress callbacks through
// the estimator to the store & the event bus
func (s *Scheduler) attempt(ctx context.Context, job *migration.Job, runID string) (progress.Snapshot, string, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if s.opts.MaxRunDuration > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, s.opts.MaxRunDuration)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	s.setCancel(job.ID, cancel)

	est := progress.NewEstimator(0)
	var checkpoint string

	report := func(done, total int, revision string) {
		snap := est.Update(done, total)
		if err := s.store.SetProgress(ctx, runID, snap.Percent); err != nil {
			log.Debugw("recording progress", "runID", runID, "err", err)
		}
		if revision != "" {
			if err := s.store.AdvanceRevision(ctx, job.ID, revision); err != nil {
				log.Debugw("advancing revision", "id", job.ID, "revision", revision, "err", err)
			} else {
				checkpoint = revision
			}
		}
		s.pub.Publish(ctx, event.ETJobProgress, event.JobProgressEvent{
			JobID:     job.ID,
			RunID:     runID,
			Done:      snap.Done,
			Total:     snap.Total,
			Percent:   snap.Percent,
			Estimated: snap.Estimated,
		})
	}

	rev, err := s.run(attemptCtx, ioes.NewDiscardIOStreams(), job.Copy(), report)
	if rev == "" {
		rev = checkpoint
	}
	if rev == "" {
		rev = job.LastSyncedRevision
	}
	return est.Snapshot(), rev, err
}

// Pause asks a running job to suspend at its next checkpoint, keeping all
// progress. The capability is never terminated mid-mutation
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := migration.ValidateTransition(job.Status, migration.StatusPaused); err != nil {
		return err
	}
	return s.signalActive(id, signalPause)
}

// Cancel stops a job. Executing jobs are asked to stop cooperatively at
// their next checkpoint; queued or suspended jobs are cancelled directly
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := migration.ValidateTransition(job.Status, migration.StatusCancelled); err != nil {
		return err
	}

	if job.Status == migration.StatusRunning {
		return s.signalActive(id, signalCancel)
	}

	_, err = s.transition(ctx, id, migration.StatusCancelled, migration.StatusUpdate{
		ExpectCurrent: job.Status,
		LogLevel:      migration.LogLevelInfo,
		LogMessage:    "cancelled by operator",
	})
	return err
}

// Resume queues a paused job for re-admission. Execution restarts from the
// last checkpoint when a slot frees up
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != migration.StatusPaused {
		return fmt.Errorf("%w: resume requires a paused job, %s is %s", migration.ErrInvalidTransition, id, job.Status)
	}
	s.enqueue(admission{jobID: id})
	return nil
}

// RequestSync queues a completed job for a re-sync against its source
func (s *Scheduler) RequestSync(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := migration.ValidateTransition(job.Status, migration.StatusSyncing); err != nil {
		return err
	}
	s.enqueue(admission{jobID: id, sync: true})
	return nil
}

// Retry moves a failed or cancelled job back to pending. Run-specific
// counters reset with the next admission's fresh queue entry;
// lastSyncedRevision is preserved so work picks up from the last checkpoint
func (s *Scheduler) Retry(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := migration.ValidateTransition(job.Status, migration.StatusPending); err != nil {
		return err
	}
	_, err = s.transition(ctx, id, migration.StatusPending, migration.StatusUpdate{
		ExpectCurrent: job.Status,
		LogLevel:      migration.LogLevelInfo,
		LogMessage:    "retry requested",
	})
	return err
}

// signalActive relays an operator signal to a job's current attempt
func (s *Scheduler) signalActive(id string, sig signal) error {
	s.lk.Lock()
	ar, ok := s.active[id]
	if !ok {
		s.lk.Unlock()
		return ErrNotActive
	}
	ar.intent = sig
	cancel := ar.cancel
	s.lk.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *Scheduler) setCancel(id string, cancel context.CancelFunc) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if ar, ok := s.active[id]; ok {
		ar.cancel = cancel
		// a signal that arrived between attempts still needs the context
		// cancelled so the new attempt stops at its first checkpoint
		if ar.intent != signalNone {
			go cancel()
		}
	}
}

func (s *Scheduler) setRunID(id, runID string) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if ar, ok := s.active[id]; ok {
		ar.runID = runID
	}
}

// takeIntent consumes a pending operator signal for a job
func (s *Scheduler) takeIntent(id string) signal {
	s.lk.Lock()
	defer s.lk.Unlock()
	ar, ok := s.active[id]
	if !ok {
		return signalNone
	}
	sig := ar.intent
	ar.intent = signalNone
	return sig
}

func (s *Scheduler) clearActive(id string) {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.active, id)
}

// transition applies a status change through the store & broadcasts the
// outcome
func (s *Scheduler) transition(ctx context.Context, id string, next migration.Status, upd migration.StatusUpdate) (*migration.Job, error) {
	job, err := s.store.UpdateStatus(ctx, id, next, upd)
	if err != nil {
		return nil, err
	}

	evt := event.JobStatusEvent{
		JobID:              job.ID,
		Status:             job.Status,
		LastSyncedRevision: job.LastSyncedRevision,
	}
	if next == migration.StatusFailed {
		evt.Error = upd.LogMessage
	}
	s.pub.Publish(ctx, event.ETJobStatus, evt)
	if upd.LogMessage != "" {
		s.pub.Publish(ctx, event.ETJobLog, event.JobLogEvent{
			JobID:   id,
			Level:   upd.LogLevel,
			Message: upd.LogMessage,
		})
	}
	return job, nil
}

// logAndPublish appends a standalone log entry & broadcasts it
func (s *Scheduler) logAndPublish(ctx context.Context, id string, level migration.LogLevel, message string) {
	if err := s.store.AppendLog(ctx, id, level, message); err != nil {
		log.Errorf("appending log for job %s: %s", id, err)
	}
	s.pub.Publish(ctx, event.ETJobLog, event.JobLogEvent{
		JobID:   id,
		Level:   level,
		Message: message,
	})
}

// backoffDelay doubles the base delay per completed attempt, capped at max
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

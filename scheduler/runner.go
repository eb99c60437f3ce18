package scheduler

import (
	"context"

	"github.com/qri-io/ioes"

	"github.com/migrato/migrato/migration"
)

// ReportFunc is how an execution capability reports incremental progress.
// unitsTotal may be zero while the capability hasn't finished counting; the
// first positive total corrects any provisional estimate. revision, when
// non-empty, names the last source revision safely written to the target,
// a checkpoint the job can be paused, cancelled or resumed at
type ReportFunc func(unitsDone, unitsTotal int, revision string)

// RunFunc is the injected execution capability: given a migration job,
// perform the actual repository work & report incremental progress. The
// scheduler takes care of admission, retries & persistence, and delegates
// the work itself to a RunFunc implementation.
//
// The job's status tells the capability what to do: running means an
// initial migration, syncing means catching the target up from
// job.LastSyncedRevision. The returned revision is the last one processed.
//
// Cancellation is cooperative: when ctx is cancelled the capability should
// finish its current checkpoint, report it, and return ctx's error. Errors
// wrapped with migration.NewRetryableError are retried per policy; anything
// else fails the job immediately
type RunFunc func(ctx context.Context, streams ioes.IOStreams, job *migration.Job, report ReportFunc) (revision string, err error)

package cmd

import (
	"context"

	"github.com/qri-io/ioes"
	"github.com/spf13/cobra"

	"github.com/migrato/migrato/lib"
)

// ControlOptions encapsulates state for the job steering commands: pause,
// resume, cancel, retry & sync
type ControlOptions struct {
	ioes.IOStreams

	ID      string
	Methods *lib.MigrationMethods
}

// Complete adds any missing configuration that can only be added just
// before calling Run
func (o *ControlOptions) Complete(f Factory, args []string) (err error) {
	o.ID = args[0]
	inst, err := f.Instance()
	if err != nil {
		return err
	}
	o.Methods = inst.Migration()
	return nil
}

func newControlCommand(f Factory, ioStreams ioes.IOStreams, use, short, long string, run func(o *ControlOptions, ctx context.Context) error, done string) *cobra.Command {
	o := &ControlOptions{IOStreams: ioStreams}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(f, args); err != nil {
				return err
			}
			if err := run(o, cmd.Context()); err != nil {
				return err
			}
			printSuccess(o.Out, done, o.ID)
			return nil
		},
	}
}

// NewPauseCommand creates the pause command
func NewPauseCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	return newControlCommand(f, ioStreams, "pause JOB",
		"suspend a running migration at its next checkpoint",
		`pause asks a running job to stop at its next safe checkpoint, keeping
all progress. Pausing reaches the execution through the scheduler daemon,
so it must be issued in the daemon process.`,
		func(o *ControlOptions, ctx context.Context) error { return o.Methods.Pause(ctx, o.ID) },
		"pause requested for job: %s")
}

// NewResumeCommand creates the resume command
func NewResumeCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	return newControlCommand(f, ioStreams, "resume JOB",
		"continue a paused migration from its last checkpoint",
		`resume queues a paused job for re-admission. Execution restarts from
the last synced revision when a concurrency slot frees up.`,
		func(o *ControlOptions, ctx context.Context) error { return o.Methods.Resume(ctx, o.ID) },
		"resume requested for job: %s")
}

// NewCancelCommand creates the cancel command
func NewCancelCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	return newControlCommand(f, ioStreams, "cancel JOB",
		"stop a migration permanently",
		`cancel stops a job for good, keeping its record & logs. Executing jobs
are asked to stop cooperatively at their next checkpoint; queued or paused
jobs are cancelled immediately. A cancelled job can be re-queued with
retry.`,
		func(o *ControlOptions, ctx context.Context) error { return o.Methods.Cancel(ctx, o.ID) },
		"cancel requested for job: %s")
}

// NewRetryCommand creates the retry command
func NewRetryCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	return newControlCommand(f, ioStreams, "retry JOB",
		"queue a failed or cancelled migration again",
		`retry moves a failed or cancelled job back into the pending queue. The
last synced revision is preserved, so work picks up from the last
checkpoint rather than starting over.`,
		func(o *ControlOptions, ctx context.Context) error { return o.Methods.Retry(ctx, o.ID) },
		"retry requested for job: %s")
}

// NewSyncCommand creates the sync command
func NewSyncCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	return newControlCommand(f, ioStreams, "sync JOB",
		"re-sync a completed migration against its source",
		`sync requests an immediate catch-up pass for a completed job, pulling
source revisions added since the last sync into the target.`,
		func(o *ControlOptions, ctx context.Context) error { return o.Methods.Sync(ctx, o.ID) },
		"sync requested for job: %s")
}

// NewRemoveCommand creates the remove command
func NewRemoveCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	return newControlCommand(f, ioStreams, "remove JOB",
		"delete a migration job & its history",
		`remove deletes a job's record along with all of its log & queue
entries. Executing jobs must be cancelled first. The migrated data on the
target is untouched.`,
		func(o *ControlOptions, ctx context.Context) error { return o.Methods.Delete(ctx, o.ID) },
		"removed job: %s")
}

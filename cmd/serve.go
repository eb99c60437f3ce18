package cmd

import (
	"github.com/qri-io/ioes"
	"github.com/spf13/cobra"

	"github.com/migrato/migrato/lib"
)

// NewServeCommand creates the serve command, the long-running scheduler
// daemon
func NewServeCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	o := &ServeOptions{IOStreams: ioStreams}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the migration scheduler daemon",
		Long: `serve runs the scheduling loop: admitting pending jobs up to the
configured concurrency bound, retrying transient failures, and queueing
automatic re-syncs. Jobs left executing by a prior crash are marked failed
at startup.`,
		Example: `  run the daemon with the default configuration:
  $ migrato serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(f); err != nil {
				return err
			}
			return o.Run(cmd)
		},
	}
	return cmd
}

// ServeOptions encapsulates state for the serve command
type ServeOptions struct {
	ioes.IOStreams
	Instance *lib.Instance
}

// Complete adds any missing configuration that can only be added just
// before calling Run
func (o *ServeOptions) Complete(f Factory) (err error) {
	o.Instance, err = f.Instance()
	return err
}

// Run starts the scheduler, blocking until interrupted
func (o *ServeOptions) Run(cmd *cobra.Command) error {
	defer o.Instance.Shutdown()
	printInfo(o.Out, "starting migration scheduler")
	return o.Instance.Serve(cmd.Context())
}

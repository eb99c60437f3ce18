package cmd

import (
	"github.com/qri-io/ioes"
	"github.com/spf13/cobra"

	"github.com/migrato/migrato/lib"
)

// NewLogsCommand creates the logs command
func NewLogsCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	o := &LogsOptions{IOStreams: ioStreams}
	cmd := &cobra.Command{
		Use:   "logs JOB",
		Short: "show a job's migration log",
		Long: `logs shows the human-readable history of a migration job: admission,
retries, checkpoints & terminal outcomes, oldest first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(f, args); err != nil {
				return err
			}
			return o.Run(cmd)
		},
	}

	cmd.Flags().IntVar(&o.Offset, "offset", 0, "skip this number of entries")
	cmd.Flags().IntVar(&o.Limit, "limit", 100, "size of the results page")
	return cmd
}

// LogsOptions encapsulates state for the logs command
type LogsOptions struct {
	ioes.IOStreams

	ID     string
	Offset int
	Limit  int

	Methods *lib.MigrationMethods
}

// Complete adds any missing configuration that can only be added just
// before calling Run
func (o *LogsOptions) Complete(f Factory, args []string) (err error) {
	o.ID = args[0]
	inst, err := f.Instance()
	if err != nil {
		return err
	}
	o.Methods = inst.Migration()
	return nil
}

// Run prints the migration log
func (o *LogsOptions) Run(cmd *cobra.Command) error {
	logs, err := o.Methods.Logs(cmd.Context(), &lib.LogParams{
		ID:     o.ID,
		Offset: o.Offset,
		Limit:  o.Limit,
	})
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		printInfo(o.Out, "no log entries")
		return nil
	}
	for _, entry := range logs {
		printLogEntry(o.Out, entry)
	}
	return nil
}

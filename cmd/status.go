package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/qri-io/ioes"
	"github.com/spf13/cobra"

	"github.com/migrato/migrato/lib"
)

// NewStatusCommand creates the status command
func NewStatusCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	o := &StatusOptions{IOStreams: ioStreams}
	cmd := &cobra.Command{
		Use:   "status JOB",
		Short: "show the state of a migration job",
		Long: `status shows a job's record & its execution attempts: one queue entry
per attempt with the progress it reached.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(f, args); err != nil {
				return err
			}
			return o.Run(cmd)
		},
	}

	cmd.Flags().StringVar(&o.Format, "format", "", "set output format [json]")
	return cmd
}

// StatusOptions encapsulates state for the status command
type StatusOptions struct {
	ioes.IOStreams

	ID     string
	Format string

	Methods *lib.MigrationMethods
}

// Complete adds any missing configuration that can only be added just
// before calling Run
func (o *StatusOptions) Complete(f Factory, args []string) (err error) {
	o.ID = args[0]
	inst, err := f.Instance()
	if err != nil {
		return err
	}
	o.Methods = inst.Migration()
	return nil
}

// Run shows the job & its attempts
func (o *StatusOptions) Run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	job, err := o.Methods.Get(ctx, o.ID)
	if err != nil {
		return err
	}
	runs, err := o.Methods.Runs(ctx, o.ID)
	if err != nil {
		return err
	}

	if o.Format == "json" {
		data, err := json.MarshalIndent(struct {
			Job  interface{} `json:"job"`
			Runs interface{} `json:"runs"`
		}{job, runs}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(o.Out, "%s\n", data)
		return nil
	}

	printJobInfo(o.Out, 1, job)
	if len(runs) > 0 {
		printInfo(o.Out, "attempts:")
		for i, run := range runs {
			fmt.Fprintf(o.Out, "  %d. %s  %s  %d%%\n", i+1, run.RunID, statusColor(run.Status).Sprint(run.Status), run.Progress)
		}
	}
	return nil
}

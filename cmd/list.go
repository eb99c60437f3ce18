package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/qri-io/ioes"
	"github.com/spf13/cobra"

	"github.com/migrato/migrato/lib"
	"github.com/migrato/migrato/migration"
)

// NewListCommand creates the list command
func NewListCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	o := &ListOptions{IOStreams: ioStreams}
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "show migration jobs",
		Long:    `list shows migration jobs in creation order, oldest first.`,
		Example: `  show all failed jobs:
  $ migrato list --status failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(f); err != nil {
				return err
			}
			return o.Run(cmd)
		},
	}

	cmd.Flags().StringVar(&o.Status, "status", "", "only show jobs in this state")
	cmd.Flags().IntVar(&o.Offset, "offset", 0, "skip this number of jobs")
	cmd.Flags().IntVar(&o.Limit, "limit", 25, "size of the results page")
	cmd.Flags().StringVar(&o.Format, "format", "", "set output format [json]")

	return cmd
}

// ListOptions encapsulates state for the list command
type ListOptions struct {
	ioes.IOStreams

	Status string
	Offset int
	Limit  int
	Format string

	Methods *lib.MigrationMethods
}

// Complete adds any missing configuration that can only be added just
// before calling Run
func (o *ListOptions) Complete(f Factory) (err error) {
	inst, err := f.Instance()
	if err != nil {
		return err
	}
	o.Methods = inst.Migration()
	return nil
}

// Run lists migration jobs
func (o *ListOptions) Run(cmd *cobra.Command) error {
	jobs, err := o.Methods.List(cmd.Context(), &lib.ListParams{
		Status: migration.Status(o.Status),
		Offset: o.Offset,
		Limit:  o.Limit,
	})
	if err != nil {
		return err
	}

	switch o.Format {
	case "":
		if len(jobs) == 0 {
			printInfo(o.Out, "no migration jobs")
			return nil
		}
		for i, job := range jobs {
			printJobInfo(o.Out, o.Offset+i+1, job)
		}
	case "json":
		data, err := json.MarshalIndent(jobs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(o.Out, "%s\n", data)
	default:
		return fmt.Errorf("unrecognized format: %s", o.Format)
	}
	return nil
}

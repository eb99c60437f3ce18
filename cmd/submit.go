package cmd

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/qri-io/ioes"
	"github.com/spf13/cobra"

	"github.com/migrato/migrato/lib"
)

// NewSubmitCommand creates the submit command
func NewSubmitCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	o := &SubmitOptions{IOStreams: ioStreams}
	cmd := &cobra.Command{
		Use:   "submit SOURCE TARGET",
		Short: "submit a new migration job",
		Long: `submit creates a pending migration job from a source repository
locator to a target project. The scheduler daemon picks it up on its next
cycle.`,
		Example: `  submit a migration with a daily re-sync:
  $ migrato submit https://src.example/repo.git proj-42 --sync-interval R/P1D`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(f, args); err != nil {
				return err
			}
			return o.Run(cmd)
		},
	}

	cmd.Flags().StringVar(&o.LayoutConfigPath, "layout-config", "", "path to a json layout configuration file")
	cmd.Flags().StringVar(&o.AuthorMappingPath, "author-mapping", "", "path to a json author mapping file")
	cmd.Flags().StringVar(&o.SyncInterval, "sync-interval", "", "ISO 8601 repeating interval for automatic re-sync, eg R/P1D")

	return cmd
}

// SubmitOptions encapsulates state for the submit command
type SubmitOptions struct {
	ioes.IOStreams

	SourceLocator     string
	TargetID          string
	LayoutConfigPath  string
	AuthorMappingPath string
	SyncInterval      string

	Methods *lib.MigrationMethods
}

// Complete adds any missing configuration that can only be added just
// before calling Run
func (o *SubmitOptions) Complete(f Factory, args []string) (err error) {
	o.SourceLocator = args[0]
	o.TargetID = args[1]

	inst, err := f.Instance()
	if err != nil {
		return err
	}
	o.Methods = inst.Migration()
	return nil
}

// Run submits the migration job
func (o *SubmitOptions) Run(cmd *cobra.Command) error {
	p := &lib.SubmitParams{
		SourceLocator: o.SourceLocator,
		TargetID:      o.TargetID,
		SyncInterval:  o.SyncInterval,
	}

	var err error
	if p.LayoutConfig, err = readJSONFlag(o.LayoutConfigPath); err != nil {
		return err
	}
	if p.AuthorMapping, err = readJSONFlag(o.AuthorMappingPath); err != nil {
		return err
	}

	job, err := o.Methods.Submit(cmd.Context(), p)
	if err != nil {
		return err
	}

	printSuccess(o.Out, "submitted migration job: %s", job.ID)
	return nil
}

// readJSONFlag reads & sanity-checks a json file named by a flag. an empty
// path yields nil
func readJSONFlag(path string) (json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s does not contain valid json", path)
	}
	return json.RawMessage(data), nil
}

package cmd

import (
	"github.com/qri-io/ioes"
	"github.com/spf13/cobra"

	"github.com/migrato/migrato/lib"
)

// NewVersionCommand creates the version command
func NewVersionCommand(ioStreams ioes.IOStreams) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "show the migrato version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printInfo(ioStreams.Out, lib.VersionNumber)
		},
	}
}

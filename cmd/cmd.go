// Package cmd defines the migrato command line interface, a thin layer of
// cobra commands over lib methods
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/qri-io/ioes"
	"github.com/spf13/cobra"

	"github.com/migrato/migrato/scheduler"
)

// Runner is the execution capability the serve daemon drives jobs with.
// Embedders wire their remote client here before calling Execute; left nil,
// admitted jobs fail with a "no execution capability registered" error
var Runner scheduler.RunFunc

// Execute runs the migrato command line interface
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	streams := ioes.NewStdIOStreams()
	root := NewMigratoCommand(ctx, Runner, streams)
	if err := root.ExecuteContext(ctx); err != nil {
		printErr(streams.ErrOut, err)
		os.Exit(1)
	}
}

// NewMigratoCommand represents the base command when called without any
// subcommands
func NewMigratoCommand(ctx context.Context, runner scheduler.RunFunc, ioStreams ioes.IOStreams) *cobra.Command {
	opt := NewMigratoOptions(ctx, runner, ioStreams)

	cmd := &cobra.Command{
		Use:   "migrato",
		Short: "migrato migration job orchestrator",
		Long: `migrato runs long-lived repository migration & synchronization jobs:
importing an external repository into a target project, then keeping the
target in sync with periodic catch-up passes. Jobs survive restarts, retry
transient failures, and can be paused, resumed & cancelled while running.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opt.CfgPath, "config", opt.CfgPath, "path to the configuration file")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colorized output")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		setNoColor(noColor)
	}

	cmd.AddCommand(
		NewServeCommand(opt, ioStreams),
		NewSubmitCommand(opt, ioStreams),
		NewListCommand(opt, ioStreams),
		NewStatusCommand(opt, ioStreams),
		NewLogsCommand(opt, ioStreams),
		NewPauseCommand(opt, ioStreams),
		NewResumeCommand(opt, ioStreams),
		NewCancelCommand(opt, ioStreams),
		NewRetryCommand(opt, ioStreams),
		NewSyncCommand(opt, ioStreams),
		NewRemoveCommand(opt, ioStreams),
		NewConfigCommand(opt, ioStreams),
		NewVersionCommand(ioStreams),
	)

	return cmd
}

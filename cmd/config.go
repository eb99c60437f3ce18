package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/qri-io/ioes"
	"github.com/spf13/cobra"

	"github.com/migrato/migrato/config"
)

// NewConfigCommand creates the config command & its get/set subcommands
func NewConfigCommand(f Factory, ioStreams ioes.IOStreams) *cobra.Command {
	o := &ConfigOptions{IOStreams: ioStreams}
	cmd := &cobra.Command{
		Use:   "config",
		Short: "get & set configuration values",
		Long: `config reads & writes the yaml configuration file. Paths are
case-insensitive & dot-separated, eg scheduler.maxconcurrent.`,
	}

	get := &cobra.Command{
		Use:   "get PATH",
		Short: "show a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(f); err != nil {
				return err
			}
			return o.Get(args[0])
		},
	}

	set := &cobra.Command{
		Use:   "set PATH VALUE",
		Short: "change a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(f); err != nil {
				return err
			}
			return o.Set(args[0], args[1])
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}

// ConfigOptions encapsulates state for the config command
type ConfigOptions struct {
	ioes.IOStreams

	Cfg  *config.Config
	Path string
}

// Complete adds any missing configuration that can only be added just
// before calling Run
func (o *ConfigOptions) Complete(f Factory) (err error) {
	o.Cfg, err = f.Config()
	o.Path = f.ConfigPath()
	return err
}

// Get prints a configuration value
func (o *ConfigOptions) Get(path string) error {
	v, err := o.Cfg.Get(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "%v\n", v)
	return nil
}

// Set changes a configuration value & writes the file back out
func (o *ConfigOptions) Set(path, value string) error {
	var v interface{} = value
	if i, err := strconv.Atoi(value); err == nil {
		v = i
	} else if b, err := strconv.ParseBool(value); err == nil {
		v = b
	}

	if err := o.Cfg.Set(path, v); err != nil {
		return err
	}
	if err := o.Cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(o.Path), 0755); err != nil {
		return err
	}
	if err := o.Cfg.WriteToFile(o.Path); err != nil {
		return err
	}
	printSuccess(o.Out, "wrote %s", o.Path)
	return nil
}

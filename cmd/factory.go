package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/qri-io/ioes"

	"github.com/migrato/migrato/config"
	"github.com/migrato/migrato/lib"
	"github.com/migrato/migrato/scheduler"
)

// Factory is an interface for providing required structures to cobra
// commands. It's main implementation is MigratoOptions
type Factory interface {
	Instance() (*lib.Instance, error)
	Config() (*config.Config, error)
	ConfigPath() string
}

// StandardConfigPath returns the migrato config file location based on the
// MIGRATO_PATH environment variable, falling back to the default:
// $HOME/.migrato
func StandardConfigPath() string {
	base := os.Getenv("MIGRATO_PATH")
	if base == "" {
		home, err := homedir.Dir()
		if err != nil {
			panic(err)
		}
		base = filepath.Join(home, ".migrato")
	}
	return filepath.Join(base, "config.yaml")
}

// MigratoOptions holds the shared state cobra commands draw on: the
// configuration location & the lazily constructed instance
type MigratoOptions struct {
	ioes.IOStreams

	// CfgPath is the location of the yaml configuration file
	CfgPath string

	ctx    context.Context
	runner scheduler.RunFunc

	initOnce sync.Once
	inst     *lib.Instance
	cfg      *config.Config
	initErr  error
}

// NewMigratoOptions creates an options object. runner is the execution
// capability the serve daemon drives jobs with, nil leaves job execution
// unconfigured
func NewMigratoOptions(ctx context.Context, runner scheduler.RunFunc, streams ioes.IOStreams) *MigratoOptions {
	return &MigratoOptions{
		IOStreams: streams,
		CfgPath:   StandardConfigPath(),
		ctx:       ctx,
		runner:    runner,
	}
}

func (o *MigratoOptions) init() {
	o.initOnce.Do(func() {
		if _, err := os.Stat(o.CfgPath); os.IsNotExist(err) {
			o.cfg = config.DefaultConfig()
		} else {
			o.cfg, o.initErr = config.ReadFromFile(o.CfgPath)
			if o.initErr != nil {
				o.initErr = fmt.Errorf("reading config %s: %w", o.CfgPath, o.initErr)
				return
			}
		}

		opts := []lib.Option{
			lib.OptConfig(o.cfg),
			lib.OptIOStreams(o.IOStreams),
		}
		if o.runner != nil {
			opts = append(opts, lib.OptRunner(o.runner))
		}
		o.inst, o.initErr = lib.NewInstance(o.ctx, opts...)
	})
}

// Instance returns the shared migrato instance, constructing it on first
// use
func (o *MigratoOptions) Instance() (*lib.Instance, error) {
	o.init()
	return o.inst, o.initErr
}

// Config returns the loaded configuration
func (o *MigratoOptions) Config() (*config.Config, error) {
	o.init()
	return o.cfg, o.initErr
}

// ConfigPath returns the location of the configuration file
func (o *MigratoOptions) ConfigPath() string {
	return o.CfgPath
}

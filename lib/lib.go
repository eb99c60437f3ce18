// Package lib implements core migrato business logic. It exports
// canonical methods that a migrato instance can perform regardless of
// client interface. API's of any sort must use lib methods
package lib

import (
	"context"
	"fmt"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/qri-io/ioes"

	"github.com/migrato/migrato/config"
	"github.com/migrato/migrato/event"
	"github.com/migrato/migrato/migration"
	"github.com/migrato/migrato/scheduler"
	"github.com/migrato/migrato/sqlstore"
)

var log = golog.Logger("lib")

// VersionNumber is the current version migrato
const VersionNumber = "0.1.0"

// InstanceOptions provides details to NewInstance.
// New will alter InstanceOptions by applying any provided Option functions
// to distill the options down to a single composed structure
type InstanceOptions struct {
	Cfg     *config.Config
	Store   migration.Store
	Bus     event.Bus
	Runner  scheduler.RunFunc
	Streams ioes.IOStreams
}

// Option is a function that manipulates config details when fed to New()
type Option func(o *InstanceOptions) error

// OptConfig supplies a configuration directly
func OptConfig(cfg *config.Config) Option {
	return func(o *InstanceOptions) error {
		o.Cfg = cfg
		return nil
	}
}

// OptStore overrides the job store the configuration would open. Handy for
// testing against an in-memory store
func OptStore(store migration.Store) Option {
	return func(o *InstanceOptions) error {
		o.Store = store
		return nil
	}
}

// OptBus supplies an event bus, overriding the bus the instance would create
func OptBus(bus event.Bus) Option {
	return func(o *InstanceOptions) error {
		o.Bus = bus
		return nil
	}
}

// OptRunner supplies the execution capability jobs are driven with
func OptRunner(run scheduler.RunFunc) Option {
	return func(o *InstanceOptions) error {
		o.Runner = run
		return nil
	}
}

// OptIOStreams sets the input/output streams an instance talks to users
// through
func OptIOStreams(streams ioes.IOStreams) Option {
	return func(o *InstanceOptions) error {
		o.Streams = streams
		return nil
	}
}

// NewInstance creates a new migrato Instance, if no Option funcs are
// provided the instance is constructed with a default configuration
func NewInstance(ctx context.Context, opts ...Option) (*Instance, error) {
	o := &InstanceOptions{
		Streams: ioes.NewDiscardIOStreams(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	if o.Cfg == nil {
		o.Cfg = config.DefaultConfig()
	}
	if err := o.Cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := applyLogLevels(o.Cfg.Logging); err != nil {
		return nil, err
	}
	if o.Runner == nil {
		// the remote client doing the actual repository work is an injected
		// capability. without one, admitted jobs fail fast instead of
		// hanging in the queue
		o.Runner = func(ctx context.Context, _ ioes.IOStreams, _ *migration.Job, _ scheduler.ReportFunc) (string, error) {
			return "", migration.NewFatalError(fmt.Errorf("no execution capability registered"))
		}
	}

	inst := &Instance{
		cfg:     o.Cfg,
		streams: o.Streams,
		bus:     o.Bus,
	}

	if o.Store != nil {
		inst.store = o.Store
	} else {
		store, err := sqlstore.Open(o.Cfg.Store.Driver, o.Cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		inst.store = store
		inst.dbstore = store
	}

	if inst.bus == nil {
		inst.bus = event.NewBus(ctx)
	}

	schOpts, err := schedulerOptions(o.Cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	sch, err := scheduler.New(inst.store, inst.bus, o.Runner, schOpts)
	if err != nil {
		return nil, err
	}
	inst.sch = sch

	return inst, nil
}

// applyLogLevels sets the configured level on each named logging subsystem
func applyLogLevels(cfg *config.Logging) error {
	if cfg == nil {
		return nil
	}
	for name, level := range cfg.Levels {
		if err := golog.SetLogLevel(name, level); err != nil {
			return fmt.Errorf("setting log level for %s: %w", name, err)
		}
	}
	return nil
}

// schedulerOptions converts a validated scheduler config section into
// runtime options
func schedulerOptions(cfg *config.Scheduler) (scheduler.Options, error) {
	opts := scheduler.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxAttempts:   cfg.MaxAttempts,
	}
	var err error
	if opts.CheckInterval, err = time.ParseDuration(cfg.CheckInterval); err != nil {
		return opts, fmt.Errorf("invalid checkinterval: %w", err)
	}
	if opts.BackoffBase, err = time.ParseDuration(cfg.BackoffBase); err != nil {
		return opts, fmt.Errorf("invalid backoffbase: %w", err)
	}
	if opts.BackoffMax, err = time.ParseDuration(cfg.BackoffMax); err != nil {
		return opts, fmt.Errorf("invalid backoffmax: %w", err)
	}
	if cfg.MaxRunDuration != "" {
		if opts.MaxRunDuration, err = time.ParseDuration(cfg.MaxRunDuration); err != nil {
			return opts, fmt.Errorf("invalid maxrunduration: %w", err)
		}
	}
	return opts, nil
}

// Instance bundles the migrato subsystems behind one handle: the durable
// job store, the event bus & the scheduler, configured from a single
// config.Config
type Instance struct {
	cfg     *config.Config
	streams ioes.IOStreams

	store   migration.Store
	dbstore *sqlstore.Store // nil when the store was injected
	bus     event.Bus
	sch     *scheduler.Scheduler
}

// Config returns the instance configuration
func (inst *Instance) Config() *config.Config { return inst.cfg }

// Store returns the instance job store
func (inst *Instance) Store() migration.Store { return inst.store }

// Bus returns the instance event bus
func (inst *Instance) Bus() event.Bus { return inst.bus }

// Scheduler returns the instance scheduler
func (inst *Instance) Scheduler() *scheduler.Scheduler { return inst.sch }

// Serve runs the scheduling loop, blocking until ctx completes
func (inst *Instance) Serve(ctx context.Context) error {
	log.Infof("starting scheduler%s", inst.cfg.SummaryString())
	return inst.sch.Start(ctx)
}

// Shutdown releases instance resources
func (inst *Instance) Shutdown() error {
	if inst.dbstore != nil {
		return inst.dbstore.Close()
	}
	return nil
}

package config

import (
	"fmt"
	"time"

	"github.com/qri-io/jsonschema"
)

// Scheduler configures job admission & the retry policy. Durations are
// strings in time.ParseDuration notation ("5s", "1m")
type Scheduler struct {
	// MaxConcurrent bounds how many jobs execute at once
	MaxConcurrent int `json:"maxconcurrent"`
	// CheckInterval is how often the scheduler looks for admissible work
	CheckInterval string `json:"checkinterval"`
	// MaxAttempts caps retries of retryable execution failures
	MaxAttempts int `json:"maxattempts"`
	// BackoffBase is the delay before the first retry, doubling per attempt
	// up to BackoffMax
	BackoffBase string `json:"backoffbase"`
	BackoffMax  string `json:"backoffmax"`
	// MaxRunDuration optionally bounds a single execution attempt. empty
	// means unbounded
	MaxRunDuration string `json:"maxrunduration,omitempty"`
}

// SetArbitrary is an interface implementation of base/fill/struct in order to safely
// consume config files that have definitions beyond those specified in the struct.
// This simply ignores all additional fields at read time.
func (cfg *Scheduler) SetArbitrary(key string, val interface{}) error {
	return nil
}

// DefaultScheduler returns a new default Scheduler configuration
func DefaultScheduler() *Scheduler {
	return &Scheduler{
		MaxConcurrent: 2,
		CheckInterval: "5s",
		MaxAttempts:   3,
		BackoffBase:   "2s",
		BackoffMax:    "1m",
	}
}

// Validate validates all fields of scheduler returning all errors found.
func (cfg Scheduler) Validate() error {
	schema := jsonschema.Must(`{
    "$schema": "http://json-schema.org/draft-06/schema#",
    "title": "Scheduler",
    "description": "Config for job admission and retry policy",
    "type": "object",
    "required": ["maxconcurrent", "maxattempts"],
    "properties": {
      "maxconcurrent": {
        "description": "Bound on concurrently executing jobs",
        "type": "integer",
        "minimum": 1
      },
      "maxattempts": {
        "description": "Cap on execution attempts per admission",
        "type": "integer",
        "minimum": 1
      }
    }
  }`)
	if err := validate(schema, &cfg); err != nil {
		return err
	}

	for name, val := range map[string]string{
		"checkinterval": cfg.CheckInterval,
		"backoffbase":   cfg.BackoffBase,
		"backoffmax":    cfg.BackoffMax,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if cfg.MaxRunDuration != "" {
		if _, err := time.ParseDuration(cfg.MaxRunDuration); err != nil {
			return fmt.Errorf("invalid maxrunduration: %w", err)
		}
	}
	return nil
}

// Copy returns a deep copy of the Scheduler struct
func (cfg *Scheduler) Copy() *Scheduler {
	return &Scheduler{
		MaxConcurrent:  cfg.MaxConcurrent,
		CheckInterval:  cfg.CheckInterval,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.BackoffBase,
		BackoffMax:     cfg.BackoffMax,
		MaxRunDuration: cfg.MaxRunDuration,
	}
}

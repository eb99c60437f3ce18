package config

import "github.com/qri-io/jsonschema"

// Store configures the durable migration job store
type Store struct {
	// Driver names the database backend, one of "sqlite" or "postgres"
	Driver string `json:"driver"`
	// DSN is the driver-specific connection string. for sqlite this is a
	// filesystem path
	DSN string `json:"dsn"`
}

// SetArbitrary is an interface implementation of base/fill/struct in order to safely
// consume config files that have definitions beyond those specified in the struct.
// This simply ignores all additional fields at read time.
func (cfg *Store) SetArbitrary(key string, val interface{}) error {
	return nil
}

// DefaultStore returns a new default Store configuration
func DefaultStore() *Store {
	return &Store{
		Driver: "sqlite",
		DSN:    "migrato.db",
	}
}

// Validate validates all fields of store returning all errors found.
func (cfg Store) Validate() error {
	schema := jsonschema.Must(`{
    "$schema": "http://json-schema.org/draft-06/schema#",
    "title": "Store",
    "description": "Config for the migration job store",
    "type": "object",
    "required": ["driver", "dsn"],
    "properties": {
      "driver": {
        "description": "Database backend for job records",
        "type": "string",
        "enum": [
          "sqlite",
          "postgres"
        ]
      },
      "dsn": {
        "description": "Driver-specific connection string",
        "type": "string",
        "minLength": 1
      }
    }
  }`)
	return validate(schema, &cfg)
}

// Copy returns a deep copy of the Store struct
func (cfg *Store) Copy() *Store {
	return &Store{
		Driver: cfg.Driver,
		DSN:    cfg.DSN,
	}
}

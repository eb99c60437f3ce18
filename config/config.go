// Package config encapsulates migrato configuration options & details.
// configuration is generally stored as a .yaml file, or provided at CLI
// runtime via a command line argument
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"reflect"
	"strings"

	"github.com/qri-io/jsonschema"
	"gopkg.in/yaml.v2"
)

// Config encapsulates all configuration details for migrato
type Config struct {
	Store     *Store
	Scheduler *Scheduler
	Logging   *Logging
}

// DefaultConfig gives a new default migrato configuration
func DefaultConfig() *Config {
	return &Config{
		Store:     DefaultStore(),
		Scheduler: DefaultScheduler(),
		Logging:   DefaultLogging(),
	}
}

// SummaryString creates a pretty string summarizing the configuration,
// useful for log output
func (cfg Config) SummaryString() (summary string) {
	summary = "\n"
	if cfg.Store != nil {
		summary += fmt.Sprintf("store driver:\t%s\n", cfg.Store.Driver)
	}
	if cfg.Scheduler != nil {
		summary += fmt.Sprintf("max concurrent:\t%d\nmax attempts:\t%d\n", cfg.Scheduler.MaxConcurrent, cfg.Scheduler.MaxAttempts)
	}
	return summary
}

// ReadFromFile reads a YAML configuration file from path
func ReadFromFile(path string) (cfg *Config, err error) {
	var data []byte

	data, err = ioutil.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	cfg = DefaultConfig()
	err = yaml.Unmarshal(data, cfg)
	return
}

// WriteToFile encodes a configration to YAML and writes it to path
func (cfg Config) WriteToFile(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return ioutil.WriteFile(path, data, 0644)
}

// Get a config value with case.insensitive.dot.separated.paths
func (cfg Config) Get(path string) (interface{}, error) {
	v, err := cfg.path(path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// Set a config value with case.insensitive.dot.separated.paths
func (cfg *Config) Set(path string, value interface{}) error {
	selectors := strings.Split(path, ".")

	// resolve the parent of the final selector: map entries aren't
	// addressable through reflection & must be written with SetMapIndex
	parent := reflect.ValueOf(cfg).Elem()
	if len(selectors) > 1 {
		var err error
		parent, err = traverse(parent, selectors[:len(selectors)-1], path)
		if err != nil {
			return err
		}
	}
	if parent.Kind() == reflect.Ptr {
		parent = parent.Elem()
	}

	sel := strings.ToLower(selectors[len(selectors)-1])
	rv := reflect.ValueOf(value)

	if parent.Kind() == reflect.Map {
		for _, key := range parent.MapKeys() {
			if strings.ToLower(key.String()) == sel {
				if rv.Kind() != parent.Type().Elem().Kind() {
					return fmt.Errorf("invalid type for config path %s, expected: %s, got: %s", path, parent.Type().Elem().Kind().String(), rv.Kind().String())
				}
				parent.SetMapIndex(key, rv)
				return nil
			}
		}
		return fmt.Errorf("invalid config path: %s", path)
	}

	v, err := traverse(parent, selectors[len(selectors)-1:], path)
	if err != nil {
		return err
	}
	if rv.Kind() != v.Kind() {
		return fmt.Errorf("invalid type for config path %s, expected: %s, got: %s", path, v.Kind().String(), rv.Kind().String())
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(rv.String())
	case reflect.Bool:
		v.SetBool(rv.Bool())
	case reflect.Int:
		v.SetInt(rv.Int())
	default:
		return fmt.Errorf("cannot set config path: %s", path)
	}

	return nil
}

func (cfg *Config) path(path string) (reflect.Value, error) {
	return traverse(reflect.ValueOf(cfg).Elem(), strings.Split(path, "."), path)
}

func traverse(elem reflect.Value, selectors []string, path string) (reflect.Value, error) {
	for _, sel := range selectors {
		sel = strings.ToLower(sel)

		if elem.Kind() == reflect.Ptr {
			elem = elem.Elem()
		}

		switch elem.Kind() {
		case reflect.Struct:
			set := false
			for i := 0; i < elem.NumField(); i++ {
				if strings.ToLower(elem.Type().Field(i).Name) == sel {
					elem = elem.Field(i)
					set = true
					break
				}
			}
			if !set {
				return elem, fmt.Errorf("invalid config path: %s", path)
			}
		case reflect.Map:
			set := false
			for _, key := range elem.MapKeys() {
				if strings.ToLower(key.String()) == sel {
					elem = elem.MapIndex(key)
					set = true
					break
				}
			}
			if !set {
				return elem, fmt.Errorf("invalid config path: %s", path)
			}
		}

		if elem.Kind() == reflect.Invalid {
			return elem, fmt.Errorf("invalid config path: %s", path)
		}
	}

	return elem, nil
}

// validate is a helper function that wraps json.Marshal and ValidateBytes.
// it is used by each struct that is in a Config field (eg Store, Scheduler)
func validate(rs *jsonschema.RootSchema, s interface{}) error {
	strct, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("error marshaling config section to json: %s", err)
	}
	if errors, err := rs.ValidateBytes(strct); len(errors) > 0 {
		return fmt.Errorf("%s", errors[0])
	} else if err != nil {
		return err
	}
	return nil
}

// Validate validates each section of the config struct, returning the first
// error
func (cfg Config) Validate() error {
	if err := cfg.Store.Validate(); err != nil {
		return err
	}
	if err := cfg.Scheduler.Validate(); err != nil {
		return err
	}
	return cfg.Logging.Validate()
}

// Copy returns a deep copy of the Config struct
func (cfg *Config) Copy() *Config {
	res := &Config{}
	if cfg.Store != nil {
		res.Store = cfg.Store.Copy()
	}
	if cfg.Scheduler != nil {
		res.Scheduler = cfg.Scheduler.Copy()
	}
	if cfg.Logging != nil {
		res.Logging = cfg.Logging.Copy()
	}
	return res
}

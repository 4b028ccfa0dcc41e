package evaluator

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config tunes recalculation
type Config struct {
	// TodoSort orders the worklist by document, row and column at the start
	// of each pass instead of edit order
	TodoSort bool `yaml:"todo_sort"`
	// SliceSlots makes Recalc return after calculating this many slots.
	// zero means run to completion.
	SliceSlots int `yaml:"slice_slots"`
	// MaxTableEntries caps each dependency table. zero means unlimited.
	MaxTableEntries int `yaml:"max_table_entries"`
	// MaxArrayElements is the largest array or range an expression may
	// build; beyond it a slot calculates to out of memory and is deferred.
	MaxArrayElements int `yaml:"max_array_elements"`
	// MaxCustomSteps bounds the statements one custom function call runs
	MaxCustomSteps int `yaml:"max_custom_steps"`
	// MaxStackDepth bounds nested custom function calls
	MaxStackDepth int `yaml:"max_stack_depth"`
	// Debug checks table consistency after each pass and logs detail
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() Config {
	return Config{
		MaxArrayElements: 1 << 20,
		MaxCustomSteps:   100000,
		MaxStackDepth:    64,
	}
}

// withDefaults fills the limits left at zero
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxArrayElements <= 0 {
		c.MaxArrayElements = d.MaxArrayElements
	}
	if c.MaxCustomSteps <= 0 {
		c.MaxCustomSteps = d.MaxCustomSteps
	}
	if c.MaxStackDepth <= 0 {
		c.MaxStackDepth = d.MaxStackDepth
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.SliceSlots < 0:
		return NewApplicationError(InvalidArgument, "slice_slots must not be negative")
	case c.MaxTableEntries < 0:
		return NewApplicationError(InvalidArgument, "max_table_entries must not be negative")
	}
	return nil
}

// LoadConfig reads a YAML configuration. keys left out keep their default
// values.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

// LoadConfigFile reads a YAML configuration file
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

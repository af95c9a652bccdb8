package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Overrides are the 12-factor style knobs read from the environment. Zero
// values (and nil pointers) leave the pipeline untouched.
type Overrides struct {
	InputPath  string `env:"ETL_INPUT_PATH"`
	OutputPath string `env:"ETL_OUTPUT_PATH"`
	BatchSize  int    `env:"ETL_BATCH_SIZE"`
	MaxRows    int    `env:"ETL_MAX_ROWS"`
	Prefetch   *bool  `env:"ETL_PREFETCH"`
	Strict     *bool  `env:"ETL_STRICT"`
}

// ParseEnv reads Overrides from the process environment.
func ParseEnv() (Overrides, error) {
	var o Overrides
	if err := env.Parse(&o); err != nil {
		return Overrides{}, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

// ParseEnvFrom reads Overrides from the given variables instead of the
// process environment.
func ParseEnvFrom(vars map[string]string) (Overrides, error) {
	var o Overrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: vars}); err != nil {
		return Overrides{}, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

// Apply copies the set overrides onto p.
func (o Overrides) Apply(p *Pipeline) {
	if o.InputPath != "" {
		p.Source.File.Path = o.InputPath
	}
	if o.OutputPath != "" {
		p.Storage.CSV.Path = o.OutputPath
	}
	if o.BatchSize > 0 {
		p.Runtime.BatchSize = o.BatchSize
	}
	if o.MaxRows > 0 {
		p.Runtime.MaxRows = o.MaxRows
	}
	if o.Prefetch != nil {
		p.Runtime.Prefetch = *o.Prefetch
	}
	if o.Strict != nil {
		p.Runtime.Strict = *o.Strict
	}
}

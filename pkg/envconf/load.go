// Package envconf fills tagged config structs from the process environment.
//
// Fields use `env:"NAME"` and optionally `envDefault:"value"`. A field without a default is
// required. Nested structs are walked without needing a tag.
package envconf

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

var ErrNilDestination = errors.New("destination is nil")

// Load parses the environment into dst, which must be a non-nil pointer to a struct.
func Load(dst any) error {
	return LoadWith(dst, nil)
}

// LoadWith is Load with an explicit environment, used by tests and by callers that layer a
// .env file on top of the process environment. A nil map means the process environment.
func LoadWith(dst any, environ map[string]string) error {
	if dst == nil {
		return ErrNilDestination
	}

	opts := env.Options{
		RequiredIfNoDef: true,
	}
	if environ != nil {
		opts.Environment = environ
	}

	err := env.ParseWithOptions(dst, opts)
	if err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}

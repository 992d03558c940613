package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PUBFLOW_"

// Loader assembles the runtime configuration from defaults and environment
// variables, then validates the result.
type Loader struct {
	koanf     *koanf.Koanf
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		koanf:     koanf.New("."),
		validator: validator.New(),
	}
}

// Load merges defaults with PUBFLOW_-prefixed environment variables.
// Environment values win. Double underscores separate sections, e.g.
// PUBFLOW_DATABASE__CONN_STRING maps to database.conn_string.
func (l *Loader) Load(_ context.Context) (*Config, error) {
	if err := l.koanf.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load default configuration: %w", err)
	}
	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	})
	if err := l.koanf.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment configuration: %w", err)
	}
	var cfg Config
	if err := l.koanf.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := l.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Env holds process-level settings read before any config file.
type Env struct {
	Home   string `env:"ATLAS_HOME"`
	Config string `env:"ATLAS_CONFIG"`
}

// LoadEnv parses Env from the environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// ConfigFile returns the config file to load: the explicit path if set,
// else ATLAS_CONFIG, else config.yaml under home when home is known.
// The second result reports whether the file must exist.
func (e Env) ConfigFile(explicit, home string) (string, bool) {
	switch {
	case explicit != "":
		return explicit, true
	case e.Config != "":
		return e.Config, true
	case home != "":
		return filepath.Join(home, "config.yaml"), false
	}
	return "", false
}

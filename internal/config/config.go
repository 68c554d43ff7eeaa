// Package config loads Atlas configuration.
//
// Precedence, highest first: explicit overrides (command-line flags),
// ATLAS_* environment variables, the config file, Default().
package config

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/roach88/atlas/internal/confidence"
	"github.com/roach88/atlas/internal/conflict"
	"github.com/roach88/atlas/internal/salience"
	"github.com/roach88/atlas/internal/validate"
)

// EnvPrefix prefixes every environment override, e.g. ATLAS_LEDGER_DIR.
const EnvPrefix = "ATLAS"

// Config is the full configuration.
type Config struct {
	// Home is the base directory; relative paths below resolve against it.
	Home string `mapstructure:"home" yaml:"home"`

	Ledger     LedgerConfig       `mapstructure:"ledger" yaml:"ledger"`
	Validation ValidationConfig   `mapstructure:"validation" yaml:"validation"`
	Confidence confidence.Weights `mapstructure:"confidence" yaml:"confidence"`
	Conflict   conflict.Config    `mapstructure:"conflict" yaml:"conflict"`
	Salience   salience.Config    `mapstructure:"salience" yaml:"salience"`
	Snapshot   SnapshotConfig     `mapstructure:"snapshot" yaml:"snapshot"`
	Index      IndexConfig        `mapstructure:"index" yaml:"index"`
	Observer   ObserverConfig     `mapstructure:"observer" yaml:"observer"`
	Log        LogConfig          `mapstructure:"log" yaml:"log"`
}

type LedgerConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	FileName string `mapstructure:"file_name" yaml:"file_name"`
}

type ValidationConfig struct {
	Mode      string `mapstructure:"mode" yaml:"mode"`
	RejectLog string `mapstructure:"reject_log" yaml:"reject_log"`

	// Registry optionally replaces the built-in event schema registry.
	Registry string `mapstructure:"registry" yaml:"registry"`
}

type SnapshotConfig struct {
	Path string `mapstructure:"path" yaml:"path"`

	// Interval is the number of appended events between automatic
	// snapshots. Zero disables automatic snapshots.
	Interval uint64 `mapstructure:"interval" yaml:"interval"`
}

type IndexConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type ObserverConfig struct {
	Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency"`
	MaxFiles      int64         `mapstructure:"max_files" yaml:"max_files"`
	MaxBytes      int64         `mapstructure:"max_bytes" yaml:"max_bytes"`
	MaxFileSize   int64         `mapstructure:"max_file_size" yaml:"max_file_size"`
	MaxDuration   time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int           `mapstructure:"burst" yaml:"burst"`

	// Interpret proposes path tags, roles and containment for what the
	// filesystem observer sees.
	Interpret bool `mapstructure:"interpret" yaml:"interpret"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Home: ".atlas",
		Ledger: LedgerConfig{
			Dir:      "ledger",
			FileName: "events.jsonl",
		},
		Validation: ValidationConfig{
			Mode:      string(validate.ModeStrict),
			RejectLog: "rejected.jsonl",
		},
		Confidence: confidence.DefaultWeights(),
		Conflict:   conflict.DefaultConfig(),
		Salience:   salience.DefaultConfig(),
		Snapshot: SnapshotConfig{
			Path:     "snapshot/snapshot.json",
			Interval: 500,
		},
		Index: IndexConfig{Path: "index.db"},
		Observer: ObserverConfig{
			Concurrency:   4,
			MaxFiles:      10_000,
			MaxBytes:      1 << 30,
			MaxFileSize:   64 << 20,
			MaxDuration:   10 * time.Minute,
			RatePerSecond: 0,
			Burst:         1,
			Interpret:     true,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads the config file at path (optional) over the defaults, applies
// ATLAS_* environment variables, then overrides. Override keys use viper's
// dotted form, e.g. "validation.mode".
func Load(path string, overrides map[string]any) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return Config{}, fmt.Errorf("config: marshal defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	var errs []error
	if c.Home == "" {
		errs = append(errs, errors.New("home is required"))
	}
	if c.Ledger.Dir == "" || c.Ledger.FileName == "" {
		errs = append(errs, errors.New("ledger.dir and ledger.file_name are required"))
	}
	mode, err := validate.ParseMode(c.Validation.Mode)
	if err != nil {
		errs = append(errs, fmt.Errorf("validation.mode: %w", err))
	}
	if mode == validate.ModeLenient && c.Validation.RejectLog == "" {
		errs = append(errs, errors.New("validation.reject_log is required in lenient mode"))
	}
	if c.Snapshot.Path == "" {
		errs = append(errs, errors.New("snapshot.path is required"))
	}
	if c.Observer.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("observer.concurrency must be >= 1, got %d", c.Observer.Concurrency))
	}
	if c.Observer.RatePerSecond < 0 {
		errs = append(errs, errors.New("observer.rate_per_second must be >= 0"))
	}
	errs = append(errs, c.Confidence.Validate(), c.Conflict.Validate(), c.Salience.Validate())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Path resolves p against Home unless it is absolute.
func (c Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Home, p)
}

func (c Config) LedgerDir() string     { return c.Path(c.Ledger.Dir) }
func (c Config) RejectLogPath() string { return c.Path(c.Validation.RejectLog) }
func (c Config) SnapshotPath() string  { return c.Path(c.Snapshot.Path) }
func (c Config) IndexPath() string     { return c.Path(c.Index.Path) }

// RegistryPath is the schema override file, or "" for the built-in one.
func (c Config) RegistryPath() string { return c.Path(c.Validation.Registry) }

// YAML renders the config for display.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

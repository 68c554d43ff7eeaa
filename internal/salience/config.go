// Package salience scores artifacts for attention. It is a read path: it
// never writes to the ledger, never touches confidence and never reorders
// or removes artifacts.
package salience

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Component is one salience signal.
type Component string

const (
	Novelty          Component = "novelty"
	Impact           Component = "impact"
	Risk             Component = "risk"
	Uncertainty      Component = "uncertainty"
	Recurrence       Component = "recurrence"
	Redundancy       Component = "redundancy"
	StabilityPenalty Component = "stability_penalty"
)

// Components lists every component in report order.
var Components = []Component{Novelty, Impact, Risk, Uncertainty, Recurrence, Redundancy, StabilityPenalty}

// dampener reports whether c lowers the aggregate instead of feeding the
// weighted mean.
func (c Component) dampener() bool {
	return c == Redundancy || c == StabilityPenalty
}

// Thresholds map an aggregate to a tier.
type Thresholds struct {
	Logged    float64 `mapstructure:"logged" yaml:"logged" json:"logged"`
	Surfaced  float64 `mapstructure:"surfaced" yaml:"surfaced" json:"surfaced"`
	Interrupt float64 `mapstructure:"interrupt" yaml:"interrupt" json:"interrupt"`
}

// Config is the tunable part of scoring.
type Config struct {
	Weights       map[Component]float64 `mapstructure:"weights" yaml:"weights" json:"weights"`
	Thresholds    Thresholds            `mapstructure:"thresholds" yaml:"thresholds" json:"thresholds"`
	RiskTags      []string              `mapstructure:"risk_tags" yaml:"risk_tags" json:"risk_tags"`
	RiskPathHints []string              `mapstructure:"risk_path_hints" yaml:"risk_path_hints" json:"risk_path_hints"`
	CacheTTL      time.Duration         `mapstructure:"cache_ttl" yaml:"cache_ttl" json:"-"`
}

// MaxWeight bounds every component weight.
const MaxWeight = 1000

// DefaultConfig returns the default weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights: map[Component]float64{
			Novelty:          1,
			Impact:           1,
			Risk:             1,
			Uncertainty:      1,
			Recurrence:       1,
			Redundancy:       0.2,
			StabilityPenalty: 0.2,
		},
		Thresholds:    Thresholds{Logged: 0.5, Surfaced: 0.7, Interrupt: 0.85},
		RiskTags:      []string{"secret", "credential", "private_key", "security"},
		RiskPathHints: []string{".env", "id_rsa", ".pem", "secret", "password", "token"},
		CacheTTL:      5 * time.Minute,
	}
}

// Validate checks weights and threshold ordering.
func (c Config) Validate() error {
	var errs []error
	for comp, w := range c.Weights {
		if !known(comp) {
			errs = append(errs, fmt.Errorf("salience.weights: unknown component %q", comp))
		}
		if !(w >= 0 && w <= MaxWeight) {
			errs = append(errs, fmt.Errorf("salience.weights.%s must be in [0, %d], got %v", comp, MaxWeight, w))
		}
	}
	t := c.Thresholds
	if t.Logged < 0 || t.Interrupt > 1 || t.Logged > t.Surfaced || t.Surfaced > t.Interrupt {
		errs = append(errs, fmt.Errorf("salience.thresholds must satisfy 0 <= logged <= surfaced <= interrupt <= 1, got %v/%v/%v",
			t.Logged, t.Surfaced, t.Interrupt))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("salience.cache_ttl must be >= 0"))
	}
	return errors.Join(errs...)
}

// Digest identifies the scoring-relevant part of the config.
func (c Config) Digest() string {
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func known(c Component) bool {
	for _, k := range Components {
		if k == c {
			return true
		}
	}
	return false
}

// Package confidence derives per-artifact confidence from accumulated
// evidence.
//
// The engine never writes state. It proposes CONFIDENCE_UPDATED and
// FRESHNESS_DECAY_APPLIED events, and the projected score changes only when
// those events are folded.
package confidence

import (
	"errors"
	"fmt"
	"time"
)

// Weights are the explicit signal weights. Every weight is a plain number
// in score units, e.g. CorroborationWeight 0.1 adds 0.1 per corroborating
// observation.
type Weights struct {
	Base                  float64       `mapstructure:"base" yaml:"base"`
	RecencyWeight         float64       `mapstructure:"recency_weight" yaml:"recency_weight"`
	CompletenessWeight    float64       `mapstructure:"completeness_weight" yaml:"completeness_weight"`
	CorroborationWeight   float64       `mapstructure:"corroboration_weight" yaml:"corroboration_weight"`
	ConflictPenaltyWeight float64       `mapstructure:"conflict_penalty_weight" yaml:"conflict_penalty_weight"`
	DecayRate             float64       `mapstructure:"decay_rate" yaml:"decay_rate"`
	RecencyHalfLife       time.Duration `mapstructure:"recency_half_life" yaml:"recency_half_life"`
}

// DefaultWeights returns the weights used when none are configured.
func DefaultWeights() Weights {
	return Weights{
		Base:                  0.5,
		RecencyWeight:         0.1,
		CompletenessWeight:    0.1,
		CorroborationWeight:   0.1,
		ConflictPenaltyWeight: 0.3,
		DecayRate:             0.01,
		RecencyHalfLife:       24 * time.Hour,
	}
}

// Validate rejects negative weights and rates.
func (w Weights) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"base":                    w.Base,
		"recency_weight":          w.RecencyWeight,
		"completeness_weight":     w.CompletenessWeight,
		"corroboration_weight":    w.CorroborationWeight,
		"conflict_penalty_weight": w.ConflictPenaltyWeight,
		"decay_rate":              w.DecayRate,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("confidence.%s must be >= 0, got %v", name, v))
		}
	}
	if w.RecencyWeight > 0 && w.RecencyHalfLife <= 0 {
		errs = append(errs, errors.New("confidence.recency_half_life must be positive when recency_weight is set"))
	}
	return errors.Join(errs...)
}

package confidence

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projection"
)

// Module is the actor name recorded on proposed events.
const Module = "confidence"

// triggers are the kinds that carry evidence confidence depends on.
var triggers = map[ir.Kind]bool{
	ir.KindArtifactSeen:          true,
	ir.KindFingerprintComputed:   true,
	ir.KindExtractionPerformed:   true,
	ir.KindAccessLimitationNoted: true,
	ir.KindConflictDetected:      true,
	ir.KindConflictResolved:      true,
}

// Triggers reports whether events of kind should cause a reassessment.
func Triggers(kind ir.Kind) bool {
	return triggers[kind]
}

// Engine proposes confidence events from projected state.
type Engine struct {
	weights Weights
	logger  *zap.Logger
}

// New returns an engine using w.
func New(w Weights, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{weights: w, logger: logger}
}

// Weights returns the configured weights.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Assess computes the current assessment for one artifact in s.
func (e *Engine) Assess(s *projection.State, artifactID string, now time.Time) (Assessment, bool) {
	a := s.Artifact(artifactID)
	if a == nil {
		return Assessment{}, false
	}
	return Assess(e.weights, a, s.OpenConflicts(artifactID), now), true
}

// React reassesses the given artifacts and proposes a CONFIDENCE_UPDATED
// event for each one whose score or evidence differs from the projected
// confidence. Superseded and archived artifacts are left alone.
func (e *Engine) React(s *projection.State, artifactIDs []string, now time.Time) []ir.Proposal {
	ids := slices.Clone(artifactIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var out []ir.Proposal
	for _, id := range ids {
		a := s.Artifact(id)
		if a == nil || a.Lifecycle.Terminal() {
			continue
		}
		as := Assess(e.weights, a, s.OpenConflicts(id), now)
		if a.Confidence.Set && a.Confidence.Score == as.Score && slices.Equal(a.Confidence.Evidence, as.Evidence()) {
			continue
		}

		payload := ir.IRObject{
			"artifact_id": ir.IRString(id),
			"new_score":   ir.IRInt(as.Score),
			"reasoning":   projection.EncodeReasoning(as.Contributions),
		}
		if a.Confidence.Set {
			payload["previous_score"] = ir.IRInt(a.Confidence.Score)
		}
		if len(a.Confidence.AmbiguityFlags) > 0 {
			payload["ambiguity_flags"] = ir.Strs(a.Confidence.AmbiguityFlags...)
		}
		out = append(out, ir.Proposal{Kind: ir.KindConfidenceUpdated, Payload: payload, Module: Module})

		e.logger.Debug("confidence changed",
			zap.String("artifact_id", id),
			zap.Stringer("previous", a.Confidence.Score),
			zap.Stringer("score", as.Score),
		)
	}
	return out
}

// Decay proposes FRESHNESS_DECAY_APPLIED for every scored artifact whose
// freshness is above exp(−decay_rate × hours since last seen). The factor
// is relative to the current freshness, so repeated sweeps do not compound.
func (e *Engine) Decay(s *projection.State, now time.Time) []ir.Proposal {
	if e.weights.DecayRate <= 0 {
		return nil
	}

	var out []ir.Proposal
	for _, id := range s.ArtifactIDs() {
		a := s.Artifact(id)
		if !a.Confidence.Set || a.Lifecycle.Terminal() || a.Temporal.Freshness <= 0 {
			continue
		}
		elapsed := now.Sub(a.LastSeen)
		target := DecayFactor(e.weights.DecayRate, elapsed)
		factor := ir.ScoreFromFloat(target / a.Temporal.Freshness.Float()).Clamp()
		if factor >= ir.ScoreOne {
			continue
		}
		out = append(out, ir.Proposal{
			Kind: ir.KindFreshnessDecayApplied,
			Payload: ir.IRObject{
				"artifact_id":     ir.IRString(id),
				"decay_factor":    ir.IRInt(factor),
				"elapsed_seconds": ir.IRInt(int64(elapsed / time.Second)),
			},
			Module: Module,
		})
	}
	return out
}

package confidence

import (
	"math"
	"slices"
	"time"

	"github.com/roach88/atlas/internal/ir"
)

// Signal names used in reasoning entries.
const (
	SignalBase          = "base"
	SignalRecency       = "recency"
	SignalCompleteness  = "completeness"
	SignalCorroboration = "corroboration"
	SignalConflict      = "conflict_penalty"
	SignalClamp         = "clamp"
	SignalFreshness     = "freshness"
)

// Assessment is a computed confidence with its full evidence trail.
type Assessment struct {
	ArtifactID    string
	Score         ir.Score
	Contributions []ir.Contribution
}

// Evidence returns the distinct event ids behind the contributions, in
// contribution order.
func (a Assessment) Evidence() []string {
	var out []string
	for _, c := range a.Contributions {
		if c.EventID != "" && !slices.Contains(out, c.EventID) {
			out = append(out, c.EventID)
		}
	}
	return out
}

// Assess computes confidence for a at time now:
//
//	score = clamp(base + recency + completeness + corroboration×n − penalty×open) × freshness
//
// Each term is rounded to a score before summing, so the result does not
// depend on floating point summation order.
func Assess(w Weights, a *ir.Artifact, open []ir.ConflictRecord, now time.Time) Assessment {
	out := Assessment{ArtifactID: a.ID}
	add := func(eventID, signal string, delta ir.Score) {
		if delta == 0 && signal != SignalBase {
			return
		}
		out.Contributions = append(out.Contributions, ir.Contribution{EventID: eventID, Signal: signal, Delta: delta})
	}

	add(firstEvent(a), SignalBase, ir.ScoreFromFloat(w.Base))

	if w.RecencyWeight > 0 && w.RecencyHalfLife > 0 && len(a.Observations) > 0 {
		last := a.Observations[len(a.Observations)-1]
		age := max(now.Sub(last.Timestamp), 0)
		r := math.Exp2(-age.Hours() / w.RecencyHalfLife.Hours())
		add(last.EventID, SignalRecency, ir.ScoreFromFloat(w.RecencyWeight*r))
	}

	if w.CompletenessWeight > 0 && a.Extraction.Performed {
		c := 1.0
		if len(a.Extraction.Errors) > 0 {
			c = 0.5
		}
		add(a.Extraction.EventID, SignalCompleteness, ir.ScoreFromFloat(w.CompletenessWeight*c))
	}

	if w.CorroborationWeight > 0 {
		per := ir.ScoreFromFloat(w.CorroborationWeight)
		for _, ev := range corroborating(a) {
			add(ev, SignalCorroboration, per)
		}
	}

	if w.ConflictPenaltyWeight > 0 {
		per := ir.ScoreFromFloat(w.ConflictPenaltyWeight)
		for _, c := range open {
			add(c.ID, SignalConflict, -per)
		}
	}

	var raw ir.Score
	for _, c := range out.Contributions {
		raw += c.Delta
	}
	score := raw.Clamp()
	add("", SignalClamp, score-raw)

	if f := a.Temporal.Freshness; f < ir.ScoreOne {
		decayed := score.Mul(f)
		add("", SignalFreshness, decayed-score)
		score = decayed
	}

	out.Score = score
	return out
}

// corroborating returns fingerprint observations that agree with the
// current content hash.
func corroborating(a *ir.Artifact) []string {
	hash := a.Fingerprint.ContentHash
	if hash == "" {
		return nil
	}
	var out []string
	for _, o := range a.Observations {
		if o.Kind == ir.KindFingerprintComputed && o.ContentHash == hash {
			out = append(out, o.EventID)
		}
	}
	return out
}

func firstEvent(a *ir.Artifact) string {
	if len(a.Events) > 0 {
		return a.Events[0]
	}
	return ""
}

// DecayFactor is exp(−rate × hours) for the given elapsed time.
func DecayFactor(rate float64, elapsed time.Duration) float64 {
	if rate <= 0 || elapsed <= 0 {
		return 1
	}
	return math.Exp(-rate * elapsed.Hours())
}

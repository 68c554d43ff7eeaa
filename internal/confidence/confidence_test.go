package confidence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projection"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type history struct {
	t      *testing.T
	events []ir.Event
}

func (h *history) add(kind ir.Kind, payload ir.IRObject) ir.Event {
	h.t.Helper()
	seq := uint64(len(h.events) + 1)
	ev, err := ir.Event{
		EventID:   fmt.Sprintf("e%d", seq),
		Timestamp: t0.Add(time.Duration(seq) * time.Minute),
		Kind:      kind,
		Payload:   payload,
	}.Seal(seq)
	require.NoError(h.t, err)
	h.events = append(h.events, ev)
	return ev
}

func (h *history) apply(p ir.Proposal) ir.Event {
	return h.add(p.Kind, p.Payload)
}

func (h *history) state() *projection.State {
	h.t.Helper()
	s, err := projection.Fold(nil, h.events)
	require.NoError(h.t, err)
	return s
}

// corroborated builds an artifact with two agreeing fingerprints and one
// open conflict.
func corroborated(t *testing.T) *history {
	h := &history{t: t}
	h.add(ir.KindArtifactSeen, ir.IRObject{"artifact_id": ir.IRString("a1"), "locator": ir.IRString("/a")})
	h.add(ir.KindArtifactSeen, ir.IRObject{"artifact_id": ir.IRString("a2"), "locator": ir.IRString("/b")})
	h.add(ir.KindFingerprintComputed, ir.IRObject{"artifact_id": ir.IRString("a1"), "content_hash": ir.IRString("H")})
	h.add(ir.KindFingerprintComputed, ir.IRObject{"artifact_id": ir.IRString("a1"), "content_hash": ir.IRString("H")})
	h.add(ir.KindConflictDetected, ir.IRObject{
		"artifact_ids":  ir.Strs("a1", "a2"),
		"conflict_type": ir.IRString("relation_exclusive"),
		"event_refs":    ir.Strs("e1", "e2"),
	})
	return h
}

func TestAssess_WeightedSum(t *testing.T) {
	s := corroborated(t).state()
	w := Weights{Base: 0.5, CorroborationWeight: 0.1, ConflictPenaltyWeight: 0.3}

	as := Assess(w, s.Artifact("a1"), s.OpenConflicts("a1"), t0.Add(time.Hour))

	assert.Equal(t, ir.Score(400_000), as.Score)
	assert.Equal(t, []ir.Contribution{
		{EventID: "e1", Signal: SignalBase, Delta: 500_000},
		{EventID: "e3", Signal: SignalCorroboration, Delta: 100_000},
		{EventID: "e4", Signal: SignalCorroboration, Delta: 100_000},
		{EventID: "e5", Signal: SignalConflict, Delta: -300_000},
	}, as.Contributions)
	assert.Equal(t, []string{"e1", "e3", "e4", "e5"}, as.Evidence())
}

func TestAssess_ClampIsExplained(t *testing.T) {
	s := corroborated(t).state()
	w := Weights{Base: 0.1, ConflictPenaltyWeight: 0.9}

	as := Assess(w, s.Artifact("a1"), s.OpenConflicts("a1"), t0)

	assert.Equal(t, ir.ScoreZero, as.Score)
	last := as.Contributions[len(as.Contributions)-1]
	assert.Equal(t, SignalClamp, last.Signal)
	assert.Equal(t, ir.Score(800_000), last.Delta)

	var sum ir.Score
	for _, c := range as.Contributions {
		sum += c.Delta
	}
	assert.Equal(t, as.Score, sum, "contributions add up to the score")
}

func TestAssess_RecencyHalvesPerHalfLife(t *testing.T) {
	h := &history{t: t}
	seen := h.add(ir.KindArtifactSeen, ir.IRObject{"artifact_id": ir.IRString("a1"), "locator": ir.IRString("/a")})
	s := h.state()
	w := Weights{RecencyWeight: 0.4, RecencyHalfLife: 2 * time.Hour}

	fresh := Assess(w, s.Artifact("a1"), nil, seen.Timestamp)
	old := Assess(w, s.Artifact("a1"), nil, seen.Timestamp.Add(2*time.Hour))

	assert.Equal(t, ir.Score(400_000), fresh.Score)
	assert.Equal(t, ir.Score(200_000), old.Score)
	assert.Equal(t, seen.EventID, old.Contributions[1].EventID)
}

func TestAssess_Completeness(t *testing.T) {
	h := &history{t: t}
	h.add(ir.KindArtifactSeen, ir.IRObject{"artifact_id": ir.IRString("a1"), "locator": ir.IRString("/a")})
	h.add(ir.KindExtractionPerformed, ir.IRObject{"artifact_id": ir.IRString("a1"), "extraction_errors": ir.Strs("bad utf-8")})
	w := Weights{CompletenessWeight: 0.2}

	as := Assess(w, h.state().Artifact("a1"), nil, t0)
	assert.Equal(t, ir.Score(100_000), as.Score)
	assert.Equal(t, "e2", as.Contributions[1].EventID)
}

func TestEngine_ReactProposesAndConverges(t *testing.T) {
	h := corroborated(t)
	e := New(Weights{Base: 0.5, CorroborationWeight: 0.1, ConflictPenaltyWeight: 0.3}, zaptest.NewLogger(t))
	now := h.events[len(h.events)-1].Timestamp

	props := e.React(h.state(), []string{"a2", "a1", "a1"}, now)
	require.Len(t, props, 2)
	assert.Equal(t, ir.KindConfidenceUpdated, props[0].Kind)
	assert.Equal(t, Module, props[0].Module)
	id, _ := props[0].Payload.String("artifact_id")
	assert.Equal(t, "a1", id)
	_, hasPrev := props[0].Payload["previous_score"]
	assert.False(t, hasPrev)
	flags, _ := props[0].Payload.Strings("ambiguity_flags")
	assert.Equal(t, []string{ir.AmbiguityConflictingEvidence}, flags)

	for _, p := range props {
		h.apply(p)
	}
	s := h.state()
	assert.Equal(t, ir.Score(400_000), s.Artifact("a1").Confidence.Score)
	assert.Equal(t, ir.Score(200_000), s.Artifact("a2").Confidence.Score)

	assert.Empty(t, e.React(s, []string{"a1", "a2"}, now), "nothing changed")
}

func TestEngine_ReactAfterResolution(t *testing.T) {
	h := corroborated(t)
	e := New(Weights{Base: 0.5, CorroborationWeight: 0.1, ConflictPenaltyWeight: 0.3}, nil)
	now := t0.Add(time.Hour)
	for _, p := range e.React(h.state(), []string{"a1"}, now) {
		h.apply(p)
	}
	h.add(ir.KindConflictResolved, ir.IRObject{"conflict_id": ir.IRString("e5"), "resolution": ir.IRString("both valid")})

	props := e.React(h.state(), []string{"a1"}, now)
	require.Len(t, props, 1)
	score, _ := props[0].Payload.Score("new_score")
	prev, _ := props[0].Payload.Score("previous_score")
	assert.Equal(t, ir.Score(700_000), score)
	assert.Equal(t, ir.Score(400_000), prev)
}

func TestEngine_ReactSkipsTerminal(t *testing.T) {
	h := corroborated(t)
	h.add(ir.KindArchived, ir.IRObject{"artifact_id": ir.IRString("a1")})
	e := New(DefaultWeights(), nil)

	assert.Empty(t, e.React(h.state(), []string{"a1", "missing"}, t0))
}

func TestEngine_DecayDoesNotCompound(t *testing.T) {
	h := corroborated(t)
	e := New(Weights{Base: 0.5, DecayRate: 0.1}, nil)
	seenAt := h.state().Artifact("a1").LastSeen
	for _, p := range e.React(h.state(), []string{"a1"}, seenAt) {
		h.apply(p)
	}

	now := seenAt.Add(10 * time.Hour)
	props := e.Decay(h.state(), now)
	require.Len(t, props, 1, "a2 has no confidence yet")
	factor, _ := props[0].Payload.Score("decay_factor")
	assert.Equal(t, ir.ScoreFromFloat(DecayFactor(0.1, 10*time.Hour)), factor)
	elapsed, _ := props[0].Payload.Int("elapsed_seconds")
	assert.Equal(t, int64(36000), elapsed)

	h.apply(props[0])
	s := h.state()
	assert.Equal(t, ir.Score(500_000).Mul(factor), s.Artifact("a1").Confidence.Score)

	assert.Empty(t, e.Decay(s, now), "second sweep at the same time is a no-op")
	assert.Empty(t, e.React(s, []string{"a1"}, now), "assessment already reflects the decay")

	later := e.Decay(s, now.Add(10*time.Hour))
	require.Len(t, later, 1)
	f2, _ := later[0].Payload.Score("decay_factor")
	assert.InDelta(t, factor.Float(), f2.Float(), 0.00001)
}

func TestEngine_DecayDisabled(t *testing.T) {
	h := corroborated(t)
	e := New(Weights{Base: 0.5}, nil)
	for _, p := range e.React(h.state(), []string{"a1"}, t0) {
		h.apply(p)
	}
	assert.Empty(t, e.Decay(h.state(), t0.Add(1000*time.Hour)))
}

func TestDecayFactor(t *testing.T) {
	assert.Equal(t, 1.0, DecayFactor(0, time.Hour))
	assert.Equal(t, 1.0, DecayFactor(0.5, -time.Hour))
	assert.InDelta(t, 0.367879, DecayFactor(1, time.Hour), 1e-6)
}

func TestWeights_Validate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())

	w := DefaultWeights()
	w.ConflictPenaltyWeight = -1
	w.RecencyHalfLife = 0
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict_penalty_weight")
	assert.Contains(t, err.Error(), "recency_half_life")
}

func TestTriggers(t *testing.T) {
	assert.True(t, Triggers(ir.KindFingerprintComputed))
	assert.False(t, Triggers(ir.KindConfidenceUpdated))
	assert.False(t, Triggers(ir.KindFreshnessDecayApplied))
}

package salience

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projection"
)

var t0 = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func fold(t *testing.T, payloads ...ir.Event) *projection.State {
	t.Helper()
	s, err := projection.Fold(nil, payloads)
	require.NoError(t, err)
	return s
}

type history struct {
	t      *testing.T
	events []ir.Event
}

func (h *history) add(kind ir.Kind, payload ir.IRObject) {
	h.t.Helper()
	seq := uint64(len(h.events) + 1)
	ev, err := ir.Event{
		EventID:   fmt.Sprintf("e%d", seq),
		Timestamp: t0.Add(time.Duration(seq) * time.Second),
		Kind:      kind,
		Payload:   payload,
	}.Seal(seq)
	require.NoError(h.t, err)
	h.events = append(h.events, ev)
}

// riskyPair: a1 is an .env file tagged secret, a2 duplicates its content
// and depends on it.
func riskyPair(t *testing.T) *history {
	h := &history{t: t}
	h.add(ir.KindArtifactSeen, ir.IRObject{"artifact_id": ir.IRString("a1"), "locator": ir.IRString("/app/.env")})
	h.add(ir.KindFingerprintComputed, ir.IRObject{"artifact_id": ir.IRString("a1"), "content_hash": ir.IRString("H")})
	h.add(ir.KindArtifactSeen, ir.IRObject{"artifact_id": ir.IRString("a2"), "locator": ir.IRString("/app/copy")})
	h.add(ir.KindFingerprintComputed, ir.IRObject{"artifact_id": ir.IRString("a2"), "content_hash": ir.IRString("H")})
	h.add(ir.KindTagsProposed, ir.IRObject{"artifact_id": ir.IRString("a1"), "tag_group": ir.IRString("semantic"), "tags": ir.Strs("secret")})
	h.add(ir.KindRelationProposed, ir.IRObject{"source_id": ir.IRString("a2"), "target_id": ir.IRString("a1"), "relation_type": ir.IRString("depends_on")})
	return h
}

func TestAggregate_EqualWeightsMean(t *testing.T) {
	agg := Aggregate(
		map[Component]ir.Score{Novelty: 800_000, Impact: 600_000, Risk: 100_000},
		map[Component]float64{Novelty: 1, Impact: 1, Risk: 1},
	)
	assert.Equal(t, ir.Score(500_000), agg)
	assert.Equal(t, Logged, TierOf(agg, DefaultConfig().Thresholds))
}

func TestAggregate_DampenersSubtract(t *testing.T) {
	agg := Aggregate(
		map[Component]ir.Score{Novelty: 600_000, Redundancy: ir.ScoreOne, StabilityPenalty: 500_000},
		map[Component]float64{Novelty: 2, Redundancy: 0.2, StabilityPenalty: 0.4},
	)
	assert.Equal(t, ir.Score(200_000), agg)

	assert.Equal(t, ir.ScoreZero, Aggregate(
		map[Component]ir.Score{Novelty: 100_000, Redundancy: ir.ScoreOne},
		map[Component]float64{Novelty: 1, Redundancy: 1},
	), "clamped at zero")
	assert.Equal(t, ir.ScoreZero, Aggregate(map[Component]ir.Score{Novelty: ir.ScoreOne}, nil), "no weights")
}

func TestAggregate_OversizedWeightsAreClamped(t *testing.T) {
	values := map[Component]ir.Score{Novelty: 800_000, Impact: 600_000, Redundancy: 100_000}

	agg := Aggregate(values, map[Component]float64{Novelty: 1e13, Impact: 1e13})
	assert.Equal(t, ir.Score(700_000), agg, "both weights clamp to the same maximum")

	agg = Aggregate(values, map[Component]float64{Novelty: math.Inf(1), Impact: math.NaN()})
	assert.Equal(t, ir.Score(800_000), agg, "NaN counts as zero")

	agg = Aggregate(values, map[Component]float64{Novelty: 1, Redundancy: 1e300})
	assert.Equal(t, ir.ScoreZero, agg)
}

func TestTierOf_Boundaries(t *testing.T) {
	th := DefaultConfig().Thresholds
	tests := []struct {
		agg  ir.Score
		want Tier
	}{
		{0, Silent},
		{499_999, Silent},
		{500_000, Logged},
		{699_999, Logged},
		{700_000, Surfaced},
		{850_000, Surfaced},
		{850_001, Interrupt},
		{ir.ScoreOne, Interrupt},
	}
	for _, tt := range tests {
		t.Run(tt.agg.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, TierOf(tt.agg, th))
		})
	}
}

func TestCompute_Components(t *testing.T) {
	s := fold(t, riskyPair(t).events...)

	score, err := Compute(s, nil, "a1", DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, ir.ScoreOne, score.Component(Novelty))
	assert.Equal(t, ir.ScoreOne, score.Component(Impact))
	assert.Equal(t, ir.ScoreOne, score.Component(Risk))
	assert.Equal(t, ir.Score(333_333), score.Component(Uncertainty))
	assert.Equal(t, ir.Score(250_000), score.Component(Recurrence))
	assert.Equal(t, ir.Score(500_000), score.Component(Redundancy))
	assert.Equal(t, ir.ScoreZero, score.Component(StabilityPenalty))
	assert.Equal(t, ir.Score(616_667), score.Aggregate)
	assert.Equal(t, Logged, score.Tier)
	assert.Equal(t, []string{"e1", "e2", "e5", "e6"}, score.Triggers)
	assert.Len(t, score.Components, len(Components), "full breakdown")
}

func TestCompute_AgainstUnchangedPrior(t *testing.T) {
	s := fold(t, riskyPair(t).events...)

	score, err := Compute(s, s, "a1", DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, ir.ScoreZero, score.Component(Novelty))
	assert.Equal(t, ir.ScoreZero, score.Component(Recurrence))
	assert.Equal(t, ir.ScoreOne, score.Component(StabilityPenalty))
	assert.Empty(t, score.Triggers)
	assert.Equal(t, ir.Score(166_667), score.Aggregate)
	assert.Equal(t, Silent, score.Tier)
	assert.Equal(t, s.Position, score.PriorPosition)
}

func TestCompute_DeltaTriggers(t *testing.T) {
	h := riskyPair(t)
	prior := fold(t, h.events...)
	h.add(ir.KindFingerprintComputed, ir.IRObject{"artifact_id": ir.IRString("a1"), "content_hash": ir.IRString("H2")})
	current := fold(t, h.events...)

	score, err := Compute(current, prior, "a1", DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"e7"}, score.Triggers)
	assert.Equal(t, ir.Score(333_333), score.Component(Novelty))
	assert.Equal(t, ir.Score(250_000), score.Component(Recurrence), "one content change")
	assert.Equal(t, ir.ScoreZero, score.Component(Redundancy), "hash no longer shared")
}

func TestCompute_UnknownArtifact(t *testing.T) {
	_, err := Compute(projection.New(), nil, "nope", DefaultConfig())
	assert.Error(t, err)
}

func TestCompute_IsReadOnly(t *testing.T) {
	s := fold(t, riskyPair(t).events...)
	before, err := s.Digest()
	require.NoError(t, err)

	_, err = ComputeAll(context.Background(), s, nil, DefaultConfig())
	require.NoError(t, err)

	after, err := s.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestComputeAll_OrderAndCancel(t *testing.T) {
	s := fold(t, riskyPair(t).events...)

	scores, err := ComputeAll(context.Background(), s, nil, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.GreaterOrEqual(t, scores[0].Aggregate, scores[1].Aggregate)
	assert.Equal(t, "a1", scores[0].ArtifactID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	scores, err = ComputeAll(ctx, s, nil, DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, scores)
}

func TestExplain(t *testing.T) {
	s := fold(t, riskyPair(t).events...)
	score, err := Compute(s, nil, "a1", DefaultConfig())
	require.NoError(t, err)

	lines := score.Explain()
	require.Len(t, lines, 1+len(Components)+1)
	assert.Equal(t, "a1: logged (aggregate 0.616667)", lines[0])
	assert.Contains(t, lines[3], "path:.env")
	assert.Contains(t, lines[3], "tag:secret")
	assert.Contains(t, lines[len(lines)-1], "e1, e2, e5, e6")
}

func TestCache_MemoizesByPosition(t *testing.T) {
	h := riskyPair(t)
	s := fold(t, h.events...)
	c := NewCache(DefaultConfig())

	first, err := c.Score(s, nil, "a1")
	require.NoError(t, err)
	second, err := c.Score(s, nil, "a1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.Len())

	h.add(ir.KindArtifactSeen, ir.IRObject{"artifact_id": ir.IRString("a3"), "locator": ir.IRString("/x")})
	next := fold(t, h.events...)
	_, err = c.Score(next, s, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	all, err := c.ScoreAll(context.Background(), next, s)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	c.Purge()
	assert.Equal(t, 4, c.Len())
}

func TestConfig_Digest(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	assert.Equal(t, a.Digest(), b.Digest())

	b.Weights[Risk] = 3
	assert.NotEqual(t, a.Digest(), b.Digest())

	b = DefaultConfig()
	b.CacheTTL = time.Hour
	assert.Equal(t, a.Digest(), b.Digest(), "ttl does not affect scores")
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Thresholds.Surfaced = 0.9
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Weights["bogus"] = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Weights[Impact] = -0.1
	assert.Error(t, cfg.Validate())

	for _, w := range []float64{MaxWeight + 1, math.Inf(1), math.NaN()} {
		cfg = DefaultConfig()
		cfg.Weights[Risk] = w
		assert.ErrorContains(t, cfg.Validate(), "salience.weights.risk", w)
	}
}

func TestTier_String(t *testing.T) {
	assert.Equal(t, "interrupt", Interrupt.String())
	text, err := Surfaced.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "surfaced", string(text))
}

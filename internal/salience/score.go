package salience

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projection"
)

// Tier is the attention level of an aggregate.
type Tier int

const (
	Silent Tier = iota
	Logged
	Surfaced
	Interrupt
)

func (t Tier) String() string {
	switch t {
	case Silent:
		return "silent"
	case Logged:
		return "logged"
	case Surfaced:
		return "surfaced"
	case Interrupt:
		return "interrupt"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// MarshalText renders the tier name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// recurrenceScale is the number of repeat observations plus changes at
// which recurrence saturates.
const recurrenceScale = 4

// ComponentScore is one component's value with the reason behind it.
type ComponentScore struct {
	Component Component `json:"component"`
	Value     ir.Score  `json:"value"`
	Weight    ir.Score  `json:"weight"`
	Reason    string    `json:"reason"`
}

// Score is an explained salience result. It is never persisted as truth.
type Score struct {
	ArtifactID    string           `json:"artifact_id"`
	Position      uint64           `json:"position"`
	PriorPosition uint64           `json:"prior_position"`
	Components    []ComponentScore `json:"components"`
	Aggregate     ir.Score         `json:"aggregate"`
	Tier          Tier             `json:"tier"`

	// Triggers are the artifact's events since the prior state.
	Triggers []string `json:"triggers"`
}

// Component returns the value of c.
func (s Score) Component(c Component) ir.Score {
	for _, cs := range s.Components {
		if cs.Component == c {
			return cs.Value
		}
	}
	return 0
}

// Explain renders the score one line per component.
func (s Score) Explain() []string {
	lines := []string{fmt.Sprintf("%s: %s (aggregate %s)", s.ArtifactID, s.Tier, s.Aggregate)}
	for _, cs := range s.Components {
		sign := "+"
		if cs.Component.dampener() {
			sign = "-"
		}
		lines = append(lines, fmt.Sprintf("  %s %-17s %s x %s  %s", sign, cs.Component, cs.Value, cs.Weight, cs.Reason))
	}
	if len(s.Triggers) > 0 {
		lines = append(lines, "  triggers: "+strings.Join(s.Triggers, ", "))
	}
	return lines
}

// Compute scores one artifact in current against prior, which may be nil.
func Compute(current, prior *projection.State, artifactID string, cfg Config) (Score, error) {
	a := current.Artifact(artifactID)
	if a == nil {
		return Score{}, fmt.Errorf("salience: unknown artifact %q", artifactID)
	}
	var before *ir.Artifact
	out := Score{ArtifactID: artifactID, Position: current.Position}
	if prior != nil {
		before = prior.Artifact(artifactID)
		out.PriorPosition = prior.Position
	}

	values := map[Component]ComponentScore{
		Novelty:          novelty(a, before),
		Impact:           impact(current, a),
		Risk:             risk(a, cfg),
		Uncertainty:      uncertainty(current, a),
		Recurrence:       recurrence(a, before),
		Redundancy:       redundancy(current, a),
		StabilityPenalty: stability(a, before),
	}
	weights := map[Component]ir.Score{}
	for _, c := range Components {
		cs := values[c]
		cs.Component = c
		cs.Weight = weightScore(cfg.Weights[c])
		weights[c] = cs.Weight
		out.Components = append(out.Components, cs)
	}

	out.Aggregate = aggregate(values, weights)
	out.Tier = TierOf(out.Aggregate, cfg.Thresholds)
	out.Triggers = triggers(a, before)
	return out, nil
}

// Aggregate combines component values: the weighted mean of the attention
// components minus the weighted dampeners, clamped to [0, 1].
func Aggregate(values map[Component]ir.Score, weights map[Component]float64) ir.Score {
	cs := make(map[Component]ComponentScore, len(values))
	ws := make(map[Component]ir.Score, len(weights))
	for c, v := range values {
		cs[c] = ComponentScore{Value: v}
	}
	for c, w := range weights {
		ws[c] = weightScore(w)
	}
	return aggregate(cs, ws)
}

const maxWeightScore = ir.Score(MaxWeight * ir.ScoreScale)

// weightScore converts a configured weight, clamped to [0, MaxWeight] so
// the integer sums in aggregate cannot overflow. NaN counts as zero.
func weightScore(w float64) ir.Score {
	if !(w > 0) {
		return 0
	}
	return ir.ScoreFromFloat(min(w, MaxWeight))
}

func aggregate(values map[Component]ComponentScore, weights map[Component]ir.Score) ir.Score {
	var num, den int64
	var damp ir.Score
	for _, c := range Components {
		w := min(max(weights[c], 0), maxWeightScore)
		v := values[c].Value
		if c.dampener() {
			damp += w.Mul(v)
			continue
		}
		num += int64(w) * int64(v)
		den += int64(w)
	}
	var mean ir.Score
	if den > 0 {
		mean = ir.Score((num + den/2) / den)
	}
	return (mean - damp).Clamp()
}

// TierOf maps an aggregate to a tier. Logged and surfaced are inclusive
// lower bounds; interrupt requires exceeding its threshold.
func TierOf(aggregate ir.Score, t Thresholds) Tier {
	switch {
	case aggregate > ir.ScoreFromFloat(t.Interrupt):
		return Interrupt
	case aggregate >= ir.ScoreFromFloat(t.Surfaced):
		return Surfaced
	case aggregate >= ir.ScoreFromFloat(t.Logged):
		return Logged
	}
	return Silent
}

// ComputeAll scores every artifact, highest aggregate first, ties by id.
// It checks ctx between artifacts; a cancelled run returns no scores.
func ComputeAll(ctx context.Context, current, prior *projection.State, cfg Config) ([]Score, error) {
	ids := current.ArtifactIDs()
	out := make([]Score, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := Compute(current, prior, id, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortScores(out)
	return out, nil
}

func sortScores(out []Score) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Aggregate != out[j].Aggregate {
			return out[i].Aggregate > out[j].Aggregate
		}
		return out[i].ArtifactID < out[j].ArtifactID
	})
}

func ratio(n, d int) ir.Score {
	if d <= 0 {
		return 0
	}
	return ir.Score(int64(n) * ir.ScoreScale / int64(d)).Clamp()
}

func novelty(a, before *ir.Artifact) ComponentScore {
	if before == nil {
		return ComponentScore{Value: ir.ScoreOne, Reason: "new since prior state"}
	}
	fresh := len(a.Observations) - len(before.Observations)
	return ComponentScore{
		Value:  ratio(fresh, len(a.Observations)),
		Reason: fmt.Sprintf("%d of %d observations since prior state", fresh, len(a.Observations)),
	}
}

func impact(s *projection.State, a *ir.Artifact) ComponentScore {
	incoming := 0
	for _, rels := range s.Incoming(a.ID) {
		incoming += len(rels)
	}
	links := incoming + len(a.Relations)
	others := len(s.Artifacts) - 1
	return ComponentScore{
		Value:  ratio(links, others),
		Reason: fmt.Sprintf("%d incoming and %d outgoing relations across %d other artifacts", incoming, len(a.Relations), max(others, 0)),
	}
}

func risk(a *ir.Artifact, cfg Config) ComponentScore {
	var hits []string
	for group, tags := range a.Tags {
		for _, tag := range tags {
			if group == ir.TagGroupRisk || slices.Contains(cfg.RiskTags, tag) {
				hits = append(hits, "tag:"+tag)
			}
		}
	}
	loc := strings.ToLower(a.Source.Locator)
	for _, hint := range cfg.RiskPathHints {
		if hint != "" && strings.Contains(loc, strings.ToLower(hint)) {
			hits = append(hits, "path:"+hint)
			break
		}
	}
	slices.Sort(hits)
	hits = slices.Compact(hits)
	reason := "no risk markers"
	if len(hits) > 0 {
		reason = strings.Join(hits, ", ")
	}
	return ComponentScore{Value: ratio(min(len(hits), 2), 2), Reason: reason}
}

func uncertainty(s *projection.State, a *ir.Artifact) ComponentScore {
	doubt := ir.ScoreOne
	if a.Confidence.Set {
		doubt = ir.ScoreOne - a.Confidence.Score
	}
	var conflicts, ambiguous ir.Score
	open := len(s.OpenConflicts(a.ID))
	if open > 0 {
		conflicts = ir.ScoreOne
	}
	if a.Ambiguous() {
		ambiguous = ir.ScoreOne
	}
	return ComponentScore{
		Value:  ((doubt + conflicts + ambiguous + 1) / 3).Clamp(),
		Reason: fmt.Sprintf("confidence %s, %d open conflicts, flags %v", a.Confidence.Score, open, a.Confidence.AmbiguityFlags),
	}
}

func recurrence(a, before *ir.Artifact) ComponentScore {
	obs, changes := len(a.Observations), len(a.Temporal.Changes)
	if before != nil {
		obs -= len(before.Observations)
		changes -= len(before.Temporal.Changes)
	}
	repeats := max(obs-1, 0) + changes
	return ComponentScore{
		Value:  ratio(min(repeats, recurrenceScale), recurrenceScale),
		Reason: fmt.Sprintf("%d repeat observations and %d changes", max(obs-1, 0), changes),
	}
}

func redundancy(s *projection.State, a *ir.Artifact) ComponentScore {
	same := len(s.ByContentHash(a.Fingerprint.ContentHash))
	dups := max(same-1, 0)
	return ComponentScore{
		Value:  ratio(dups, dups+1),
		Reason: fmt.Sprintf("%d other artifacts share the content hash", dups),
	}
}

func stability(a, before *ir.Artifact) ComponentScore {
	if before != nil && len(a.Events) == len(before.Events) {
		return ComponentScore{Value: ir.ScoreOne, Reason: "unchanged since prior state"}
	}
	return ComponentScore{Value: 0, Reason: "changed since prior state"}
}

func triggers(a, before *ir.Artifact) []string {
	from := 0
	if before != nil {
		from = min(len(before.Events), len(a.Events))
	}
	return slices.Clone(a.Events[from:])
}

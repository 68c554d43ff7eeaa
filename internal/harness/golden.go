package harness

import (
	"bytes"
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/atlas/internal/ir"
)

// GoldenDir holds golden files relative to the test's package.
const GoldenDir = "testdata/golden"

// Golden renders the result as canonical JSON lines: a header, one line
// per ledger record, one per artifact in id order, and one per conflict in
// detection order. Scores are fixed-point so the output is byte-stable.
func (r *Result) Golden() ([]byte, error) {
	var lines []map[string]any

	lines = append(lines, map[string]any{
		"scenario": r.Scenario,
		"head":     int64(r.State.Position),
	})

	for _, ev := range r.Trace {
		line := map[string]any{
			"seq":      int64(ev.Seq),
			"event_id": ev.EventID,
			"kind":     string(ev.Kind),
		}
		if ev.Actor != "" {
			line["actor"] = ev.Actor
		}
		lines = append(lines, line)
	}

	for _, id := range r.State.ArtifactIDs() {
		a := r.State.Artifact(id)
		lines = append(lines, map[string]any{
			"artifact_id":    a.ID,
			"lifecycle":      string(a.Lifecycle),
			"content_hash":   a.Fingerprint.ContentHash,
			"confidence":     int64(a.Confidence.Score),
			"conflicted":     a.Conflicted,
			"ambiguous":      a.Ambiguous(),
			"open_conflicts": len(r.State.OpenConflicts(id)),
		})
	}

	for _, c := range r.State.Conflicts {
		line := map[string]any{
			"conflict_id":   c.ID,
			"conflict_type": c.Type,
			"artifact_ids":  stringsAny(c.ArtifactIDs),
			"event_refs":    stringsAny(c.EventRefs),
			"open":          c.Open(),
		}
		if c.Resolution != "" {
			line["resolution"] = c.Resolution
		}
		lines = append(lines, line)
	}

	var buf bytes.Buffer
	for _, line := range lines {
		data, err := ir.MarshalCanonical(line)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func stringsAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// RunWithGolden executes a scenario and compares its golden rendering
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against the named golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := result.Golden()
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

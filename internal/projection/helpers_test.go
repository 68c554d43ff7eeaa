package projection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
)

var t0 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

// stream builds sealed, contiguous events.
type stream struct {
	t      *testing.T
	events []ir.Event
}

func newStream(t *testing.T) *stream {
	return &stream{t: t}
}

func (s *stream) add(kind ir.Kind, payload ir.IRObject) ir.Event {
	s.t.Helper()
	seq := uint64(len(s.events) + 1)
	ev, err := ir.Event{
		EventID:   fmt.Sprintf("e%03d", seq),
		Timestamp: t0.Add(time.Duration(seq) * time.Minute),
		Kind:      kind,
		Payload:   payload,
	}.Seal(seq)
	require.NoError(s.t, err)
	s.events = append(s.events, ev)
	return ev
}

func (s *stream) seen(id, locator string) ir.Event {
	return s.add(ir.KindArtifactSeen, ir.IRObject{"artifact_id": ir.IRString(id), "locator": ir.IRString(locator)})
}

func (s *stream) fingerprint(id, hash string) ir.Event {
	return s.add(ir.KindFingerprintComputed, ir.IRObject{"artifact_id": ir.IRString(id), "content_hash": ir.IRString(hash)})
}

func fold(t *testing.T, events []ir.Event) *State {
	t.Helper()
	s, err := Fold(nil, events)
	require.NoError(t, err)
	return s
}

// memSource is an in-memory ledger reader that counts reads.
type memSource struct {
	events []ir.Event
	reads  int
}

func (m *memSource) Head() uint64 {
	return uint64(len(m.events))
}

func (m *memSource) Read(ctx context.Context, from, to uint64) ([]ir.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.reads++
	if from == 0 {
		from = 1
	}
	if to > m.Head() {
		to = m.Head()
	}
	if from > to {
		return []ir.Event{}, nil
	}
	return append([]ir.Event(nil), m.events[from-1:to]...), nil
}

// mixedStream exercises every rule at least once.
func mixedStream(t *testing.T) *stream {
	s := newStream(t)
	s.seen("a1", "/repo/config.yaml")
	s.fingerprint("a1", "h1")
	s.seen("a2", "/repo/main.go")
	s.add(ir.KindExtractionPerformed, ir.IRObject{
		"artifact_id":        ir.IRString("a1"),
		"extraction_depth":   ir.IRString("structural"),
		"extracted_metadata": ir.IRObject{"keys": ir.IRInt(4)},
	})
	s.add(ir.KindTagsProposed, ir.IRObject{"artifact_id": ir.IRString("a1"), "tag_group": ir.IRString("risk"), "tags": ir.Strs("secret", "config")})
	s.add(ir.KindRolesProposed, ir.IRObject{"artifact_id": ir.IRString("a2"), "roles": ir.Strs("source")})
	s.add(ir.KindRelationProposed, ir.IRObject{"source_id": ir.IRString("a2"), "target_id": ir.IRString("a1"), "relation_type": ir.IRString("depends_on")})
	s.add(ir.KindConfidenceUpdated, ir.IRObject{
		"artifact_id": ir.IRString("a1"),
		"new_score":   ir.IRInt(700_000),
		"reasoning":   EncodeReasoning([]ir.Contribution{{EventID: "e001", Signal: "base", Delta: 500_000}, {EventID: "e002", Signal: "corroboration", Delta: 200_000}}),
	})
	s.fingerprint("a1", "h2")
	s.add(ir.KindConflictDetected, ir.IRObject{
		"artifact_ids":  ir.Strs("a1"),
		"conflict_type": ir.IRString("fingerprint_mismatch"),
		"event_refs":    ir.Strs("e002", "e009"),
	})
	s.add(ir.KindFreshnessDecayApplied, ir.IRObject{"artifact_id": ir.IRString("a1"), "decay_factor": ir.IRInt(500_000)})
	s.add(ir.KindHypothesisNoted, ir.IRObject{"hypothesis": ir.IRString("a2 reads a1 at startup"), "artifact_ids": ir.Strs("a1", "a2")})
	s.add(ir.KindAccessLimitationNoted, ir.IRObject{"limitation_type": ir.IRString("budget_exhausted"), "budget_type": ir.IRString("files")})
	s.add(ir.KindSessionStarted, ir.IRObject{})
	s.seen("a3", "/repo/main_v2.go")
	s.add(ir.KindArtifactSuperseded, ir.IRObject{"old_artifact_id": ir.IRString("a2"), "new_artifact_id": ir.IRString("a3")})
	s.add(ir.KindProvenanceRecorded, ir.IRObject{"artifact_id": ir.IRString("a3"), "action": ir.IRString("copied"), "source_refs": ir.Strs("a2")})
	s.add(ir.KindArchived, ir.IRObject{"artifact_id": ir.IRString("a1")})
	s.add(ir.KindConflictResolved, ir.IRObject{"conflict_id": ir.IRString("e010"), "resolution": ir.IRString("file was rewritten")})
	s.add(ir.KindSessionEnded, ir.IRObject{})
	return s
}

package conflict

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

var t0 = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type history struct {
	t      *testing.T
	events []ir.Event
	step   time.Duration
}

func newHistory(t *testing.T) *history {
	return &history{t: t, step: time.Minute}
}

func (h *history) add(kind ir.Kind, payload ir.IRObject) ir.Event {
	h.t.Helper()
	seq := uint64(len(h.events) + 1)
	ev, err := ir.Event{
		EventID:   fmt.Sprintf("e%d", seq),
		Timestamp: t0.Add(time.Duration(seq) * h.step),
		Kind:      kind,
		Payload:   payload,
	}.Seal(seq)
	require.NoError(h.t, err)
	h.events = append(h.events, ev)
	return ev
}

func (h *history) seen(id, locator string) ir.Event {
	return h.add(ir.KindArtifactSeen, ir.IRObject{"artifact_id": ir.IRString(id), "locator": ir.IRString(locator)})
}

func (h *history) fingerprint(id, hash string) ir.Event {
	return h.add(ir.KindFingerprintComputed, ir.IRObject{"artifact_id": ir.IRString(id), "content_hash": ir.IRString(hash)})
}

func (h *history) state() *projection.State {
	h.t.Helper()
	s, err := projection.Fold(nil, h.events)
	require.NoError(h.t, err)
	return s
}

func newDetector(t *testing.T) *Detector {
	return New(DefaultConfig(), zaptest.NewLogger(t))
}

func TestDetect_FingerprintMismatch(t *testing.T) {
	h := newHistory(t)
	h.seen("A1", "/srv/app.conf")
	fp1 := h.fingerprint("A1", "H1")
	fp2 := h.fingerprint("A1", "H2")

	found := newDetector(t).Detect(h.state(), []ir.Event{fp2})
	require.Len(t, found, 1)
	assert.Equal(t, TypeFingerprintMismatch, found[0].Type)
	assert.Equal(t, []string{"A1"}, found[0].ArtifactIDs)
	assert.Equal(t, []string{fp1.EventID, fp2.EventID}, found[0].EventRefs)
}

func TestDetect_SameHashIsNotAConflict(t *testing.T) {
	h := newHistory(t)
	h.seen("A1", "/x")
	h.fingerprint("A1", "H1")
	fp := h.fingerprint("A1", "H1")

	assert.Empty(t, newDetector(t).Detect(h.state(), []ir.Event{fp}))
}

func TestDetect_FingerprintOutsideWindow(t *testing.T) {
	h := newHistory(t)
	h.step = 2 * time.Hour
	h.seen("A1", "/x")
	h.fingerprint("A1", "H1")
	fp := h.fingerprint("A1", "H2")

	assert.Empty(t, newDetector(t).Detect(h.state(), []ir.Event{fp}))

	cfg := DefaultConfig()
	cfg.FingerprintWindow = 0
	h2 := newHistory(t)
	h2.seen("A1", "/x")
	h2.fingerprint("A1", "H1")
	fp = h2.fingerprint("A1", "H2")
	assert.Empty(t, New(cfg, nil).Detect(h2.state(), []ir.Event{fp}))
}

func TestDetect_FingerprintAcrossArtifactsAtSameLocator(t *testing.T) {
	h := newHistory(t)
	h.seen("A1", "/shared")
	h.seen("B1", "/shared")
	fpA := h.fingerprint("A1", "H1")
	fpB := h.fingerprint("B1", "H2")

	found := newDetector(t).Detect(h.state(), []ir.Event{fpB})
	require.Len(t, found, 1)
	assert.Equal(t, []string{"A1", "B1"}, found[0].ArtifactIDs)
	assert.Equal(t, []string{fpA.EventID, fpB.EventID}, found[0].EventRefs)
}

func TestDetect_ComparesWithLatestPriorFingerprint(t *testing.T) {
	h := newHistory(t)
	h.seen("A1", "/x")
	h.fingerprint("A1", "H1")
	fp2 := h.fingerprint("A1", "H2")
	fp3 := h.fingerprint("A1", "H1")

	found := newDetector(t).Detect(h.state(), []ir.Event{fp3})
	require.Len(t, found, 1)
	assert.Equal(t, []string{fp2.EventID, fp3.EventID}, found[0].EventRefs)
}

func TestDetect_ExclusiveRelations(t *testing.T) {
	h := newHistory(t)
	h.seen("a", "/a")
	h.seen("b", "/b")
	r1 := h.add(ir.KindRelationProposed, ir.IRObject{"source_id": ir.IRString("a"), "target_id": ir.IRString("b"), "relation_type": ir.IRString("parent_of")})
	other := h.add(ir.KindRelationProposed, ir.IRObject{"source_id": ir.IRString("b"), "target_id": ir.IRString("a"), "relation_type": ir.IRString("child_of")})
	r2 := h.add(ir.KindRelationProposed, ir.IRObject{"source_id": ir.IRString("a"), "target_id": ir.IRString("b"), "relation_type": ir.IRString("child_of")})

	found := newDetector(t).Detect(h.state(), []ir.Event{other, r2})
	require.Len(t, found, 1, "b child_of a is consistent with a parent_of b")
	assert.Equal(t, TypeRelationExclusive, found[0].Type)
	assert.Equal(t, []string{"a", "b"}, found[0].ArtifactIDs)
	assert.Equal(t, []string{r1.EventID, r2.EventID}, found[0].EventRefs)
}

func TestDetect_TagContradiction(t *testing.T) {
	h := newHistory(t)
	h.seen("a", "/a")
	t1 := h.add(ir.KindTagsProposed, ir.IRObject{"artifact_id": ir.IRString("a"), "tag_group": ir.IRString("semantic"), "tags": ir.Strs("generated")})
	t2 := h.add(ir.KindTagsProposed, ir.IRObject{"artifact_id": ir.IRString("a"), "tag_group": ir.IRString("semantic"), "tags": ir.Strs("handwritten", "go")})
	// Same tag in a different group is fine.
	t3 := h.add(ir.KindTagsProposed, ir.IRObject{"artifact_id": ir.IRString("a"), "tag_group": ir.IRString("structural"), "tags": ir.Strs("handwritten")})

	found := newDetector(t).Detect(h.state(), []ir.Event{t2, t3})
	require.Len(t, found, 1)
	assert.Equal(t, TypeTagContradiction, found[0].Type)
	assert.Equal(t, []string{t1.EventID, t2.EventID}, found[0].EventRefs)
}

func TestDetect_SelfContradictoryProposalIsSkipped(t *testing.T) {
	h := newHistory(t)
	h.seen("a", "/a")
	ev := h.add(ir.KindTagsProposed, ir.IRObject{"artifact_id": ir.IRString("a"), "tag_group": ir.IRString("semantic"), "tags": ir.Strs("generated", "handwritten")})

	assert.Empty(t, newDetector(t).Detect(h.state(), []ir.Event{ev}))
}

func TestDetect_RoleContradiction(t *testing.T) {
	h := newHistory(t)
	h.seen("a", "/a")
	r1 := h.add(ir.KindRolesProposed, ir.IRObject{"artifact_id": ir.IRString("a"), "roles": ir.Strs("build_output")})
	r2 := h.add(ir.KindRolesProposed, ir.IRObject{"artifact_id": ir.IRString("a"), "roles": ir.Strs("source")})

	found := newDetector(t).Detect(h.state(), []ir.Event{r2})
	require.Len(t, found, 1)
	assert.Equal(t, TypeRoleContradiction, found[0].Type)
	assert.Equal(t, []string{r1.EventID, r2.EventID}, found[0].EventRefs)
}

func TestDetect_AlreadyRecordedIsNotRepeated(t *testing.T) {
	h := newHistory(t)
	h.seen("A1", "/x")
	h.fingerprint("A1", "H1")
	fp2 := h.fingerprint("A1", "H2")
	d := newDetector(t)

	props := d.Propose(h.state(), []ir.Event{fp2, fp2})
	require.Len(t, props, 1, "duplicates within one batch collapse")
	h.add(props[0].Kind, props[0].Payload)

	assert.Empty(t, d.Detect(h.state(), []ir.Event{fp2}))
}

func TestDetect_TerminalArtifactsAreIgnored(t *testing.T) {
	h := newHistory(t)
	h.seen("A1", "/x")
	h.fingerprint("A1", "H1")
	h.add(ir.KindArchived, ir.IRObject{"artifact_id": ir.IRString("A1")})
	fp := h.fingerprint("A1", "H2")

	assert.Empty(t, newDetector(t).Detect(h.state(), []ir.Event{fp}))
}

func TestDetect_NeverMutatesState(t *testing.T) {
	h := newHistory(t)
	h.seen("A1", "/x")
	h.fingerprint("A1", "H1")
	fp := h.fingerprint("A1", "H2")
	s := h.state()
	before, err := s.Digest()
	require.NoError(t, err)

	newDetector(t).Detect(s, []ir.Event{fp})

	after, err := s.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, s.Conflicts)
}

func TestFinding_Proposal(t *testing.T) {
	p := Finding{
		Type:        TypeFingerprintMismatch,
		ArtifactIDs: []string{"a"},
		EventRefs:   []string{"e1", "e2"},
		Description: "changed",
	}.Proposal()

	assert.Equal(t, ir.KindConflictDetected, p.Kind)
	assert.Equal(t, Module, p.Module)
	refs, ok := p.Payload.Strings("event_refs")
	require.True(t, ok)
	assert.Equal(t, []string{"e1", "e2"}, refs)
	desc, _ := p.Payload.String("description")
	assert.Equal(t, "changed", desc)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.ExclusiveRoles = append(cfg.ExclusiveRoles, Pair{"x", "x"})
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.FingerprintWindow = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SizeTolerance = -1
	assert.ErrorContains(t, cfg.Validate(), "size_tolerance")
}

func (h *history) sized(id, hash string, size int64) ir.Event {
	return h.add(ir.KindFingerprintComputed, ir.IRObject{
		"artifact_id":  ir.IRString(id),
		"content_hash": ir.IRString(hash),
		"size_bytes":   ir.IRInt(size),
	})
}

func TestDetect_SizeMismatch(t *testing.T) {
	tests := []struct {
		name   string
		before int64
		after  int64
		want   bool
	}{
		{"grew past tolerance", 100, 111, true},
		{"within tolerance", 100, 110, false},
		{"shrank past tolerance", 111, 100, true},
		{"emptied", 40, 0, true},
		{"filled", 0, 1, true},
		{"unchanged", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHistory(t)
			h.seen("A1", "/var/data.bin")
			fp1 := h.sized("A1", "H1", tt.before)
			fp2 := h.sized("A1", "H1", tt.after)

			found := newDetector(t).Detect(h.state(), []ir.Event{fp2})
			if !tt.want {
				assert.Empty(t, found)
				return
			}
			require.Len(t, found, 1)
			assert.Equal(t, TypeSizeMismatch, found[0].Type)
			assert.Equal(t, []string{"A1"}, found[0].ArtifactIDs)
			assert.Equal(t, []string{fp1.EventID, fp2.EventID}, found[0].EventRefs)
			assert.Contains(t, found[0].Description, "/var/data.bin")
		})
	}
}

func TestDetect_SizeMismatchAlongsideHashMismatch(t *testing.T) {
	h := newHistory(t)
	h.seen("A1", "/x")
	h.sized("A1", "H1", 10)
	fp := h.sized("A1", "H2", 1000)

	found := newDetector(t).Detect(h.state(), []ir.Event{fp})
	require.Len(t, found, 2)
	assert.Equal(t, TypeFingerprintMismatch, found[0].Type)
	assert.Equal(t, TypeSizeMismatch, found[1].Type)
}

func TestDetect_SizeMismatchDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SizeTolerance = 0

	h := newHistory(t)
	h.seen("A1", "/x")
	h.sized("A1", "H1", 1)
	fp := h.sized("A1", "H1", 5000)
	assert.Empty(t, New(cfg, nil).Detect(h.state(), []ir.Event{fp}))

	h = newHistory(t)
	h.step = 2 * time.Hour
	h.seen("A1", "/x")
	h.sized("A1", "H1", 1)
	fp = h.sized("A1", "H1", 5000)
	assert.Empty(t, newDetector(t).Detect(h.state(), []ir.Event{fp}), "outside the fingerprint window")
}

func TestDetect_SizeComparesOnlySizedFingerprints(t *testing.T) {
	h := newHistory(t)
	h.seen("A1", "/x")
	fp1 := h.sized("A1", "H1", 100)
	h.fingerprint("A1", "H1")
	fp3 := h.sized("A1", "H1", 500)

	found := newDetector(t).Detect(h.state(), []ir.Event{fp3})
	require.Len(t, found, 1)
	assert.Equal(t, []string{fp1.EventID, fp3.EventID}, found[0].EventRefs)
}

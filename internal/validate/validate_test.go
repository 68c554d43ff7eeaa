package validate

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/faults"
	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/schema"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newValidator(t *testing.T, mode Mode) (*Validator, *RejectLog) {
	t.Helper()
	reg, err := schema.Default()
	require.NoError(t, err)

	rl, err := OpenRejectLog(filepath.Join(t.TempDir(), "rejects.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { rl.Close() })

	v, err := New(reg, mode, WithRejectLog(rl), WithNow(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return v, rl
}

func candidate(kind ir.Kind, payload string) ir.Candidate {
	return ir.Candidate{
		EventID:   "evt-1",
		Timestamp: "2026-03-01T08:00:00Z",
		Kind:      string(kind),
		Payload:   json.RawMessage(payload),
	}
}

func violationPaths(err error) []string {
	var out []string
	for _, v := range faults.ViolationsOf(err) {
		out = append(out, v.Path)
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	v, _ := newValidator(t, ModeStrict)

	ev, err := v.Validate(candidate(ir.KindArtifactSeen, `{"artifact_id":"a1","locator":"/tmp/a"}`))
	require.NoError(t, err)

	assert.Equal(t, "evt-1", ev.EventID)
	assert.Equal(t, ir.KindArtifactSeen, ev.Kind)
	assert.Equal(t, uint64(0), ev.Sequence)
	assert.Empty(t, ev.Checksum)
	assert.True(t, ev.Timestamp.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, ir.IRString("/tmp/a"), ev.Payload["locator"])
}

func TestValidate_MissingRequiredField(t *testing.T) {
	v, _ := newValidator(t, ModeStrict)

	_, err := v.Validate(candidate(ir.KindFingerprintComputed, `{"artifact_id":"a1"}`))
	require.Error(t, err)
	assert.True(t, faults.IsValidation(err))
	assert.Equal(t, []string{"payload.content_hash"}, violationPaths(err))
}

func TestValidate_EnumeratesEnvelopeAndPayload(t *testing.T) {
	v, _ := newValidator(t, ModeStrict)

	c := ir.Candidate{
		EventID:   "",
		Timestamp: "not-a-time",
		Kind:      string(ir.KindArtifactSeen),
		Actor:     &ir.Actor{},
		Payload:   json.RawMessage(`{"locator":"/a","size_bytes":1.5,"extra":null}`),
	}
	_, err := v.Validate(c)
	require.Error(t, err)

	assert.Equal(t, []string{
		"actor.module",
		"event_id",
		"payload.artifact_id",
		"payload.extra",
		"payload.size_bytes",
		"timestamp",
	}, violationPaths(err))
}

func TestValidate_UnknownKind(t *testing.T) {
	v, _ := newValidator(t, ModeStrict)

	_, err := v.Validate(candidate("TELEPORTED", `{}`))
	require.Error(t, err)
	assert.Equal(t, []string{"kind"}, violationPaths(err))
}

func TestValidate_PayloadShape(t *testing.T) {
	v, _ := newValidator(t, ModeStrict)

	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ``},
		{"array", `[1,2]`},
		{"null", `null`},
		{"broken", `{"a":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(candidate(ir.KindArchived, tt.payload))
			require.Error(t, err)
			assert.Equal(t, []string{"payload"}, violationPaths(err))
		})
	}
}

func TestValidate_ActorAndSessionIntoMeta(t *testing.T) {
	v, _ := newValidator(t, ModeStrict)

	c := candidate(ir.KindArchived, `{"artifact_id":"a1"}`)
	c.Actor = &ir.Actor{Module: "janitor"}
	c.SessionID = "s-1"

	ev, err := v.Validate(c)
	require.NoError(t, err)
	meta, ok := ev.Payload.Object("meta")
	require.True(t, ok)
	assert.Equal(t, ir.IRString("janitor"), meta["actor"])
	assert.Equal(t, ir.IRString("s-1"), meta["session_id"])
}

func TestAdmit_StrictReturnsError(t *testing.T) {
	v, rl := newValidator(t, ModeStrict)

	_, ok, err := v.Admit(candidate(ir.KindArtifactSeen, `{}`))
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, faults.IsValidation(err))

	rejections, err := rl.Read()
	require.NoError(t, err)
	assert.Empty(t, rejections)
}

func TestAdmit_LenientQuarantines(t *testing.T) {
	v, rl := newValidator(t, ModeLenient)

	_, ok, err := v.Admit(candidate(ir.KindArtifactSeen, `{"artifact_id":"a1"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	ev, ok, err := v.Admit(candidate(ir.KindArtifactSeen, `{"artifact_id":"a1","locator":"/a"}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a1", mustString(t, ev.Payload, "artifact_id"))

	rejections, err := rl.Read()
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, "evt-1", rejections[0].Candidate.EventID)
	assert.Equal(t, "payload.locator", rejections[0].Violations[0].Path)
	assert.True(t, rejections[0].RejectedAt.Equal(fixedNow))
}

func TestNew_LenientNeedsRejectLog(t *testing.T) {
	reg, err := schema.Default()
	require.NoError(t, err)

	_, err = New(reg, ModeLenient)
	assert.Error(t, err)

	_, err = New(reg, "sloppy")
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("LENIENT")
	require.NoError(t, err)
	assert.Equal(t, ModeLenient, m)

	_, err = ParseMode("other")
	assert.Error(t, err)
}

func TestReadRejections_MissingFile(t *testing.T) {
	rejections, err := ReadRejections(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, rejections)
}

func mustString(t *testing.T, obj ir.IRObject, key string) string {
	t.Helper()
	s, ok := obj.String(key)
	require.True(t, ok)
	return s
}

package ir

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalRecord_FieldOrder(t *testing.T) {
	e, err := testEvent().Seal(7)
	require.NoError(t, err)

	line, err := MarshalRecord(e)
	require.NoError(t, err)
	require.True(t, bytes.HasSuffix(line, []byte("\n")))

	order := []string{`"sequence"`, `"event_id"`, `"timestamp"`, `"kind"`, `"payload"`, `"checksum"`}
	last := -1
	for _, field := range order {
		idx := bytes.Index(line, []byte(field))
		require.NotEqual(t, -1, idx, field)
		assert.Greater(t, idx, last, "field %s out of order", field)
		last = idx
	}
}

func TestRecordRoundTrip_Verifies(t *testing.T) {
	e, err := testEvent().Seal(3)
	require.NoError(t, err)

	line, err := MarshalRecord(e)
	require.NoError(t, err)

	decoded, err := UnmarshalRecord(line)
	require.NoError(t, err)
	require.NoError(t, decoded.Verify())
	assert.Equal(t, e.Checksum, decoded.Checksum)
	assert.True(t, e.Timestamp.Equal(decoded.Timestamp))
}

func TestVerify_DetectsTampering(t *testing.T) {
	e, err := testEvent().Seal(1)
	require.NoError(t, err)

	e.Payload["locator"] = IRString("/tmp/other.txt")
	assert.Error(t, e.Verify())
}

func TestNewCandidate(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 7200))
	c, err := NewCandidate("e1", ts, KindArchived, IRObject{"artifact_id": IRString("a1")})
	require.NoError(t, err)

	assert.Equal(t, "2026-05-01T10:00:00Z", c.Timestamp)
	assert.Equal(t, "ARCHIVED", c.Kind)
	assert.JSONEq(t, `{"artifact_id":"a1"}`, string(c.Payload))
}

func TestArtifactRefs(t *testing.T) {
	e := Event{
		Kind: KindConflictDetected,
		Payload: IRObject{
			"artifact_ids": IRArray{IRString("a1"), IRString("a2")},
		},
	}
	assert.Equal(t, []string{"a1", "a2"}, e.ArtifactRefs())

	rel := Event{
		Kind: KindRelationProposed,
		Payload: IRObject{
			"source_id": IRString("a1"),
			"target_id": IRString("a3"),
		},
	}
	assert.Equal(t, []string{"a1", "a3"}, rel.ArtifactRefs())
}

func TestKindKnown(t *testing.T) {
	assert.True(t, KindFingerprintComputed.Known())
	assert.False(t, Kind("TELEPORTED").Known())
	assert.Len(t, Kinds(), 18)
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
)

func TestCycleGuard_RecordThenWouldCycle(t *testing.T) {
	g := newCycleGuard()
	key := "CONFIDENCE_UPDATED:abc"

	assert.False(t, g.WouldCycle(key))
	g.Record(key)
	assert.True(t, g.WouldCycle(key))
	assert.Equal(t, 1, g.Size())
}

func TestProposalKey_IgnoresModuleAndMapOrder(t *testing.T) {
	a := ir.Proposal{
		Kind:    ir.KindConfidenceUpdated,
		Payload: ir.IRObject{"artifact_id": ir.IRString("A1"), "new_score": ir.IRInt(500000)},
		Module:  "confidence",
	}
	b := ir.Proposal{
		Kind:    ir.KindConfidenceUpdated,
		Payload: ir.IRObject{"new_score": ir.IRInt(500000), "artifact_id": ir.IRString("A1")},
	}

	ka, err := proposalKey(a)
	require.NoError(t, err)
	kb, err := proposalKey(b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)

	b.Payload["new_score"] = ir.IRInt(400000)
	kc, err := proposalKey(b)
	require.NoError(t, err)
	assert.NotEqual(t, ka, kc)

	b.Kind = ir.KindFreshnessDecayApplied
	kd, err := proposalKey(b)
	require.NoError(t, err)
	assert.NotEqual(t, kc, kd, "kind is part of the key")
}

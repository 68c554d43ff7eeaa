package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionQuota_AllowsUpToLimit(t *testing.T) {
	q := newReactionQuota(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Check("ev-1"))
	}
	assert.Equal(t, 3, q.Current())

	err := q.Check("ev-1")
	require.Error(t, err)
	assert.True(t, IsReactionLimit(err))
	assert.Contains(t, err.Error(), "REACTION_LIMIT")
	assert.Contains(t, err.Error(), "cause=ev-1")
}

func TestReactionError_Predicates(t *testing.T) {
	inner := &ReactionError{Code: ErrCodeReactionInvalid, Message: "bad", Cause: "ev-2", Kind: "CONFIDENCE_UPDATED", Err: fmt.Errorf("boom")}
	wrapped := fmt.Errorf("append: %w", inner)

	assert.True(t, IsReactionError(wrapped))
	assert.False(t, IsReactionLimit(wrapped))
	assert.Contains(t, wrapped.Error(), "kind=CONFIDENCE_UPDATED")
	assert.ErrorContains(t, inner.Unwrap(), "boom")
	assert.False(t, IsReactionError(fmt.Errorf("plain")))
}

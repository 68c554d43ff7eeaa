package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation_SortsViolations(t *testing.T) {
	err := NewValidation("validate", []Violation{
		{Path: "payload.locator", Message: "required field missing"},
		{Path: "event_id", Message: "must be non-empty"},
	})

	require.Len(t, err.Violations, 2)
	assert.Equal(t, "event_id", err.Violations[0].Path)
	assert.Equal(t, "payload.locator", err.Violations[1].Path)
	assert.Contains(t, err.Error(), "payload.locator: required field missing")
	assert.Contains(t, err.Error(), "2 violation(s)")
}

func TestPredicates_ThroughWrapping(t *testing.T) {
	base := NewDurability("ledger.append", errors.New("disk full"))
	wrapped := fmt.Errorf("engine append: %w", base)

	assert.True(t, IsDurability(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.Equal(t, CodeDurability, CodeOf(wrapped))
	assert.Contains(t, wrapped.Error(), "disk full")
}

func TestIsIntegrity_MatchesStorageCause(t *testing.T) {
	cause := NewIntegrity("ledger.open", "checksum mismatch at sequence 3", nil)
	fatal := NewStorage("ledger.open", "corruption before tail", cause)

	assert.True(t, IsStorage(fatal))
	assert.True(t, IsIntegrity(fatal))
	assert.False(t, IsStorage(cause))
}

func TestViolationsOf(t *testing.T) {
	err := fmt.Errorf("append: %w", NewValidation("validate", []Violation{{Path: "kind", Message: "unknown"}}))
	assert.Equal(t, []Violation{{Path: "kind", Message: "unknown"}}, ViolationsOf(err))
	assert.Nil(t, ViolationsOf(errors.New("plain")))
}

func TestPredicates_PlainError(t *testing.T) {
	err := errors.New("boom")
	assert.False(t, IsValidation(err))
	assert.False(t, IsIntegrity(err))
	assert.Equal(t, Code(""), CodeOf(err))
}

package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() Event {
	return Event{
		EventID:   "evt-1",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
		Kind:      KindArtifactSeen,
		Payload: IRObject{
			"artifact_id": IRString("a1"),
			"locator":     IRString("/tmp/a.txt"),
		},
	}
}

func TestEventChecksum_Deterministic(t *testing.T) {
	e := testEvent()
	e.Sequence = 1

	first, err := EventChecksum(e)
	require.NoError(t, err)
	second, err := EventChecksum(e)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestEventChecksum_CoversEveryField(t *testing.T) {
	base := testEvent()
	base.Sequence = 1
	baseSum, err := EventChecksum(base)
	require.NoError(t, err)

	mutations := map[string]func(*Event){
		"sequence":  func(e *Event) { e.Sequence = 2 },
		"event_id":  func(e *Event) { e.EventID = "evt-2" },
		"timestamp": func(e *Event) { e.Timestamp = e.Timestamp.Add(time.Nanosecond) },
		"kind":      func(e *Event) { e.Kind = KindArchived },
		"payload":   func(e *Event) { e.Payload = IRObject{"artifact_id": IRString("a2")} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := testEvent()
			e.Sequence = 1
			mutate(&e)
			sum, err := EventChecksum(e)
			require.NoError(t, err)
			assert.NotEqual(t, baseSum, sum)
		})
	}
}

func TestEventChecksum_IgnoresTimezone(t *testing.T) {
	e := testEvent()
	local := e
	local.Timestamp = e.Timestamp.In(time.FixedZone("X", 3600))

	a, err := EventChecksum(e)
	require.NoError(t, err)
	b, err := EventChecksum(local)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashWithDomain_Separation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, HashWithDomain(DomainEvent, data), HashWithDomain(DomainSnapshot, data))
}

func TestEventChecksum_RejectsNull(t *testing.T) {
	e := testEvent()
	e.Payload = IRObject{"bad": nil}
	_, err := EventChecksum(e)
	require.Error(t, err)
}

package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepClock(t *testing.T) {
	c := NewStepClock(Epoch, time.Second)
	assert.Equal(t, Epoch, c.Peek())
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())

	c.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour+2*time.Second), c.Now())

	c.Reset()
	assert.Equal(t, Epoch.Add(time.Hour), c.Now())
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("")
	assert.Equal(t, "ev-0001", g.Generate())
	assert.Equal(t, "ev-0002", g.Generate())
	assert.Equal(t, "r-0001", NewSequentialIDs("r").Generate())
}

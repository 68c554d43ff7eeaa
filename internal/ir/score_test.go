package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreFromFloat(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want Score
	}{
		{"zero", 0, 0},
		{"one", 1, ScoreOne},
		{"half", 0.5, 500_000},
		{"rounds", 0.1234565, 123_457},
		{"negative", -0.3, -300_000},
		{"nan", math.NaN(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreFromFloat(tt.in))
		})
	}
}

func TestScoreClamp(t *testing.T) {
	assert.Equal(t, ScoreZero, Score(-5).Clamp())
	assert.Equal(t, ScoreOne, Score(ScoreOne+1).Clamp())
	assert.Equal(t, Score(400_000), Score(400_000).Clamp())
}

func TestScoreMul(t *testing.T) {
	assert.Equal(t, Score(250_000), Score(500_000).Mul(500_000))
	assert.Equal(t, Score(400_000), Score(400_000).Mul(ScoreOne))
	assert.Equal(t, Score(-150_000), Score(-300_000).Mul(500_000))
}

func TestScoreString(t *testing.T) {
	assert.Equal(t, "0.400000", Score(400_000).String())
	assert.Equal(t, "1.000000", ScoreOne.String())
	assert.Equal(t, "-0.300000", Score(-300_000).String())
}

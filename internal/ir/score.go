package ir

import (
	"fmt"
	"math"
)

// ScoreScale is the fixed-point denominator for Score. 1.0 == ScoreScale.
const ScoreScale = 1_000_000

// Score is a fixed-point value in millionths.
//
// Scores, weights and factors recorded in event payloads use Score instead
// of float64 so that canonical JSON stays integer-only and replays are
// bit-identical across platforms. Engines compute in float64 and round once
// with ScoreFromFloat when a value crosses into a payload.
type Score int64

const (
	ScoreZero Score = 0
	ScoreOne  Score = ScoreScale
)

// ScoreFromFloat rounds f to the nearest millionth. It does not clamp.
func ScoreFromFloat(f float64) Score {
	if math.IsNaN(f) {
		return 0
	}
	return Score(math.Round(f * ScoreScale))
}

// Float returns the score as a float64.
func (s Score) Float() float64 {
	return float64(s) / ScoreScale
}

// Clamp restricts s to [0, 1].
func (s Score) Clamp() Score {
	if s < ScoreZero {
		return ScoreZero
	}
	if s > ScoreOne {
		return ScoreOne
	}
	return s
}

// Mul multiplies two scores, rounding half away from zero.
func (s Score) Mul(o Score) Score {
	p := int64(s) * int64(o)
	if p >= 0 {
		return Score((p + ScoreScale/2) / ScoreScale)
	}
	return Score((p - ScoreScale/2) / ScoreScale)
}

// InUnitRange reports whether s lies in [0, 1].
func (s Score) InUnitRange() bool {
	return s >= ScoreZero && s <= ScoreOne
}

// String renders the score with six decimals.
func (s Score) String() string {
	sign := ""
	v := int64(s)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%06d", sign, v/ScoreScale, v%ScoreScale)
}

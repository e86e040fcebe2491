package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestRoll_Deterministic(t *testing.T) {
	a := Roll(42, "cluster", 3, -7)
	b := Roll(42, "cluster", 3, -7)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Roll(43, "cluster", 3, -7))
	assert.NotEqual(t, a, Roll(42, "landmark", 3, -7))
}

func TestPick_SingleChoice(t *testing.T) {
	assert.Equal(t, 0, Pick(1, 1, "x", 5))
	assert.Equal(t, 0, Pick(0, 1, "x", 5))
}

// Property: Roll always lies in [0, 1) and Pick always lies in [0, n).
func TestPropertyRollRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Int64().Draw(t, "seed")
		x := rapid.Int().Draw(t, "x")
		n := rapid.IntRange(1, 100).Draw(t, "n")
		r := Roll(seed, "s", x)
		if r < 0 || r >= 1 {
			t.Fatalf("Roll = %v out of range", r)
		}
		if p := Pick(n, seed, "s", x); p < 0 || p >= n {
			t.Fatalf("Pick = %d out of [0, %d)", p, n)
		}
	})
}

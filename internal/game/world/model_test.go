package world

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDirection_Opposite(t *testing.T) {
	pairs := [][2]Direction{
		{North, South},
		{East, West},
	}
	for _, pair := range pairs {
		assert.Equal(t, pair[1], pair[0].Opposite())
		assert.Equal(t, pair[0], pair[1].Opposite())
	}
	assert.Equal(t, Direction(""), Direction("up").Opposite())
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{
		"n": North, "North": North, " e ": East, "south": South, "W": West,
	} {
		got, ok := ParseDirection(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ParseDirection("up")
	assert.False(t, ok)
}

func TestCoordinate_Neighbor(t *testing.T) {
	c := Coordinate{X: 2, Y: -3}
	assert.Equal(t, Coordinate{X: 2, Y: -2}, c.Neighbor(North))
	assert.Equal(t, Coordinate{X: 3, Y: -3}, c.Neighbor(East))
	assert.Equal(t, Coordinate{X: 2, Y: -4}, c.Neighbor(South))
	assert.Equal(t, Coordinate{X: 1, Y: -3}, c.Neighbor(West))
}

func TestParseCoordinate_Malformed(t *testing.T) {
	for _, in := range []string{"", "1", "a,2", "1,b"} {
		_, err := ParseCoordinate(in)
		assert.Error(t, err, in)
	}
}

func TestChunkOf_FloorsNegatives(t *testing.T) {
	assert.Equal(t, ChunkID{X: 0, Y: 0}, ChunkOf(Coordinate{X: 0, Y: 0}, 4))
	assert.Equal(t, ChunkID{X: 0, Y: 0}, ChunkOf(Coordinate{X: 3, Y: 3}, 4))
	assert.Equal(t, ChunkID{X: 1, Y: 0}, ChunkOf(Coordinate{X: 4, Y: 0}, 4))
	assert.Equal(t, ChunkID{X: -1, Y: -1}, ChunkOf(Coordinate{X: -1, Y: -1}, 4))
	assert.Equal(t, ChunkID{X: -1, Y: -2}, ChunkOf(Coordinate{X: -4, Y: -5}, 4))
}

func TestChunkID_Neighbors(t *testing.T) {
	c := ChunkID{X: 0, Y: 0}
	assert.Len(t, c.Neighbors(false), 4)
	assert.Len(t, c.Neighbors(true), 8)
	assert.Equal(t, ChunkID{X: 0, Y: 1}, c.Neighbors(false)[0])
}

func TestNormalizeBiomeName(t *testing.T) {
	assert.Equal(t, "crimson mire", NormalizeBiomeName("Crimson Mire"))
	assert.Equal(t, "crimson mire", NormalizeBiomeName("  CRIMSON   MIRE "))
	assert.Equal(t, "", NormalizeBiomeName("   "))
}

func TestNewGridRoom(t *testing.T) {
	now := time.Now()
	r := NewGridRoom(Coordinate{X: 5, Y: -1}, 4, now)
	assert.Equal(t, "room_5_-1", r.ID)
	require.NotNil(t, r.Position)
	assert.Equal(t, ChunkID{X: 1, Y: -1}, r.Chunk)
	assert.Equal(t, "room_5_0", r.Connections[North])
	assert.Equal(t, "room_4_-1", r.Connections[West])
	// The renderer picks rooms up from pending; the engine never advances them.
	assert.Equal(t, ImagePending, r.ImageStatus)
	assert.Empty(t, r.ImageURL)
}

func TestRoom_CloneIsDeep(t *testing.T) {
	r := NewGridRoom(Coordinate{}, 4, time.Now())
	r.Players = []string{"p1"}
	r.Monsters = []Monster{{ID: "m1", Name: "Ghoul"}}
	c := r.Clone()
	c.Players[0] = "p2"
	c.Monsters[0].Name = "Wight"
	c.Position.X = 9
	c.Connections[North] = "elsewhere"
	assert.Equal(t, "p1", r.Players[0])
	assert.Equal(t, "Ghoul", r.Monsters[0].Name)
	assert.Equal(t, 0, r.Position.X)
	assert.Equal(t, "room_0_1", r.Connections[North])
}

func TestRoom_Occupants(t *testing.T) {
	r := NewGridRoom(Coordinate{}, 4, time.Now())
	r.AddPlayer("a")
	r.AddPlayer("a")
	r.AddPlayer("b")
	assert.Equal(t, []string{"a", "b"}, r.Players)
	r.RemovePlayer("a")
	assert.Equal(t, []string{"b"}, r.Players)

	r.Items = []string{"Rusty Key", "torch"}
	got, ok := r.TakeItem("rusty key")
	assert.True(t, ok)
	assert.Equal(t, "Rusty Key", got)
	assert.Equal(t, []string{"torch"}, r.Items)
	_, ok = r.TakeItem("rusty key")
	assert.False(t, ok)
}

func TestGenerationStatus_RoundTrip(t *testing.T) {
	for _, s := range []GenerationStatus{StatusNotStarted, StatusGenerating, StatusReady, StatusFailed} {
		got, ok := ParseGenerationStatus(s.String())
		assert.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := ParseGenerationStatus("bogus")
	assert.False(t, ok)
}

// Property: RoomID and CoordinateFromRoomID are inverses for every coordinate.
func TestPropertyRoomIDRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := Coordinate{
			X: rapid.IntRange(-100000, 100000).Draw(t, "x"),
			Y: rapid.IntRange(-100000, 100000).Draw(t, "y"),
		}
		got, ok := CoordinateFromRoomID(RoomID(c))
		if !ok || got != c {
			t.Fatalf("CoordinateFromRoomID(RoomID(%v)) = %v, %v", c, got, ok)
		}
		parsed, err := ParseCoordinate(c.Key())
		if err != nil || parsed != c {
			t.Fatalf("ParseCoordinate(%q) = %v, %v", c.Key(), parsed, err)
		}
	})
}

// Property: every coordinate lies inside the square its chunk describes.
func TestPropertyChunkContainsCoordinate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 64).Draw(t, "size")
		c := Coordinate{
			X: rapid.IntRange(-10000, 10000).Draw(t, "x"),
			Y: rapid.IntRange(-10000, 10000).Draw(t, "y"),
		}
		ch := ChunkOf(c, size)
		if c.X < ch.X*size || c.X >= (ch.X+1)*size || c.Y < ch.Y*size || c.Y >= (ch.Y+1)*size {
			t.Fatalf("coordinate %v outside chunk %v (size %d)", c, ch, size)
		}
	})
}

// Property: normalization is idempotent and lower-case.
func TestPropertyNormalizeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[A-Za-z ]{0,30}`).Draw(t, "name")
		n := NormalizeBiomeName(name)
		if NormalizeBiomeName(n) != n {
			t.Fatalf("normalization not idempotent for %q", name)
		}
		if NormalizeBiomeName(name) != NormalizeBiomeName(strings.ToUpper(name)) {
			t.Fatalf("normalization is case-sensitive for %q", name)
		}
	})
}

// Package content defines the content generator consumed by the world engine
// and its implementations: an Anthropic-backed generator, an offline palette
// generator, and throttling and validation decorators.
package content

import (
	"context"
	"errors"

	"github.com/cory-johannsen/wildlands/internal/game/world"
)

// ErrThrottled is returned when the outbound generator budget is exhausted.
var ErrThrottled = errors.New("content generator throttled")

// ErrInvalidContent is returned when a generator response fails validation.
var ErrInvalidContent = errors.New("invalid generated content")

// BiomeRequest describes the chunk a new biome is being proposed for.
type BiomeRequest struct {
	Coordinate world.Coordinate
	Chunk      world.ChunkID
	// AdjacentBiomes lists display names of biomes already assigned to
	// neighbouring chunks so the proposal can fit in.
	AdjacentBiomes []string
	Seed           int64
}

// BiomeProposal is a generator's suggestion for a new biome. Name is display
// text; callers normalize it before using it as an identity key.
type BiomeProposal struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"required,max=2000"`
	Color       string `json:"color" validate:"required,hexcolor"`
}

// RoomContext carries everything the generator may use to describe a room.
type RoomContext struct {
	Coordinate world.Coordinate
	// Biome is nil when biome resolution failed; generators must still
	// produce usable content.
	Biome *world.Biome
	// NeighborTitles maps directions to titles of already generated neighbours.
	NeighborTitles map[world.Direction]string
	// Landmark requests the enhanced content reserved for a biome's landmark room.
	Landmark bool
	Seed     int64
}

// MonsterSpec is a generated monster before it is given an id.
type MonsterSpec struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=1000"`
	Aggressive  bool   `json:"aggressive"`
}

// RoomContent is the generated text for a room.
type RoomContent struct {
	Title       string        `json:"title" validate:"required,max=120"`
	Description string        `json:"description" validate:"required,max=4000"`
	ImagePrompt string        `json:"image_prompt" validate:"max=2000"`
	Monsters    []MonsterSpec `json:"monsters" validate:"max=4,dive"`
	Items       []string      `json:"items" validate:"max=8,dive,required,max=64"`
}

// Generator produces biome and room content. Implementations may be slow or
// fail; callers bound every call with a context deadline and never retry in a
// tight loop.
type Generator interface {
	// GenerateBiome proposes a new biome for the requested chunk.
	GenerateBiome(ctx context.Context, req BiomeRequest) (*BiomeProposal, error)
	// GenerateRoomDescription writes the title, description, and occupants of a room.
	GenerateRoomDescription(ctx context.Context, rc RoomContext) (*RoomContent, error)
}

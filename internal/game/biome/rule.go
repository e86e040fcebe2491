package biome

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/scripting"
)

// Rule decides whether an unassigned chunk joins a neighbouring biome.
//
// Implementations must be deterministic in (chunk, neighbours) so a world
// seed reproduces the same map.
type Rule interface {
	// Reuse returns the neighbour biome to reuse, or false to mint a new one.
	//
	// Precondition: neighbors is non-empty and ordered as ChunkID.Neighbors.
	Reuse(chunk world.ChunkID, neighbors []*world.Biome) (*world.Biome, bool)
}

// ProbabilityRule reuses a neighbouring biome with a fixed probability.
type ProbabilityRule struct {
	Seed        int64
	Probability float64
}

// Reuse implements Rule.
func (r ProbabilityRule) Reuse(chunk world.ChunkID, neighbors []*world.Biome) (*world.Biome, bool) {
	if world.Roll(r.Seed, "cluster", chunk.X, chunk.Y) >= r.Probability {
		return nil, false
	}
	return pickNeighbor(r.Seed, chunk, neighbors), true
}

// pickNeighbor chooses among distinct neighbour biomes, weighting each by the
// number of neighbouring chunks it occupies.
func pickNeighbor(seed int64, chunk world.ChunkID, neighbors []*world.Biome) *world.Biome {
	return neighbors[world.Pick(len(neighbors), seed, "cluster-pick", chunk.X, chunk.Y)]
}

// ShouldClusterHook is the Lua global consulted by ScriptedRule.
const ShouldClusterHook = "should_cluster"

// ScriptedRule lets a world-rules script decide clustering through
// should_cluster(cx, cy, neighbor_count, roll). A nil or missing result falls
// back to Fallback.
type ScriptedRule struct {
	Scripts  *scripting.Manager
	Fallback ProbabilityRule
}

// Reuse implements Rule.
func (r ScriptedRule) Reuse(chunk world.ChunkID, neighbors []*world.Biome) (*world.Biome, bool) {
	roll := world.Roll(r.Fallback.Seed, "cluster", chunk.X, chunk.Y)
	ret, _ := r.Scripts.CallHook(scripting.WorldRules, ShouldClusterHook,
		lua.LNumber(chunk.X), lua.LNumber(chunk.Y), lua.LNumber(len(neighbors)), lua.LNumber(roll))
	if ret == lua.LNil {
		return r.Fallback.Reuse(chunk, neighbors)
	}
	if !lua.LVAsBool(ret) {
		return nil, false
	}
	return pickNeighbor(r.Fallback.Seed, chunk, neighbors), true
}

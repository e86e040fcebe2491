package content

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/wildlands/internal/game/world"
)

// PaletteBiome is one biome entry of a palette file.
type PaletteBiome struct {
	Name         string           `yaml:"name"`
	Description  string           `yaml:"description"`
	Color        string           `yaml:"color"`
	Titles       []string         `yaml:"titles"`
	Descriptions []string         `yaml:"descriptions"`
	Landmarks    []string         `yaml:"landmarks"`
	Monsters     []PaletteMonster `yaml:"monsters"`
	Items        []string         `yaml:"items"`
}

// PaletteMonster is a monster template within a palette biome.
type PaletteMonster struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Aggressive  bool   `yaml:"aggressive"`
}

// Palette is the parsed content of a palette YAML file.
type Palette struct {
	// MonsterChance is the chance in [0,1] that a room receives one monster.
	MonsterChance float64 `yaml:"monster_chance"`
	// ItemChance is the chance in [0,1] that a room receives one item.
	ItemChance float64        `yaml:"item_chance"`
	Biomes     []PaletteBiome `yaml:"biomes"`
}

// LoadPalette reads and parses a palette YAML file.
//
// Precondition: path must name a readable YAML file.
// Postcondition: Returns a Palette with at least one biome, or a non-nil error.
func LoadPalette(path string) (*Palette, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading palette %s: %w", path, err)
	}
	return ParsePalette(data)
}

// ParsePalette parses palette YAML.
//
// Postcondition: Returns a Palette with at least one biome, or a non-nil error.
func ParsePalette(data []byte) (*Palette, error) {
	var p Palette
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing palette: %w", err)
	}
	if len(p.Biomes) == 0 {
		return nil, fmt.Errorf("palette defines no biomes")
	}
	for i, b := range p.Biomes {
		if b.Name == "" {
			return nil, fmt.Errorf("palette biome %d has no name", i)
		}
		if len(b.Titles) == 0 || len(b.Descriptions) == 0 {
			return nil, fmt.Errorf("palette biome %q needs titles and descriptions", b.Name)
		}
	}
	return &p, nil
}

// PaletteGenerator produces content offline from a Palette. Every choice is a
// deterministic function of the world seed and coordinate.
type PaletteGenerator struct {
	palette *Palette
	byName  map[string]*PaletteBiome
}

var _ Generator = (*PaletteGenerator)(nil)

// NewPaletteGenerator creates a generator over p.
//
// Precondition: p must be non-nil and contain at least one biome.
func NewPaletteGenerator(p *Palette) *PaletteGenerator {
	byName := make(map[string]*PaletteBiome, len(p.Biomes))
	for i := range p.Biomes {
		byName[world.NormalizeBiomeName(p.Biomes[i].Name)] = &p.Biomes[i]
	}
	return &PaletteGenerator{palette: p, byName: byName}
}

// GenerateBiome picks a palette biome for the chunk, preferring one that is
// not already adjacent.
func (g *PaletteGenerator) GenerateBiome(ctx context.Context, req BiomeRequest) (*BiomeProposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	adjacent := make(map[string]bool, len(req.AdjacentBiomes))
	for _, name := range req.AdjacentBiomes {
		adjacent[world.NormalizeBiomeName(name)] = true
	}
	candidates := make([]*PaletteBiome, 0, len(g.palette.Biomes))
	for i := range g.palette.Biomes {
		if !adjacent[world.NormalizeBiomeName(g.palette.Biomes[i].Name)] {
			candidates = append(candidates, &g.palette.Biomes[i])
		}
	}
	if len(candidates) == 0 {
		for i := range g.palette.Biomes {
			candidates = append(candidates, &g.palette.Biomes[i])
		}
	}
	b := candidates[world.Pick(len(candidates), req.Seed, "palette-biome", req.Chunk.X, req.Chunk.Y)]
	return &BiomeProposal{Name: b.Name, Description: b.Description, Color: b.Color}, nil
}

// GenerateRoomDescription assembles a room from the palette entry of its biome.
// Rooms without a biome, or with a biome the palette does not know, draw from
// the first palette entry.
func (g *PaletteGenerator) GenerateRoomDescription(ctx context.Context, rc RoomContext) (*RoomContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry := &g.palette.Biomes[0]
	if rc.Biome != nil {
		if b, ok := g.byName[rc.Biome.Name]; ok {
			entry = b
		}
	}
	x, y := rc.Coordinate.X, rc.Coordinate.Y

	title := entry.Titles[world.Pick(len(entry.Titles), rc.Seed, "palette-title", x, y)]
	desc := entry.Descriptions[world.Pick(len(entry.Descriptions), rc.Seed, "palette-desc", x, y)]
	if rc.Landmark && len(entry.Landmarks) > 0 {
		title = entry.Landmarks[world.Pick(len(entry.Landmarks), rc.Seed, "palette-landmark", x, y)]
	}

	out := &RoomContent{
		Title:       title,
		Description: desc,
		ImagePrompt: fmt.Sprintf("%s, %s", title, entry.Description),
		Monsters:    []MonsterSpec{},
		Items:       []string{},
	}
	if len(entry.Monsters) > 0 && world.Roll(rc.Seed, "palette-monster-roll", x, y) < g.palette.MonsterChance {
		m := entry.Monsters[world.Pick(len(entry.Monsters), rc.Seed, "palette-monster", x, y)]
		out.Monsters = append(out.Monsters, MonsterSpec(m))
	}
	if len(entry.Items) > 0 && world.Roll(rc.Seed, "palette-item-roll", x, y) < g.palette.ItemChance {
		out.Items = append(out.Items, entry.Items[world.Pick(len(entry.Items), rc.Seed, "palette-item", x, y)])
	}
	return out, nil
}

// Package biome assigns biomes to world chunks, clustering neighbouring
// chunks into shared territories, and tracks each biome's landmark room.
package biome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cory-johannsen/wildlands/internal/content"
	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage"
)

// ErrNoBiome reports that a chunk could not be given a biome. The chunk stays
// unassigned and resolution is retried on the next visit.
var ErrNoBiome = errors.New("no biome")

// Config tunes an Assigner.
type Config struct {
	ChunkSize int
	// Diagonals includes diagonal chunks as clustering candidates.
	Diagonals bool
	Seed      int64
	// Timeout bounds each generator call.
	Timeout time.Duration
}

// Assigner resolves chunk biomes. At most one resolution per chunk id is in
// flight at a time; unrelated chunks resolve concurrently.
type Assigner struct {
	store  storage.BiomeRecords
	gen    content.Generator
	rule   Rule
	cfg    Config
	logger *zap.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewAssigner creates an Assigner.
//
// Precondition: store, gen, rule, and logger must be non-nil; cfg.ChunkSize >= 1.
func NewAssigner(store storage.BiomeRecords, gen content.Generator, rule Rule, cfg Config, logger *zap.Logger) *Assigner {
	return &Assigner{
		store:  store,
		gen:    gen,
		rule:   rule,
		cfg:    cfg,
		logger: logger.Named("biome"),
		now:    time.Now,
	}
}

// ChunkSize returns the configured chunk side length.
func (a *Assigner) ChunkSize() int { return a.cfg.ChunkSize }

// ResolveAt resolves the biome of the chunk containing c.
func (a *Assigner) ResolveAt(ctx context.Context, c world.Coordinate) (*world.Biome, error) {
	return a.Resolve(ctx, world.ChunkOf(c, a.cfg.ChunkSize))
}

// Resolve returns the biome assigned to chunk, assigning one first if needed.
//
// Postcondition: On success the chunk is assigned and repeated calls return the
// same biome without consulting the generator. A generator failure returns an
// error wrapping ErrNoBiome and leaves the chunk unassigned.
func (a *Assigner) Resolve(ctx context.Context, chunk world.ChunkID) (*world.Biome, error) {
	v, err, _ := a.group.Do(chunk.String(), func() (interface{}, error) {
		// Waiters share this result, so one caller's cancellation must not fail the rest.
		return a.resolve(context.WithoutCancel(ctx), chunk)
	})
	if err != nil {
		return nil, err
	}
	b := *v.(*world.Biome)
	return &b, nil
}

func (a *Assigner) resolve(ctx context.Context, chunk world.ChunkID) (*world.Biome, error) {
	if b, ok, err := a.Lookup(ctx, chunk); err != nil || ok {
		return b, err
	}

	neighbors, err := a.neighborBiomes(ctx, chunk)
	if err != nil {
		return nil, err
	}
	if len(neighbors) > 0 {
		if b, ok := a.rule.Reuse(chunk, neighbors); ok {
			a.logger.Debug("chunk joins neighbouring biome",
				zap.Stringer("chunk", chunk),
				zap.String("biome", b.Name),
			)
			return a.assign(ctx, chunk, b)
		}
	}

	b, err := a.mint(ctx, chunk, neighbors)
	if err != nil {
		return nil, err
	}
	return a.assign(ctx, chunk, b)
}

// Lookup returns the biome already assigned to chunk without assigning one.
//
// Postcondition: Returns (nil, false, nil) for an unassigned chunk.
func (a *Assigner) Lookup(ctx context.Context, chunk world.ChunkID) (*world.Biome, bool, error) {
	name, err := a.store.ChunkBiome(ctx, chunk)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("looking up chunk %s: %w", chunk, err)
	}
	b, err := a.store.GetBiome(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("loading biome %q for chunk %s: %w", name, chunk, err)
	}
	return b, true, nil
}

// neighborBiomes returns one entry per assigned neighbouring chunk, so a
// biome bordering on several sides appears several times.
func (a *Assigner) neighborBiomes(ctx context.Context, chunk world.ChunkID) ([]*world.Biome, error) {
	var out []*world.Biome
	for _, n := range chunk.Neighbors(a.cfg.Diagonals) {
		b, ok, err := a.Lookup(ctx, n)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// mint asks the generator for a new biome and stores it under its canonical
// name, merging with any existing record of the same name.
func (a *Assigner) mint(ctx context.Context, chunk world.ChunkID, neighbors []*world.Biome) (*world.Biome, error) {
	adjacent := make([]string, 0, len(neighbors))
	seen := make(map[string]bool, len(neighbors))
	for _, n := range neighbors {
		if !seen[n.Name] {
			seen[n.Name] = true
			adjacent = append(adjacent, n.DisplayName)
		}
	}

	gctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	proposal, err := a.gen.GenerateBiome(gctx, content.BiomeRequest{
		Coordinate:     world.Coordinate{X: chunk.X * a.cfg.ChunkSize, Y: chunk.Y * a.cfg.ChunkSize},
		Chunk:          chunk,
		AdjacentBiomes: adjacent,
		Seed:           a.cfg.Seed,
	})
	if err != nil {
		a.logger.Warn("biome generation failed", zap.Stringer("chunk", chunk), zap.Error(err))
		return nil, fmt.Errorf("%w: chunk %s: %v", ErrNoBiome, chunk, err)
	}

	name := world.NormalizeBiomeName(proposal.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: chunk %s: generator proposed an empty name", ErrNoBiome, chunk)
	}
	stored, created, err := a.store.InsertBiomeIfAbsent(ctx, &world.Biome{
		Name:        name,
		DisplayName: strings.Join(strings.Fields(proposal.Name), " "),
		Description: proposal.Description,
		Color:       proposal.Color,
		CreatedAt:   a.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("storing biome %q: %w", name, err)
	}
	if created {
		a.logger.Info("biome created", zap.String("biome", name), zap.Stringer("chunk", chunk))
	} else {
		a.logger.Debug("biome proposal merged with existing record", zap.String("biome", name))
	}
	return stored, nil
}

// assign records b for chunk. A concurrent writer that assigned first wins.
func (a *Assigner) assign(ctx context.Context, chunk world.ChunkID, b *world.Biome) (*world.Biome, error) {
	winner, err := a.store.AssignChunkBiome(ctx, chunk, b.Name)
	if err != nil {
		return nil, fmt.Errorf("assigning chunk %s: %w", chunk, err)
	}
	if winner == b.Name {
		return b, nil
	}
	stored, err := a.store.GetBiome(ctx, winner)
	if err != nil {
		return nil, fmt.Errorf("loading winning biome %q: %w", winner, err)
	}
	return stored, nil
}

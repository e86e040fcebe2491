// Package generation builds rooms on demand, tracks per-room generation
// status, and preloads neighbouring rooms in the background.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cory-johannsen/wildlands/internal/content"
	"github.com/cory-johannsen/wildlands/internal/game/biome"
	"github.com/cory-johannsen/wildlands/internal/game/room"
	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage"
)

// ErrGenerationFailed reports that the content generator failed or timed out.
// No room was created; calling EnsureRoom again retries from scratch.
var ErrGenerationFailed = errors.New("room generation failed")

// StatusKeyPrefix prefixes generation status keys in the ephemeral store.
const StatusKeyPrefix = "genstatus:"

// Config tunes a Pipeline.
type Config struct {
	Seed      int64
	ChunkSize int
	// Timeout bounds each room content generator call.
	Timeout time.Duration
	// PreloadWorkers bounds concurrent background builds.
	PreloadWorkers int
	// LandmarkChance is the probability that a room in a biome without a
	// landmark claims the landmark slot.
	LandmarkChance float64
}

// Pipeline materializes rooms. Builds for the same coordinate collapse to a
// single in-flight attempt; different coordinates build concurrently.
type Pipeline struct {
	rooms  *room.Store
	biomes *biome.Assigner
	gen    content.Generator
	status storage.Ephemeral
	cfg    Config
	logger *zap.Logger

	group    singleflight.Group
	inflight sync.Map // coordinate key → struct{}
	sem      chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// epoch is read-held by every build and write-held by Reset.
	epoch sync.RWMutex

	newID func() string
	now   func() time.Time
}

// New creates a Pipeline.
//
// Precondition: all collaborators must be non-nil; cfg.PreloadWorkers >= 1.
// Postcondition: The pipeline accepts work until Close is called.
func New(rooms *room.Store, biomes *biome.Assigner, gen content.Generator, status storage.Ephemeral, cfg Config, logger *zap.Logger) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	workers := cfg.PreloadWorkers
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		rooms:  rooms,
		biomes: biomes,
		gen:    gen,
		status: status,
		cfg:    cfg,
		logger: logger.Named("pipeline"),
		sem:    make(chan struct{}, workers),
		ctx:    ctx,
		cancel: cancel,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// EnsureRoom returns the room at c, generating it first if it does not exist.
//
// Postcondition: An existing room is returned without calling the generator.
// Concurrent callers for the same coordinate share one build. On generator
// failure the error wraps ErrGenerationFailed and c stays undiscovered. If ctx
// ends first, the caller stops waiting but the build continues for other waiters.
func (p *Pipeline) EnsureRoom(ctx context.Context, c world.Coordinate) (*world.Room, error) {
	if r, err := p.rooms.Room(ctx, c); err != nil || r != nil {
		return r, err
	}

	ch := p.group.DoChan(c.Key(), func() (interface{}, error) {
		return p.build(p.buildContext(), c)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*world.Room).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipeline) build(ctx context.Context, c world.Coordinate) (*world.Room, error) {
	p.epoch.RLock()
	defer p.epoch.RUnlock()

	key := c.Key()
	p.inflight.Store(key, struct{}{})
	defer p.inflight.Delete(key)

	// Another flight may have finished between the caller's check and ours.
	if r, err := p.rooms.Room(ctx, c); err != nil || r != nil {
		return r, err
	}

	roomID := world.RoomID(c)
	log := p.logger.With(zap.String("room_id", roomID))
	start := p.now()
	p.setStatus(ctx, roomID, world.StatusGenerating)

	r, err := p.construct(ctx, c, log)
	if err != nil {
		p.setStatus(ctx, roomID, world.StatusFailed)
		log.Warn("room generation failed", zap.Error(err), zap.Duration("elapsed", p.now().Sub(start)))
		return nil, err
	}
	p.setStatus(ctx, roomID, world.StatusReady)
	log.Info("room generated",
		zap.String("biome", r.BiomeName),
		zap.Bool("landmark", r.Landmark),
		zap.Duration("elapsed", p.now().Sub(start)),
	)
	return r, nil
}

func (p *Pipeline) construct(ctx context.Context, c world.Coordinate, log *zap.Logger) (*world.Room, error) {
	b, err := p.biomes.ResolveAt(ctx, c)
	switch {
	case errors.Is(err, biome.ErrNoBiome):
		// Movement never waits on biome assignment; the chunk retries next visit.
		log.Warn("building room without biome", zap.Error(err))
		b = nil
	case err != nil:
		return nil, fmt.Errorf("resolving biome for %s: %w", c, err)
	}

	candidate := b != nil && b.LandmarkRoomID == "" &&
		world.Roll(p.cfg.Seed, "landmark", c.X, c.Y) < p.cfg.LandmarkChance

	titles, err := p.neighborTitles(ctx, c)
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	rc, err := p.gen.GenerateRoomDescription(gctx, content.RoomContext{
		Coordinate:     c,
		Biome:          b,
		NeighborTitles: titles,
		Landmark:       candidate,
		Seed:           p.cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrGenerationFailed, c, err)
	}

	r := world.NewGridRoom(c, p.cfg.ChunkSize, p.now())
	r.Title = rc.Title
	r.Description = rc.Description
	r.ImagePrompt = rc.ImagePrompt
	r.Items = append(r.Items, rc.Items...)
	for _, m := range rc.Monsters {
		r.Monsters = append(r.Monsters, world.Monster{
			ID:          p.newID(),
			Name:        m.Name,
			Description: m.Description,
			Aggressive:  m.Aggressive,
		})
	}
	if b != nil {
		r.BiomeName = b.Name
	}
	if err := p.rooms.SetRoom(ctx, r); err != nil {
		return nil, err
	}
	if candidate {
		return p.claimLandmark(ctx, r, log), nil
	}
	return r, nil
}

// claimLandmark makes the stored room r its biome's landmark if the slot is
// still free. The claim only ever names a room that exists; a failed claim
// leaves r an ordinary room.
func (p *Pipeline) claimLandmark(ctx context.Context, r *world.Room, log *zap.Logger) *world.Room {
	claimed, err := p.biomes.ClaimLandmarkRoom(ctx, r.BiomeName, r.ID)
	if err != nil {
		log.Warn("claiming landmark", zap.Error(err))
		return r
	}
	if !claimed {
		return r
	}
	updated, err := p.rooms.UpdateRoom(ctx, r.ID, func(room *world.Room) error {
		room.Landmark = true
		return nil
	})
	if err != nil {
		log.Warn("flagging landmark room", zap.Error(err))
		return r
	}
	return updated
}

func (p *Pipeline) neighborTitles(ctx context.Context, c world.Coordinate) (map[world.Direction]string, error) {
	out := make(map[world.Direction]string)
	for _, d := range world.CardinalDirections {
		n, err := p.rooms.Room(ctx, c.Neighbor(d))
		if err != nil {
			return nil, err
		}
		if n != nil {
			out[d] = n.Title
		}
	}
	return out, nil
}

// PreloadAdjacent starts background builds for the orthogonal neighbours of c
// that do not exist yet. It returns immediately; failures are logged only.
//
// Postcondition: Neighbours already present or already building are skipped.
func (p *Pipeline) PreloadAdjacent(c world.Coordinate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for _, d := range world.CardinalDirections {
		n := c.Neighbor(d)
		if _, busy := p.inflight.Load(n.Key()); busy {
			continue
		}
		p.wg.Add(1)
		go p.preload(n)
	}
}

func (p *Pipeline) preload(c world.Coordinate) {
	defer p.wg.Done()
	ctx := p.buildContext()
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-p.sem }()

	if _, busy := p.inflight.Load(c.Key()); busy {
		return
	}
	if _, err := p.EnsureRoom(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("preload failed", zap.Stringer("coordinate", c), zap.Error(err))
	}
}

// GetGenerationStatus reports the lifecycle state of roomID.
//
// Postcondition: READY iff the room is queryable through the room store;
// GENERATING iff a build for it is in flight and not yet visible.
func (p *Pipeline) GetGenerationStatus(ctx context.Context, roomID string) (world.GenerationStatus, error) {
	c, ok := world.CoordinateFromRoomID(roomID)
	if !ok {
		return world.StatusNotStarted, fmt.Errorf("room id %q: %w", roomID, storage.ErrNotFound)
	}
	if _, exists, err := p.rooms.GetRoomAt(ctx, c); err != nil {
		return world.StatusNotStarted, err
	} else if exists {
		return world.StatusReady, nil
	}

	raw, err := p.status.Get(ctx, StatusKeyPrefix+roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return world.StatusNotStarted, nil
	}
	if err != nil {
		return world.StatusNotStarted, fmt.Errorf("reading status of %q: %w", roomID, err)
	}
	status, _ := world.ParseGenerationStatus(raw)
	switch status {
	case world.StatusGenerating:
		if _, busy := p.inflight.Load(c.Key()); busy {
			return world.StatusGenerating, nil
		}
		// Left behind by a build that never finished.
		return world.StatusNotStarted, nil
	case world.StatusFailed:
		return world.StatusFailed, nil
	default:
		// READY without a room: the world was reset underneath the flag.
		return world.StatusNotStarted, nil
	}
}

// NeighborStatuses returns the generation status of each orthogonal neighbour of c.
func (p *Pipeline) NeighborStatuses(ctx context.Context, c world.Coordinate) (map[world.Direction]world.GenerationStatus, error) {
	out := make(map[world.Direction]world.GenerationStatus, len(world.CardinalDirections))
	for _, d := range world.CardinalDirections {
		s, err := p.GetGenerationStatus(ctx, world.RoomID(c.Neighbor(d)))
		if err != nil {
			return nil, err
		}
		out[d] = s
	}
	return out, nil
}

// ClearStatuses removes every generation status flag.
func (p *Pipeline) ClearStatuses(ctx context.Context) error {
	n, err := p.status.DeletePrefix(ctx, StatusKeyPrefix)
	if err != nil {
		return fmt.Errorf("clearing generation statuses: %w", err)
	}
	p.logger.Debug("generation statuses cleared", zap.Int("count", n))
	return nil
}

// Reset cancels every in-flight build, waits for all of them to exit, then
// runs wipe and clears the generation status flags while no build can run.
// Builds requested during Reset start only after it returns.
//
// Postcondition: No room, biome, or landmark write from a build started
// before Reset lands after wipe.
func (p *Pipeline) Reset(ctx context.Context, wipe func(context.Context) error) error {
	p.mu.Lock()
	p.cancel()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	p.epoch.Lock()
	defer p.epoch.Unlock()
	if err := wipe(ctx); err != nil {
		return err
	}
	return p.ClearStatuses(ctx)
}

// Wait blocks until every preload started so far has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close stops accepting preloads, cancels in-flight builds, and waits for
// background work to exit.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pipeline) buildContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

func (p *Pipeline) setStatus(ctx context.Context, roomID string, s world.GenerationStatus) {
	if err := p.status.Set(ctx, StatusKeyPrefix+roomID, s.String()); err != nil {
		p.logger.Warn("recording generation status", zap.String("room_id", roomID), zap.Stringer("status", s), zap.Error(err))
	}
}

package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/wildlands/internal/content"
	"github.com/cory-johannsen/wildlands/internal/content/contenttest"
	"github.com/cory-johannsen/wildlands/internal/game/biome"
	"github.com/cory-johannsen/wildlands/internal/game/room"
	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage"
	"github.com/cory-johannsen/wildlands/internal/storage/memory"
)

type fixture struct {
	pipeline *Pipeline
	rooms    *room.Store
	biomes   *biome.Assigner
	gen      *contenttest.Fake
	eph      *memory.Ephemeral
	db       *memory.Durable
}

func newFixture(t *testing.T, gen *contenttest.Fake, cfg Config) *fixture {
	t.Helper()
	return newFixtureWith(t, memory.NewDurable(), nil, gen, cfg)
}

// newFixtureWith builds rooms on records, which defaults to db.
func newFixtureWith(t *testing.T, db *memory.Durable, records storage.RoomRecords, gen *contenttest.Fake, cfg Config) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	eph := memory.NewEphemeral()
	if records == nil {
		records = db
	}
	rooms := room.NewStore(records, logger)
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 4
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.PreloadWorkers == 0 {
		cfg.PreloadWorkers = 2
	}
	biomes := biome.NewAssigner(db, gen, biome.ProbabilityRule{Seed: cfg.Seed, Probability: 0.5},
		biome.Config{ChunkSize: cfg.ChunkSize, Seed: cfg.Seed, Timeout: cfg.Timeout}, logger)
	p := New(rooms, biomes, gen, eph, cfg, logger)
	t.Cleanup(p.Close)
	return &fixture{pipeline: p, rooms: rooms, biomes: biomes, gen: gen, eph: eph, db: db}
}

func TestEnsureRoom_GeneratesOnceThenFastPath(t *testing.T) {
	gen := &contenttest.Fake{Monsters: []content.MonsterSpec{{Name: "Wolf", Aggressive: true}}}
	f := newFixture(t, gen, Config{})
	ctx := context.Background()
	c := world.Coordinate{X: 2, Y: -3}

	r, err := f.pipeline.EnsureRoom(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "room_2_-3", r.ID)
	assert.Equal(t, "Room at 2,-3", r.Title)
	assert.NotEmpty(t, r.BiomeName)
	require.Len(t, r.Monsters, 1)
	assert.NotEmpty(t, r.Monsters[0].ID)
	assert.Equal(t, 1, gen.RoomCalls())

	again, err := f.pipeline.EnsureRoom(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, r.ID, again.ID)
	assert.Equal(t, r.Monsters[0].ID, again.Monsters[0].ID)
	assert.Equal(t, 1, gen.RoomCalls())

	discovered, err := f.rooms.IsDiscovered(ctx, c)
	require.NoError(t, err)
	assert.True(t, discovered)

	status, err := f.pipeline.GetGenerationStatus(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, world.StatusReady, status)
}

func TestEnsureRoom_ConcurrentCallersShareOneBuild(t *testing.T) {
	gate := make(chan struct{})
	gen := &contenttest.Fake{Gate: gate, Started: make(chan struct{}, 16)}
	f := newFixture(t, gen, Config{})
	ctx := context.Background()
	c := world.Coordinate{X: 5, Y: 5}

	const callers = 8
	var wg sync.WaitGroup
	ids := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.pipeline.EnsureRoom(ctx, c)
			errs[i] = err
			if r != nil {
				ids[i] = r.ID
			}
		}(i)
	}

	<-gen.Started
	status, err := f.pipeline.GetGenerationStatus(ctx, world.RoomID(c))
	require.NoError(t, err)
	assert.Equal(t, world.StatusGenerating, status)

	close(gate)
	wg.Wait()
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "room_5_5", ids[i])
	}
	assert.Equal(t, 1, gen.RoomCalls())
}

func TestEnsureRoom_FailureLeavesCoordinateUndiscovered(t *testing.T) {
	gen := &contenttest.Fake{RoomErr: errors.New("model overloaded")}
	f := newFixture(t, gen, Config{})
	ctx := context.Background()
	c := world.Coordinate{X: 1, Y: 1}

	_, err := f.pipeline.EnsureRoom(ctx, c)
	require.ErrorIs(t, err, ErrGenerationFailed)

	discovered, err := f.rooms.IsDiscovered(ctx, c)
	require.NoError(t, err)
	assert.False(t, discovered)

	status, err := f.pipeline.GetGenerationStatus(ctx, world.RoomID(c))
	require.NoError(t, err)
	assert.Equal(t, world.StatusFailed, status)

	gen.SetRoomErr(nil)
	r, err := f.pipeline.EnsureRoom(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "room_1_1", r.ID)
	assert.Equal(t, 2, gen.RoomCalls())
}

func TestEnsureRoom_TimeoutFails(t *testing.T) {
	gen := &contenttest.Fake{Gate: make(chan struct{})}
	f := newFixture(t, gen, Config{Timeout: 20 * time.Millisecond})

	_, err := f.pipeline.EnsureRoom(context.Background(), world.Coordinate{})
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnsureRoom_CallerCancellationDoesNotAbortBuild(t *testing.T) {
	gate := make(chan struct{})
	gen := &contenttest.Fake{Gate: gate, Started: make(chan struct{}, 1)}
	f := newFixture(t, gen, Config{})
	c := world.Coordinate{X: -1, Y: 0}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.EnsureRoom(ctx, c)
		done <- err
	}()
	<-gen.Started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(gate)
	require.Eventually(t, func() bool {
		ok, err := f.rooms.IsDiscovered(context.Background(), c)
		return err == nil && ok
	}, time.Second, 5*time.Millisecond)
}

func TestEnsureRoom_BiomeFailureStillBuildsRoom(t *testing.T) {
	gen := &contenttest.Fake{BiomeErr: errors.New("no ideas")}
	f := newFixture(t, gen, Config{})

	r, err := f.pipeline.EnsureRoom(context.Background(), world.Coordinate{X: 9, Y: 9})
	require.NoError(t, err)
	assert.Empty(t, r.BiomeName)

	gen.SetBiomeErr(nil)
	next, err := f.pipeline.EnsureRoom(context.Background(), world.Coordinate{X: 9, Y: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, next.BiomeName)
}

func TestEnsureRoom_LandmarkClaimedOncePerBiome(t *testing.T) {
	gen := &contenttest.Fake{BiomeNames: []string{"Crimson Mire"}}
	f := newFixture(t, gen, Config{LandmarkChance: 1, ChunkSize: 8})
	ctx := context.Background()

	var landmarks []string
	for x := 0; x < 3; x++ {
		r, err := f.pipeline.EnsureRoom(ctx, world.Coordinate{X: x})
		require.NoError(t, err)
		if r.Landmark {
			landmarks = append(landmarks, r.ID)
			assert.Contains(t, r.Title, "Landmark")
		}
	}
	require.Len(t, landmarks, 1)

	id, ok, err := f.biomes.GetLandmarkRoom(ctx, "crimson mire")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, landmarks[0], id)
}

// failingPuts rejects every room write.
type failingPuts struct {
	*memory.Durable
}

func (failingPuts) PutRoom(context.Context, *world.Room) error {
	return errors.New("disk full")
}

func TestEnsureRoom_FailedWriteLeavesLandmarkUnclaimed(t *testing.T) {
	gen := &contenttest.Fake{BiomeNames: []string{"Crimson Mire"}}
	db := memory.NewDurable()
	broken := newFixtureWith(t, db, failingPuts{db}, gen, Config{LandmarkChance: 1, ChunkSize: 8})
	ctx := context.Background()

	_, err := broken.pipeline.EnsureRoom(ctx, world.Coordinate{X: 1, Y: 1})
	require.Error(t, err)
	_, ok, err := broken.biomes.GetLandmarkRoom(ctx, "crimson mire")
	require.NoError(t, err)
	assert.False(t, ok)

	// Once writes succeed, the next room in the biome takes the slot.
	healthy := newFixtureWith(t, db, nil, gen, Config{LandmarkChance: 1, ChunkSize: 8})
	r, err := healthy.pipeline.EnsureRoom(ctx, world.Coordinate{X: 2, Y: 1})
	require.NoError(t, err)
	assert.True(t, r.Landmark)
	stored, err := healthy.rooms.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, stored.Landmark)
	id, ok, err := healthy.biomes.GetLandmarkRoom(ctx, "crimson mire")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r.ID, id)
}

func TestReset_DrainsBuildsBeforeWipe(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	gen := &contenttest.Fake{Gate: gate, Started: make(chan struct{}, 1)}
	f := newFixture(t, gen, Config{})
	ctx := context.Background()
	c := world.Coordinate{X: 9, Y: 9}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := f.pipeline.EnsureRoom(waitCtx, c)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	<-gen.Started

	wiped := false
	require.NoError(t, f.pipeline.Reset(ctx, func(ctx context.Context) error {
		wiped = true
		return f.db.Reset(ctx)
	}))
	assert.True(t, wiped)

	discovered, err := f.rooms.IsDiscovered(ctx, c)
	require.NoError(t, err)
	assert.False(t, discovered)
	biomes, err := f.db.ListBiomes(ctx)
	require.NoError(t, err)
	assert.Empty(t, biomes)
	_, err = f.db.ChunkBiome(ctx, world.ChunkOf(c, 4))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	keys, err := f.eph.Keys(ctx, StatusKeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPreloadAdjacent_BuildsNeighbours(t *testing.T) {
	gen := &contenttest.Fake{}
	f := newFixture(t, gen, Config{})
	ctx := context.Background()

	_, err := f.pipeline.EnsureRoom(ctx, world.Coordinate{})
	require.NoError(t, err)
	f.pipeline.PreloadAdjacent(world.Coordinate{})
	f.pipeline.Wait()

	statuses, err := f.pipeline.NeighborStatuses(ctx, world.Coordinate{})
	require.NoError(t, err)
	require.Len(t, statuses, 4)
	for d, s := range statuses {
		assert.Equal(t, world.StatusReady, s, "neighbour %s", d)
	}
	assert.Equal(t, 5, gen.RoomCalls())

	f.pipeline.PreloadAdjacent(world.Coordinate{})
	f.pipeline.Wait()
	assert.Equal(t, 5, gen.RoomCalls())
}

func TestPreloadAdjacent_FailuresAreSilent(t *testing.T) {
	gen := &contenttest.Fake{RoomErr: errors.New("down")}
	f := newFixture(t, gen, Config{})

	f.pipeline.PreloadAdjacent(world.Coordinate{})
	f.pipeline.Wait()

	status, err := f.pipeline.GetGenerationStatus(context.Background(), "room_0_1")
	require.NoError(t, err)
	assert.Equal(t, world.StatusFailed, status)
}

func TestPreloadAdjacent_NoopAfterClose(t *testing.T) {
	gen := &contenttest.Fake{}
	f := newFixture(t, gen, Config{})
	f.pipeline.Close()

	f.pipeline.PreloadAdjacent(world.Coordinate{})
	f.pipeline.Wait()
	assert.Zero(t, gen.RoomCalls())
}

func TestGetGenerationStatus_StaleFlags(t *testing.T) {
	f := newFixture(t, &contenttest.Fake{}, Config{})
	ctx := context.Background()

	status, err := f.pipeline.GetGenerationStatus(ctx, "room_4_4")
	require.NoError(t, err)
	assert.Equal(t, world.StatusNotStarted, status)

	require.NoError(t, f.eph.Set(ctx, StatusKeyPrefix+"room_4_4", world.StatusGenerating.String()))
	status, err = f.pipeline.GetGenerationStatus(ctx, "room_4_4")
	require.NoError(t, err)
	assert.Equal(t, world.StatusNotStarted, status, "no build in flight")

	require.NoError(t, f.eph.Set(ctx, StatusKeyPrefix+"room_4_4", world.StatusReady.String()))
	status, err = f.pipeline.GetGenerationStatus(ctx, "room_4_4")
	require.NoError(t, err)
	assert.Equal(t, world.StatusNotStarted, status, "room missing")

	_, err = f.pipeline.GetGenerationStatus(ctx, "not-a-room")
	assert.Error(t, err)
}

func TestClearStatuses(t *testing.T) {
	gen := &contenttest.Fake{RoomErr: errors.New("down")}
	f := newFixture(t, gen, Config{})
	ctx := context.Background()

	_, err := f.pipeline.EnsureRoom(ctx, world.Coordinate{})
	require.Error(t, err)
	require.NoError(t, f.pipeline.ClearStatuses(ctx))

	status, err := f.pipeline.GetGenerationStatus(ctx, "room_0_0")
	require.NoError(t, err)
	assert.Equal(t, world.StatusNotStarted, status)
}

// Property: EnsureRoom returns the room whose id is derived from the
// requested coordinate, and the generator runs once per distinct coordinate.
func TestPropertyOneBuildPerCoordinate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		gen := &contenttest.Fake{}
		f := newFixture(t, gen, Config{Seed: rapid.Int64().Draw(rt, "seed")})
		defer f.pipeline.Close()
		ctx := context.Background()

		coords := rapid.SliceOfN(rapid.Custom(func(rt *rapid.T) world.Coordinate {
			return world.Coordinate{X: rapid.IntRange(-4, 4).Draw(rt, "x"), Y: rapid.IntRange(-4, 4).Draw(rt, "y")}
		}), 1, 20).Draw(rt, "coords")

		distinct := make(map[string]bool)
		for _, c := range coords {
			r, err := f.pipeline.EnsureRoom(ctx, c)
			if err != nil {
				rt.Fatalf("EnsureRoom(%s): %v", c, err)
			}
			if r.ID != world.RoomID(c) {
				rt.Fatalf("got %s for %s", r.ID, c)
			}
			distinct[c.Key()] = true
		}
		if gen.RoomCalls() != len(distinct) {
			rt.Fatalf("generator ran %d times for %d coordinates", gen.RoomCalls(), len(distinct))
		}
	})
}

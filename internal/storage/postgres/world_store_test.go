package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage"
	"github.com/cory-johannsen/wildlands/internal/storage/postgres"
	"github.com/cory-johannsen/wildlands/internal/testutil"
)

func setupWorldStore(t *testing.T) *postgres.WorldStore {
	t.Helper()
	return postgres.NewWorldStore(testutil.NewPool(t).DB())
}

func TestPool_ProbeAnswersUntilClosed(t *testing.T) {
	pool := testutil.NewPool(t)
	require.NoError(t, pool.Probe(context.Background()))

	pool.Close()
	assert.Error(t, pool.Probe(context.Background()))
}

func TestWorldStore_PutRoomRoundTrip(t *testing.T) {
	s := setupWorldStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	r := world.NewGridRoom(world.Coordinate{X: -3, Y: 5}, 4, now)
	r.Title = "Salt Flats"
	r.Monsters = []world.Monster{{ID: "m1", Name: "Dune Wolf", Aggressive: true}}
	require.NoError(t, s.PutRoom(ctx, r))

	got, err := s.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Salt Flats", got.Title)
	assert.Equal(t, world.Coordinate{X: -3, Y: 5}, *got.Position)
	assert.Equal(t, world.ChunkID{X: -1, Y: 1}, got.Chunk)
	require.Len(t, got.Monsters, 1)
	assert.True(t, got.Monsters[0].Aggressive)

	id, err := s.RoomIDAt(ctx, *r.Position)
	require.NoError(t, err)
	assert.Equal(t, r.ID, id)
	id, err = s.LedgerEntry(ctx, *r.Position)
	require.NoError(t, err)
	assert.Equal(t, r.ID, id)

	ledger, err := s.Ledger(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"-3,5": r.ID}, ledger)
}

func TestWorldStore_GetRoomNotFound(t *testing.T) {
	s := setupWorldStore(t)
	_, err := s.GetRoom(context.Background(), "room_9_9")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.LedgerEntry(context.Background(), world.Coordinate{X: 9, Y: 9})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWorldStore_IndexEntries(t *testing.T) {
	s := setupWorldStore(t)
	ctx := context.Background()
	c := world.Coordinate{X: 1, Y: 1}

	require.NoError(t, s.PutIndexEntry(ctx, c, "room_1_1"))
	idx, err := s.CoordinateIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, "room_1_1", idx["1,1"])

	require.NoError(t, s.DeleteIndexEntry(ctx, c))
	_, err = s.RoomIDAt(ctx, c)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.LedgerEntry(ctx, c)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWorldStore_SnapshotReadsAllThree(t *testing.T) {
	s := setupWorldStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutRoom(ctx, world.NewGridRoom(world.Coordinate{X: 2, Y: 3}, 4, time.Now())))
	require.NoError(t, s.PutIndexEntry(ctx, world.Coordinate{X: 7, Y: 7}, "room_7_7"))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Rooms, 1)
	assert.Equal(t, "room_2_3", snap.Rooms[0].ID)
	want := map[world.Coordinate]string{{X: 2, Y: 3}: "room_2_3", {X: 7, Y: 7}: "room_7_7"}
	assert.Equal(t, want, snap.Index)
	assert.Equal(t, want, snap.Ledger)
}

func TestWorldStore_BiomesAndChunks(t *testing.T) {
	s := setupWorldStore(t)
	ctx := context.Background()

	b, created, err := s.InsertBiomeIfAbsent(ctx, &world.Biome{
		Name: "crimson mire", DisplayName: "Crimson Mire", Color: "#8B0000", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Crimson Mire", b.DisplayName)

	b, created, err = s.InsertBiomeIfAbsent(ctx, &world.Biome{Name: "crimson mire", DisplayName: "CRIMSON MIRE"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Crimson Mire", b.DisplayName)

	winner, err := s.AssignChunkBiome(ctx, world.ChunkID{X: 0, Y: 0}, "crimson mire")
	require.NoError(t, err)
	assert.Equal(t, "crimson mire", winner)

	_, err = s.AssignChunkBiome(ctx, world.ChunkID{X: 1, Y: 0}, "no such biome")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ok, err := s.ClaimLandmark(ctx, "crimson mire", "room_0_0")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ClaimLandmark(ctx, "crimson mire", "room_1_0")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetBiome(ctx, "crimson mire")
	require.NoError(t, err)
	assert.Equal(t, "room_0_0", got.LandmarkRoomID)

	all, err := s.ListBiomes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWorldStore_ConcurrentChunkAssignmentHasOneWinner(t *testing.T) {
	s := setupWorldStore(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d"} {
		_, _, err := s.InsertBiomeIfAbsent(ctx, &world.Biome{Name: name, DisplayName: name})
		require.NoError(t, err)
	}

	chunk := world.ChunkID{X: 2, Y: 2}
	results := make([]string, 4)
	var wg sync.WaitGroup
	for i, name := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			got, err := s.AssignChunkBiome(ctx, chunk, name)
			assert.NoError(t, err)
			results[i] = got
		}(i, name)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestWorldStore_Reset(t *testing.T) {
	s := setupWorldStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutRoom(ctx, world.NewGridRoom(world.Coordinate{}, 4, time.Now())))
	_, _, err := s.InsertBiomeIfAbsent(ctx, &world.Biome{Name: "a", DisplayName: "A"})
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	rooms, err := s.ListRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
	ledger, err := s.Ledger(ctx)
	require.NoError(t, err)
	assert.Empty(t, ledger)
	_, err = s.GetBiome(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// Property: every stored grid room is discoverable at its own coordinate.
func TestPropertyPutRoomPopulatesLedger(t *testing.T) {
	s := setupWorldStore(t)
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		c := world.Coordinate{
			X: rapid.IntRange(-500, 500).Draw(rt, "x"),
			Y: rapid.IntRange(-500, 500).Draw(rt, "y"),
		}
		r := world.NewGridRoom(c, 4, time.Now())
		if err := s.PutRoom(ctx, r); err != nil {
			rt.Fatalf("PutRoom: %v", err)
		}
		id, err := s.LedgerEntry(ctx, c)
		if err != nil || id != r.ID {
			rt.Fatalf("ledger at %s = %q, %v; want %q", c, id, err, r.ID)
		}
	})
}

package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/wildlands/internal/content/contenttest"
	"github.com/cory-johannsen/wildlands/internal/game/biome"
	"github.com/cory-johannsen/wildlands/internal/game/combat"
	"github.com/cory-johannsen/wildlands/internal/game/command"
	"github.com/cory-johannsen/wildlands/internal/game/encounter"
	"github.com/cory-johannsen/wildlands/internal/game/engine"
	"github.com/cory-johannsen/wildlands/internal/game/generation"
	"github.com/cory-johannsen/wildlands/internal/game/ratelimit"
	"github.com/cory-johannsen/wildlands/internal/game/room"
	"github.com/cory-johannsen/wildlands/internal/game/session"
	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage/memory"
)

type fixture struct {
	engine   *engine.Engine
	gen      *contenttest.Fake
	durable  *memory.Durable
	rooms    *room.Store
	pipeline *generation.Pipeline
	gate     *encounter.Gate
	combat   *combat.Engine
	sessions *session.Manager
}

func newFixture(t *testing.T, cfg engine.Config) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	gen := &contenttest.Fake{}
	durable := memory.NewDurable()
	eph := memory.NewEphemeral()

	rooms := room.NewStore(durable, logger)
	biomes := biome.NewAssigner(durable, gen, biome.ProbabilityRule{Seed: 3, Probability: 0.6},
		biome.Config{ChunkSize: 4, Seed: 3, Timeout: time.Second}, logger)
	pipeline := generation.New(rooms, biomes, gen, eph,
		generation.Config{Seed: 3, ChunkSize: 4, Timeout: time.Second, PreloadWorkers: 4}, logger)
	t.Cleanup(pipeline.Close)
	combatEngine := combat.NewEngine()
	gate := encounter.NewGate(eph, combatEngine, 3, logger)
	sessions := session.NewManager()

	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateIntervalMinutes == 0 {
		cfg.RateIntervalMinutes = 1
	}
	e := engine.New(rooms, pipeline, ratelimit.New(eph, 64, logger), gate, combatEngine, sessions,
		command.DefaultRegistry(), durable, cfg, logger)
	return &fixture{engine: e, gen: gen, durable: durable, rooms: rooms, pipeline: pipeline, gate: gate, combat: combatEngine, sessions: sessions}
}

func (f *fixture) join(t *testing.T, uid string) *engine.Outcome {
	t.Helper()
	out, err := f.engine.Join(context.Background(), uid, strings.ToUpper(uid[:1])+uid[1:])
	require.NoError(t, err)
	f.pipeline.Wait()
	return out
}

func (f *fixture) act(t *testing.T, uid, input string) *engine.Outcome {
	t.Helper()
	out, err := f.engine.ProcessAction(context.Background(), uid, input)
	require.NoError(t, err)
	f.pipeline.Wait()
	return out
}

func TestJoin_GeneratesOriginAndPreloadsNeighbours(t *testing.T) {
	f := newFixture(t, engine.Config{})
	out := f.join(t, "alice")

	assert.Equal(t, engine.OutcomeOK, out.Kind)
	require.NotNil(t, out.Room)
	assert.Equal(t, "room_0_0", out.Room.ID)
	assert.True(t, out.Room.HasPlayer("alice"))
	assert.Contains(t, out.Message, "Welcome, Alice.")
	assert.Len(t, out.Neighbors, 4)

	discovered, err := f.rooms.GetDiscoveredCoordinates(context.Background())
	require.NoError(t, err)
	assert.Len(t, discovered, 5)
	assert.Equal(t, 5, f.gen.RoomCalls())
}

func TestMove_UsesPreloadedRoomWithoutGenerating(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.join(t, "alice")
	before := f.gen.RoomCalls()

	out := f.act(t, "alice", "go east")
	require.Equal(t, engine.OutcomeOK, out.Kind)
	assert.Equal(t, "room_1_0", out.Room.ID)
	assert.Contains(t, out.Message, "You head east.")

	back := f.act(t, "alice", "w")
	require.Equal(t, engine.OutcomeOK, back.Kind)
	assert.Equal(t, "room_0_0", back.Room.ID)

	// Only the ring around room_1_0 was new.
	assert.Equal(t, before+3, f.gen.RoomCalls())

	p, ok := f.sessions.GetPlayer("alice")
	require.True(t, ok)
	assert.Equal(t, "room_0_0", p.RoomID)
	assert.Equal(t, "room_1_0", p.LastRoomID)

	east, err := f.rooms.GetRoom(context.Background(), "room_1_0")
	require.NoError(t, err)
	assert.False(t, east.HasPlayer("alice"), "occupant list follows the player")
}

func TestMove_GenerationFailureAndRateLimit(t *testing.T) {
	f := newFixture(t, engine.Config{RateLimit: 1, RateIntervalMinutes: 0.167})
	f.join(t, "alice")

	f.gen.SetRoomErr(errors.New("model unavailable"))
	out := f.act(t, "alice", "e")
	require.Equal(t, engine.OutcomeOK, out.Kind, "room_1_0 was preloaded before the outage")

	out = f.act(t, "alice", "e")
	assert.Equal(t, engine.OutcomeFailed, out.Kind)
	assert.Equal(t, world.StatusFailed, out.Status)
	assert.Equal(t, "room_1_0", out.Room.ID, "player stays put")
	discovered, err := f.rooms.IsDiscovered(context.Background(), world.Coordinate{X: 2, Y: 0})
	require.NoError(t, err)
	assert.False(t, discovered)

	out = f.act(t, "alice", "e")
	require.Equal(t, engine.OutcomeRateLimited, out.Kind)
	require.NotNil(t, out.RateLimit)
	assert.False(t, out.RateLimit.Allowed)
	assert.Equal(t, 1, out.RateLimit.Count)
	assert.Greater(t, out.RateLimit.TimeUntilReset, time.Duration(0))
	assert.LessOrEqual(t, out.RateLimit.TimeUntilReset, 10020*time.Millisecond)

	// Known ground is never rate limited.
	out = f.act(t, "alice", "w")
	assert.Equal(t, engine.OutcomeOK, out.Kind)
}

func armWolf(t *testing.T, f *fixture, roomID string) {
	t.Helper()
	_, err := f.rooms.UpdateRoom(context.Background(), roomID, func(r *world.Room) error {
		r.Monsters = append(r.Monsters, world.Monster{ID: "wolf-1", Name: "Dire Wolf", Aggressive: true})
		return nil
	})
	require.NoError(t, err)
}

func TestEncounter_BlockedUntilRetreat(t *testing.T) {
	f := newFixture(t, engine.Config{})
	ctx := context.Background()
	f.join(t, "alice")
	armWolf(t, f, "room_1_0")

	out := f.act(t, "alice", "east")
	require.Equal(t, engine.OutcomeOK, out.Kind)
	assert.Contains(t, out.Message, "hostile Dire Wolf")
	callsBefore := f.gen.RoomCalls()

	for _, input := range []string{"look", "north", "e", "take stick", "status"} {
		out = f.act(t, "alice", input)
		require.Equal(t, engine.OutcomeBlocked, out.Kind, "input %q", input)
		assert.True(t, strings.HasPrefix(out.Message, encounter.CombatMarker))
		require.NotNil(t, out.Blocker)
		assert.Equal(t, "wolf-1", out.Blocker.MonsterID)
		assert.Equal(t, "room_1_0", out.Room.ID)
	}
	assert.Equal(t, callsBefore, f.gen.RoomCalls(), "blocked actions never generate")

	last, ok, err := f.gate.LastRoom(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "room_0_0", last, "blocked actions keep the last room")
	_, fighting := f.combat.InCombat("alice")
	assert.True(t, fighting)

	out = f.act(t, "alice", "west")
	require.Equal(t, engine.OutcomeOK, out.Kind)
	assert.Equal(t, "room_0_0", out.Room.ID)
	assert.Contains(t, out.Message, "You break away from the fight.")
	_, fighting = f.combat.InCombat("alice")
	assert.False(t, fighting)
}

func TestEncounter_RetreatVerb(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.join(t, "alice")
	armWolf(t, f, "room_0_1")

	require.Equal(t, engine.OutcomeOK, f.act(t, "alice", "n").Kind)
	require.Equal(t, engine.OutcomeBlocked, f.act(t, "alice", "look").Kind)

	out := f.act(t, "alice", "retreat")
	require.Equal(t, engine.OutcomeOK, out.Kind)
	assert.Equal(t, "room_0_0", out.Room.ID)
}

func TestRetreat_NowhereToGo(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.join(t, "alice")

	out := f.act(t, "alice", "retreat")
	assert.Equal(t, engine.OutcomeNotFound, out.Kind)
}

func TestAttack_ProvokesMonster(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.join(t, "alice")
	_, err := f.rooms.UpdateRoom(context.Background(), "room_0_0", func(r *world.Room) error {
		r.Monsters = append(r.Monsters, world.Monster{ID: "hare-1", Name: "Hare"})
		return nil
	})
	require.NoError(t, err)

	out := f.act(t, "alice", "attack hare")
	require.Equal(t, engine.OutcomeCombat, out.Kind)
	assert.True(t, strings.HasPrefix(out.Message, encounter.CombatMarker))

	out = f.act(t, "alice", "look")
	assert.Equal(t, engine.OutcomeBlocked, out.Kind)

	out = f.act(t, "alice", "attack dragon")
	assert.Equal(t, engine.OutcomeBlocked, out.Kind, "still pinned by the hare")
}

func TestTakeAndInventory(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.join(t, "alice")
	_, err := f.rooms.UpdateRoom(context.Background(), "room_0_0", func(r *world.Room) error {
		r.Items = append(r.Items, "Rusted Key")
		return nil
	})
	require.NoError(t, err)

	out := f.act(t, "alice", "take rusted key")
	require.Equal(t, engine.OutcomeOK, out.Kind)
	assert.Empty(t, out.Room.Items)

	out = f.act(t, "alice", "take rusted key")
	assert.Equal(t, engine.OutcomeNotFound, out.Kind)

	out = f.act(t, "alice", "inventory")
	assert.Contains(t, out.Message, "Rusted Key")
}

func TestUnknownCommandAndPlayer(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.join(t, "alice")

	out := f.act(t, "alice", "dance wildly")
	assert.Equal(t, engine.OutcomeUnknownCommand, out.Kind)

	_, err := f.engine.ProcessAction(context.Background(), "nobody", "look")
	assert.ErrorIs(t, err, engine.ErrPlayerNotFound)
}

func TestPlayersSeeEachOther(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.join(t, "alice")
	f.join(t, "bob")

	out := f.act(t, "alice", "look")
	assert.Contains(t, out.Message, "Also here: Bob.")

	mb, ok := f.sessions.Mailbox("alice")
	require.True(t, ok)
	notices := mb.Drain()
	require.NotEmpty(t, notices)
	assert.Equal(t, session.NoticeArrival, notices[0].Kind)

	out = f.act(t, "bob", "s")
	require.Equal(t, engine.OutcomeOK, out.Kind)
	notices = mb.Drain()
	require.Len(t, notices, 1)
	assert.Equal(t, session.NoticeDeparture, notices[0].Kind)
}

func TestResetWorld_RegeneratesOrigin(t *testing.T) {
	f := newFixture(t, engine.Config{})
	ctx := context.Background()
	f.join(t, "alice")
	f.act(t, "alice", "e")
	require.NoError(t, f.engine.ResetWorld(ctx))

	discovered, err := f.rooms.GetDiscoveredCoordinates(ctx)
	require.NoError(t, err)
	assert.Empty(t, discovered)
	biomes, err := f.durable.ListBiomes(ctx)
	require.NoError(t, err)
	assert.Empty(t, biomes)
	status, err := f.pipeline.GetGenerationStatus(ctx, "room_0_0")
	require.NoError(t, err)
	assert.Equal(t, world.StatusNotStarted, status)

	before := f.gen.RoomCalls()
	out := f.act(t, "alice", "look")
	require.Equal(t, engine.OutcomeOK, out.Kind)
	assert.Equal(t, "room_0_0", out.Room.ID)
	assert.True(t, out.Room.HasPlayer("alice"))
	assert.Greater(t, f.gen.RoomCalls(), before)

	p, _ := f.sessions.GetPlayer("alice")
	assert.Empty(t, p.LastRoomID)
}

func TestResetWorld_DiscardsAbandonedBuilds(t *testing.T) {
	f := newFixture(t, engine.Config{})
	ctx := context.Background()
	f.join(t, "alice")

	gate := make(chan struct{})
	defer close(gate)
	f.gen.Gate = gate
	f.gen.Started = make(chan struct{}, 1)

	// The mover gives up while the room is still being written.
	moveCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := f.pipeline.EnsureRoom(moveCtx, world.Coordinate{X: 9, Y: 9})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	<-f.gen.Started

	require.NoError(t, f.engine.ResetWorld(ctx))

	discovered, err := f.rooms.GetDiscoveredCoordinates(ctx)
	require.NoError(t, err)
	assert.Empty(t, discovered)
	rooms, err := f.durable.ListRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
	biomes, err := f.durable.ListBiomes(ctx)
	require.NoError(t, err)
	assert.Empty(t, biomes)
}

func TestReconcile_RepairsLedger(t *testing.T) {
	f := newFixture(t, engine.Config{})
	ctx := context.Background()
	f.join(t, "alice")
	require.NoError(t, f.durable.PutIndexEntry(ctx, world.Coordinate{X: 40, Y: 40}, "room_40_40"))

	report, err := f.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.RoomsScanned)
	assert.Equal(t, 1, report.EntriesRemoved)

	faults, err := f.rooms.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.Empty(t, faults)
}

func TestLeave(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.join(t, "alice")
	require.NoError(t, f.engine.Leave(context.Background(), "alice"))

	origin, err := f.rooms.GetRoom(context.Background(), "room_0_0")
	require.NoError(t, err)
	assert.False(t, origin.HasPlayer("alice"))
	assert.ErrorIs(t, f.engine.Leave(context.Background(), "alice"), engine.ErrPlayerNotFound)
}

func TestConcurrentPlayersConvergeOnOneBuild(t *testing.T) {
	f := newFixture(t, engine.Config{})
	const players = 6
	for i := 0; i < players; i++ {
		f.join(t, fmt.Sprintf("p%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := fmt.Sprintf("p%d", i)
			for _, step := range []string{"e", "e", "n"} {
				_, _ = f.engine.ProcessAction(context.Background(), uid, step)
			}
		}(i)
	}
	wg.Wait()
	f.pipeline.Wait()

	discovered, err := f.rooms.GetDiscoveredCoordinates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(discovered), f.gen.RoomCalls())
	end, err := f.rooms.GetRoom(context.Background(), "room_2_1")
	require.NoError(t, err)
	assert.Len(t, end.Players, players)
}

// Property: after any walk, the generator has run exactly once per
// discovered coordinate and the player stands in a discovered room.
func TestPropertyWalkGeneratesEachRoomOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, engine.Config{})
		defer f.pipeline.Close()
		ctx := context.Background()
		if _, err := f.engine.Join(ctx, "walker", "Walker"); err != nil {
			rt.Fatal(err)
		}
		steps := rapid.SliceOfN(rapid.SampledFrom([]string{"n", "s", "e", "w", "look", "retreat"}), 1, 15).Draw(rt, "steps")
		for _, s := range steps {
			out, err := f.engine.ProcessAction(ctx, "walker", s)
			if err != nil {
				rt.Fatal(err)
			}
			if out.Kind == engine.OutcomeOK && (out.Room == nil || !out.Room.HasPlayer("walker")) {
				rt.Fatalf("step %q: player missing from room", s)
			}
		}
		f.pipeline.Wait()

		discovered, err := f.rooms.GetDiscoveredCoordinates(ctx)
		if err != nil {
			rt.Fatal(err)
		}
		if f.gen.RoomCalls() != len(discovered) {
			rt.Fatalf("%d generator calls for %d rooms", f.gen.RoomCalls(), len(discovered))
		}
		p, _ := f.sessions.GetPlayer("walker")
		if _, ok := world.CoordinateFromRoomID(p.RoomID); !ok {
			rt.Fatalf("player in non-grid room %q", p.RoomID)
		}
		c, _ := world.CoordinateFromRoomID(p.RoomID)
		if _, ok := discovered[c.Key()]; !ok {
			rt.Fatalf("player stands in undiscovered %s", c)
		}
	})
}

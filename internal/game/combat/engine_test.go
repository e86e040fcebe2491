package combat_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/wildlands/internal/game/combat"
)

func pair() []*combat.Combatant {
	return []*combat.Combatant{
		{ID: "p1", Kind: combat.KindPlayer, Name: "Alice", Initiative: 8},
		{ID: "m1", Kind: combat.KindMonster, Name: "Wolf", Initiative: 14},
	}
}

func TestStartCombat_SortsByInitiative(t *testing.T) {
	eng := combat.NewEngine()
	cbt, err := eng.StartCombat("room_0_0", pair())
	require.NoError(t, err)
	assert.NotEmpty(t, cbt.ID)
	assert.Equal(t, "room_0_0", cbt.RoomID)
	require.Len(t, cbt.Combatants, 2)
	assert.Equal(t, "m1", cbt.Combatants[0].ID)
	assert.Equal(t, []string{"p1"}, cbt.Players())
}

func TestStartCombat_OnePerRoom(t *testing.T) {
	eng := combat.NewEngine()
	_, err := eng.StartCombat("room_0_0", pair())
	require.NoError(t, err)
	_, err = eng.StartCombat("room_0_0", pair())
	assert.True(t, errors.Is(err, combat.ErrCombatActive))
}

func TestStartCombat_NeedsTwo(t *testing.T) {
	eng := combat.NewEngine()
	_, err := eng.StartCombat("room_0_0", pair()[:1])
	assert.Error(t, err)
}

func TestJoin(t *testing.T) {
	eng := combat.NewEngine()
	_, err := eng.Join("room_0_0", &combat.Combatant{ID: "p2"})
	require.ErrorIs(t, err, combat.ErrNoCombat)

	_, err = eng.StartCombat("room_0_0", pair())
	require.NoError(t, err)
	cbt, err := eng.Join("room_0_0", &combat.Combatant{ID: "p2", Kind: combat.KindPlayer, Initiative: 20})
	require.NoError(t, err)
	require.Len(t, cbt.Combatants, 3)
	assert.Equal(t, "p2", cbt.Combatants[0].ID)

	cbt, err = eng.Join("room_0_0", &combat.Combatant{ID: "p2", Kind: combat.KindPlayer})
	require.NoError(t, err)
	assert.Len(t, cbt.Combatants, 3)
}

func TestInCombatAndLeave(t *testing.T) {
	eng := combat.NewEngine()
	_, err := eng.StartCombat("room_1_0", pair())
	require.NoError(t, err)

	room, ok := eng.InCombat("p1")
	require.True(t, ok)
	assert.Equal(t, "room_1_0", room)

	assert.Equal(t, "room_1_0", eng.Leave("p1"))
	_, ok = eng.InCombat("p1")
	assert.False(t, ok)
	_, ok = eng.GetCombat("room_1_0")
	assert.False(t, ok, "combat without players ends")
	assert.Equal(t, "", eng.Leave("p1"))
}

func TestGetCombat_ReturnsSnapshot(t *testing.T) {
	eng := combat.NewEngine()
	_, err := eng.StartCombat("room_0_0", pair())
	require.NoError(t, err)

	cbt, ok := eng.GetCombat("room_0_0")
	require.True(t, ok)
	cbt.Combatants[0].Name = "mutated"

	again, _ := eng.GetCombat("room_0_0")
	assert.Equal(t, "Wolf", again.Combatants[0].Name)
}

func TestEndCombatAndReset(t *testing.T) {
	eng := combat.NewEngine()
	_, _ = eng.StartCombat("a", pair())
	_, _ = eng.StartCombat("b", pair())
	eng.EndCombat("a")
	assert.Equal(t, 1, eng.Count())
	eng.Reset()
	assert.Equal(t, 0, eng.Count())
}

// Property: combatants are always stored in non-increasing initiative order.
func TestPropertyInitiativeOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		eng := combat.NewEngine()
		inits := rapid.SliceOfN(rapid.IntRange(-5, 30), 2, 10).Draw(t, "inits")
		cs := make([]*combat.Combatant, len(inits))
		for i, v := range inits {
			cs[i] = &combat.Combatant{ID: string(rune('a' + i)), Initiative: v}
		}
		cbt, err := eng.StartCombat("r", cs)
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i < len(cbt.Combatants); i++ {
			if cbt.Combatants[i].Initiative > cbt.Combatants[i-1].Initiative {
				t.Fatalf("order broken at %d: %+v", i, cbt.Combatants)
			}
		}
	})
}

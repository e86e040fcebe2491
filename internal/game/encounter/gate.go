// Package encounter blocks player actions in rooms held by aggressive
// monsters. A blocked player may only retreat to the room they came from;
// anything else provokes combat.
package encounter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/game/combat"
	"github.com/cory-johannsen/wildlands/internal/game/command"
	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage"
)

// CombatMarker prefixes every combat-initiation message.
const CombatMarker = "[COMBAT]"

// Ephemeral key prefixes.
const (
	AggressivePrefix = "aggressive:"
	LastRoomPrefix   = "lastroom:"
)

const lockStripes = 64

// Blocker identifies the monster blocking an action.
type Blocker struct {
	MonsterID   string `json:"monster_id"`
	MonsterName string `json:"monster_name"`
	RoomID      string `json:"room_id"`
}

// CombatStarter is the combat bookkeeping the gate hands provoked players to.
type CombatStarter interface {
	StartCombat(roomID string, combatants []*combat.Combatant) (*combat.Combat, error)
	Join(roomID string, c *combat.Combatant) (*combat.Combat, error)
}

// Gate tracks aggressive monsters per room and each player's last room.
type Gate struct {
	store  storage.Ephemeral
	combat CombatStarter
	seed   int64
	logger *zap.Logger
	locks  [lockStripes]sync.Mutex
}

// NewGate creates a Gate.
//
// Precondition: store, starter, and logger must be non-nil.
func NewGate(store storage.Ephemeral, starter CombatStarter, seed int64, logger *zap.Logger) *Gate {
	return &Gate{
		store:  store,
		combat: starter,
		seed:   seed,
		logger: logger.Named("encounter"),
	}
}

// roomLock serializes read-modify-write cycles on one room's record.
func (g *Gate) roomLock(roomID string) *sync.Mutex {
	return &g.locks[xxhash.Sum64String(roomID)%lockStripes]
}

// CheckBlocking returns the monster blocking action, or nil.
//
// Postcondition: Non-nil iff roomID has at least one aggressive monster and
// action is not a retreat to the player's last room.
func (g *Gate) CheckBlocking(ctx context.Context, playerID, roomID string, action command.Action) (*Blocker, error) {
	monsters, err := g.AggressiveMonsters(ctx, roomID)
	if err != nil || len(monsters) == 0 {
		return nil, err
	}
	retreat, err := g.IsRetreat(ctx, playerID, roomID, action)
	if err != nil {
		return nil, err
	}
	if retreat {
		return nil, nil
	}
	b := monsters[0]
	return &b, nil
}

// IsRetreat reports whether action takes the player from roomID back to
// their last room: either the explicit retreat verb or a move whose
// destination is the last room.
//
// Postcondition: Always false for a player with no last room.
func (g *Gate) IsRetreat(ctx context.Context, playerID, roomID string, action command.Action) (bool, error) {
	last, ok, err := g.LastRoom(ctx, playerID)
	if err != nil || !ok {
		return false, err
	}
	switch {
	case action.Verb == command.VerbRetreat:
		return true, nil
	case action.IsMove():
		c, ok := world.CoordinateFromRoomID(roomID)
		return ok && world.RoomID(c.Neighbor(action.Direction)) == last, nil
	default:
		return false, nil
	}
}

// HandleCombatInitiation puts playerID into combat with monsterID and returns
// the narrative shown instead of the blocked action's result.
//
// Postcondition: The message starts with CombatMarker. The player is a
// combatant in roomID's combat, which is created if absent.
func (g *Gate) HandleCombatInitiation(ctx context.Context, playerID, monsterID, roomID string, action command.Action) (string, error) {
	monsters, err := g.AggressiveMonsters(ctx, roomID)
	if err != nil {
		return "", err
	}
	name := "monster"
	for _, m := range monsters {
		if m.MonsterID == monsterID {
			name = m.MonsterName
		}
	}

	player := &combat.Combatant{ID: playerID, Kind: combat.KindPlayer, Name: playerID, Initiative: g.initiative(playerID)}
	monster := &combat.Combatant{ID: monsterID, Kind: combat.KindMonster, Name: name, Initiative: g.initiative(monsterID)}
	cbt, err := g.combat.StartCombat(roomID, []*combat.Combatant{player, monster})
	if errors.Is(err, combat.ErrCombatActive) {
		cbt, err = g.combat.Join(roomID, player)
	}
	if err != nil {
		return "", fmt.Errorf("starting combat in %q: %w", roomID, err)
	}
	g.logger.Info("combat initiated",
		zap.String("player_id", playerID),
		zap.String("monster_id", monsterID),
		zap.String("room_id", roomID),
		zap.String("combat_id", cbt.ID),
		zap.String("verb", action.Verb),
	)
	return fmt.Sprintf("%s The %s %s and attacks! Stand and fight, or retreat the way you came.",
		CombatMarker, name, interruption(action)), nil
}

func interruption(a command.Action) string {
	switch {
	case a.IsMove():
		return fmt.Sprintf("cuts off your path %s", a.Direction)
	case a.Verb == command.VerbAttack:
		return "meets your charge"
	case a.Verb == command.VerbRetreat:
		return "blocks any way out"
	default:
		return "lunges before you can act"
	}
}

func (g *Gate) initiative(id string) int {
	return 1 + int(xxhash.Sum64String(fmt.Sprintf("%d:initiative:%s", g.seed, id))%20)
}

// AggressiveMonsters returns the aggressive monsters recorded for roomID,
// ordered by name then id.
func (g *Gate) AggressiveMonsters(ctx context.Context, roomID string) ([]Blocker, error) {
	record, _, err := g.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]Blocker, 0, len(record))
	for id, name := range record {
		out = append(out, Blocker{MonsterID: id, MonsterName: name, RoomID: roomID})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MonsterName != out[j].MonsterName {
			return out[i].MonsterName < out[j].MonsterName
		}
		return out[i].MonsterID < out[j].MonsterID
	})
	return out, nil
}

// ArmRoom records the aggressive monsters of room. Rooms that already have
// a record, including one emptied by Pacify, are left alone.
//
// Postcondition: Returns the number of monsters armed.
func (g *Gate) ArmRoom(ctx context.Context, room *world.Room) (int, error) {
	mu := g.roomLock(room.ID)
	mu.Lock()
	defer mu.Unlock()

	_, exists, err := g.load(ctx, room.ID)
	if err != nil || exists {
		return 0, err
	}
	record := make(map[string]string)
	for _, m := range room.Monsters {
		if m.Aggressive {
			record[m.ID] = m.Name
		}
	}
	if len(record) == 0 {
		return 0, nil
	}
	return len(record), g.save(ctx, room.ID, record)
}

// MarkAggressive records monsterID in roomID as aggressive.
func (g *Gate) MarkAggressive(ctx context.Context, roomID, monsterID, name string) error {
	mu := g.roomLock(roomID)
	mu.Lock()
	defer mu.Unlock()

	record, _, err := g.load(ctx, roomID)
	if err != nil {
		return err
	}
	if record == nil {
		record = make(map[string]string)
	}
	record[monsterID] = name
	return g.save(ctx, roomID, record)
}

// Pacify removes monsterID from roomID's aggressive record. The emptied
// record is kept so the room is not re-armed on the next visit.
func (g *Gate) Pacify(ctx context.Context, roomID, monsterID string) error {
	mu := g.roomLock(roomID)
	mu.Lock()
	defer mu.Unlock()

	record, exists, err := g.load(ctx, roomID)
	if err != nil || !exists {
		return err
	}
	delete(record, monsterID)
	return g.save(ctx, roomID, record)
}

// ClearRoom deletes roomID's aggressive record entirely.
func (g *Gate) ClearRoom(ctx context.Context, roomID string) error {
	if err := g.store.Delete(ctx, AggressivePrefix+roomID); err != nil {
		return fmt.Errorf("clearing aggressive record of %q: %w", roomID, err)
	}
	return nil
}

// SetLastRoom records roomID as the room playerID most recently left.
func (g *Gate) SetLastRoom(ctx context.Context, playerID, roomID string) error {
	if err := g.store.Set(ctx, LastRoomPrefix+playerID, roomID); err != nil {
		return fmt.Errorf("setting last room of %q: %w", playerID, err)
	}
	return nil
}

// LastRoom returns the room playerID most recently left.
func (g *Gate) LastRoom(ctx context.Context, playerID string) (string, bool, error) {
	v, err := g.store.Get(ctx, LastRoomPrefix+playerID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading last room of %q: %w", playerID, err)
	}
	return v, true, nil
}

// ClearAll forgets every aggressive record and last room.
func (g *Gate) ClearAll(ctx context.Context) error {
	for _, prefix := range []string{AggressivePrefix, LastRoomPrefix} {
		if _, err := g.store.DeletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("clearing %s records: %w", prefix, err)
		}
	}
	return nil
}

func (g *Gate) load(ctx context.Context, roomID string) (map[string]string, bool, error) {
	raw, err := g.store.Get(ctx, AggressivePrefix+roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading aggressive record of %q: %w", roomID, err)
	}
	record := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		g.logger.Warn("discarding malformed aggressive record", zap.String("room_id", roomID), zap.Error(err))
		return nil, false, nil
	}
	return record, true, nil
}

func (g *Gate) save(ctx context.Context, roomID string, record map[string]string) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding aggressive record of %q: %w", roomID, err)
	}
	if err := g.store.Set(ctx, AggressivePrefix+roomID, string(raw)); err != nil {
		return fmt.Errorf("writing aggressive record of %q: %w", roomID, err)
	}
	return nil
}

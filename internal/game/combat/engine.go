package combat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCombatActive is returned by StartCombat when the room already hosts a combat.
var ErrCombatActive = errors.New("combat already active")

// ErrNoCombat is returned when a room has no active combat.
var ErrNoCombat = errors.New("no active combat")

// Engine manages all active combats, keyed by room ID.
// All methods are safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	combats map[string]*Combat
	now     func() time.Time
}

// NewEngine creates an empty combat Engine.
//
// Postcondition: Returns a non-nil Engine ready for use.
func NewEngine() *Engine {
	return &Engine{combats: make(map[string]*Combat), now: time.Now}
}

// StartCombat begins a new combat in roomID with the given combatants.
// Combatants are sorted by Initiative descending before storing.
//
// Precondition: roomID must be non-empty; combatants must have at least 2 entries.
// Postcondition: Returns a snapshot of the new Combat, or ErrCombatActive.
func (e *Engine) StartCombat(roomID string, combatants []*Combatant) (*Combat, error) {
	if len(combatants) < 2 {
		return nil, fmt.Errorf("combat in room %q needs at least two combatants, got %d", roomID, len(combatants))
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.combats[roomID]; exists {
		return nil, fmt.Errorf("room %q: %w", roomID, ErrCombatActive)
	}

	sorted := make([]*Combatant, len(combatants))
	for i, c := range combatants {
		cp := *c
		sorted[i] = &cp
	}
	sortByInitiativeDesc(sorted)

	cbt := &Combat{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		Combatants: sorted,
		StartedAt:  e.now(),
	}
	e.combats[roomID] = cbt
	return cbt.clone(), nil
}

// Join adds c to the combat in roomID. Joining twice is a no-op.
//
// Postcondition: Returns the updated snapshot, or ErrNoCombat.
func (e *Engine) Join(roomID string, c *Combatant) (*Combat, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cbt, ok := e.combats[roomID]
	if !ok {
		return nil, fmt.Errorf("room %q: %w", roomID, ErrNoCombat)
	}
	if !cbt.Has(c.ID) {
		cp := *c
		cbt.Combatants = append(cbt.Combatants, &cp)
		sortByInitiativeDesc(cbt.Combatants)
	}
	return cbt.clone(), nil
}

// GetCombat returns a snapshot of the active combat in roomID.
//
// Postcondition: Returns (combat, true) if found, or (nil, false) otherwise.
func (e *Engine) GetCombat(roomID string) (*Combat, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cbt, ok := e.combats[roomID]
	if !ok {
		return nil, false
	}
	return cbt.clone(), true
}

// InCombat returns the room of the combat uid participates in.
func (e *Engine) InCombat(uid string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for roomID, cbt := range e.combats {
		if cbt.Has(uid) {
			return roomID, true
		}
	}
	return "", false
}

// Leave removes uid from whatever combat it is in, ending combats that no
// longer have a player.
//
// Postcondition: Returns the room left, or "" if uid was not fighting.
func (e *Engine) Leave(uid string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for roomID, cbt := range e.combats {
		if !cbt.Has(uid) {
			continue
		}
		kept := cbt.Combatants[:0]
		for _, c := range cbt.Combatants {
			if c.ID != uid {
				kept = append(kept, c)
			}
		}
		cbt.Combatants = kept
		if len(cbt.Players()) == 0 {
			delete(e.combats, roomID)
		}
		return roomID
	}
	return ""
}

// EndCombat removes the combat record for roomID.
func (e *Engine) EndCombat(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.combats, roomID)
}

// Reset ends every combat.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.combats = make(map[string]*Combat)
}

// Count returns the number of active combats.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.combats)
}

// Package combat keeps the bookkeeping for encounters started when a player
// provokes an aggressive monster: who is fighting whom, in which room, and in
// what order.
package combat

import (
	"time"
)

// Kind distinguishes player combatants from monster combatants.
type Kind int

const (
	KindPlayer Kind = iota
	KindMonster
)

// String returns a human-readable kind label.
func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindMonster:
		return "monster"
	default:
		return "unknown"
	}
}

// Combatant is one participant in a combat.
type Combatant struct {
	ID         string
	Kind       Kind
	Name       string
	Initiative int
}

// IsPlayer reports whether this combatant is a player.
func (c *Combatant) IsPlayer() bool { return c.Kind == KindPlayer }

// Combat is the live state of the single encounter in a room.
type Combat struct {
	ID     string
	RoomID string
	// Combatants are ordered by initiative, highest first.
	Combatants []*Combatant
	StartedAt  time.Time
}

// Has reports whether uid participates in c.
func (c *Combat) Has(uid string) bool {
	for _, cbt := range c.Combatants {
		if cbt.ID == uid {
			return true
		}
	}
	return false
}

// Players returns the ids of player combatants in initiative order.
func (c *Combat) Players() []string {
	var out []string
	for _, cbt := range c.Combatants {
		if cbt.IsPlayer() {
			out = append(out, cbt.ID)
		}
	}
	return out
}

func (c *Combat) clone() *Combat {
	out := *c
	out.Combatants = make([]*Combatant, len(c.Combatants))
	for i, cbt := range c.Combatants {
		cp := *cbt
		out.Combatants[i] = &cp
	}
	return &out
}

// sortByInitiativeDesc sorts combatants in place, highest initiative first.
// Ties keep their insertion order.
func sortByInitiativeDesc(combatants []*Combatant) {
	n := len(combatants)
	for i := 1; i < n; i++ {
		for j := i; j > 0 && combatants[j].Initiative > combatants[j-1].Initiative; j-- {
			combatants[j], combatants[j-1] = combatants[j-1], combatants[j]
		}
	}
}

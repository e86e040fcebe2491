package engine

import (
	"fmt"
	"strings"

	"github.com/cory-johannsen/wildlands/internal/game/command"
	"github.com/cory-johannsen/wildlands/internal/game/session"
	"github.com/cory-johannsen/wildlands/internal/game/world"
)

// describe renders room for viewer, listing other occupants, monsters, items,
// and the state of each exit.
func describe(room *world.Room, others []string, neighbors map[world.Direction]world.GenerationStatus) string {
	var b strings.Builder
	title := room.Title
	if room.Landmark {
		title += " ***"
	}
	b.WriteString(title)
	if room.BiomeName != "" {
		fmt.Fprintf(&b, " [%s]", room.BiomeName)
	}
	b.WriteString("\n")
	b.WriteString(room.Description)
	b.WriteString("\n")

	for _, m := range room.Monsters {
		if m.Aggressive {
			fmt.Fprintf(&b, "A hostile %s watches you.\n", m.Name)
		} else {
			fmt.Fprintf(&b, "A %s is here.\n", m.Name)
		}
	}
	if len(room.Items) > 0 {
		fmt.Fprintf(&b, "You see: %s.\n", strings.Join(room.Items, ", "))
	}
	if len(others) > 0 {
		fmt.Fprintf(&b, "Also here: %s.\n", strings.Join(others, ", "))
	}

	exits := make([]string, 0, len(world.CardinalDirections))
	for _, d := range world.CardinalDirections {
		switch neighbors[d] {
		case world.StatusReady:
			exits = append(exits, string(d))
		case world.StatusGenerating:
			exits = append(exits, string(d)+" (forming)")
		default:
			exits = append(exits, string(d)+" (unexplored)")
		}
	}
	fmt.Fprintf(&b, "Exits: %s.", strings.Join(exits, ", "))
	return b.String()
}

func without(names []string, name string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func describeInventory(p *session.Player) string {
	if len(p.Inventory) == 0 {
		return "You are carrying nothing."
	}
	return "You are carrying: " + strings.Join(p.Inventory, ", ") + "."
}

func describeStatus(p *session.Player, room *world.Room, discovered int) string {
	pos := "nowhere"
	if room.Position != nil {
		pos = room.Position.String()
	}
	biome := "uncharted land"
	if room.BiomeName != "" {
		biome = room.BiomeName
	}
	return fmt.Sprintf("%s stands at %s in %s. Rooms visited: %d. Rooms discovered in the world: %d.",
		p.Name, pos, biome, len(p.Visited), discovered)
}

func describeHelp(r *command.Registry) string {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, cmd := range r.Commands() {
		fmt.Fprintf(&b, "\n  %-10s %s", cmd.Name, cmd.Help)
	}
	return b.String()
}

// Package command provides the command registry, parser, and the built-in
// player verbs understood by the world engine.
package command

import "github.com/cory-johannsen/wildlands/internal/game/world"

// Categories for organizing commands.
const (
	CategoryMovement = "movement"
	CategoryWorld    = "world"
	CategoryCombat   = "combat"
	CategorySystem   = "system"
)

// Verbs name the action a command performs.
const (
	VerbMove      = "move"
	VerbLook      = "look"
	VerbRetreat   = "retreat"
	VerbAttack    = "attack"
	VerbTake      = "take"
	VerbInventory = "inventory"
	VerbStatus    = "status"
	VerbWho       = "who"
	VerbHelp      = "help"
)

// Command defines a player-invocable command.
type Command struct {
	// Name is the canonical command name.
	Name string
	// Aliases are alternate names for this command.
	Aliases []string
	// Help is the short help text displayed to players.
	Help string
	// Category groups the command.
	Category string
	// Verb is the action the command resolves to.
	Verb string
	// Direction is fixed for single-direction movement commands such as "north".
	Direction world.Direction
	// TakesDirection marks commands whose first argument is a direction ("go north").
	TakesDirection bool
	// TakesTarget marks commands whose arguments name a monster or item.
	TakesTarget bool
}

// Action is a resolved player command.
type Action struct {
	Verb string
	// Direction is set for moves.
	Direction world.Direction
	// Target is the free-text object of attack and take.
	Target string
}

// IsMove reports whether a is a movement in some direction.
func (a Action) IsMove() bool {
	return a.Verb == VerbMove && a.Direction != ""
}

// BuiltinCommands returns all built-in commands.
func BuiltinCommands() []Command {
	return []Command{
		{Name: "north", Aliases: []string{"n"}, Help: "Move north", Category: CategoryMovement, Verb: VerbMove, Direction: world.North},
		{Name: "south", Aliases: []string{"s"}, Help: "Move south", Category: CategoryMovement, Verb: VerbMove, Direction: world.South},
		{Name: "east", Aliases: []string{"e"}, Help: "Move east", Category: CategoryMovement, Verb: VerbMove, Direction: world.East},
		{Name: "west", Aliases: []string{"w"}, Help: "Move west", Category: CategoryMovement, Verb: VerbMove, Direction: world.West},
		{Name: "go", Aliases: []string{"move", "walk"}, Help: "Move in a direction (go <direction>)", Category: CategoryMovement, Verb: VerbMove, TakesDirection: true},
		{Name: "retreat", Aliases: []string{"flee", "back"}, Help: "Return to the room you came from", Category: CategoryMovement, Verb: VerbRetreat},

		{Name: "look", Aliases: []string{"l"}, Help: "Look around the current room", Category: CategoryWorld, Verb: VerbLook},
		{Name: "take", Aliases: []string{"get"}, Help: "Pick up an item (take <item>)", Category: CategoryWorld, Verb: VerbTake, TakesTarget: true},
		{Name: "inventory", Aliases: []string{"inv", "i"}, Help: "Show what you carry", Category: CategoryWorld, Verb: VerbInventory},

		{Name: "attack", Aliases: []string{"att", "kill"}, Help: "Attack a monster (attack <monster>)", Category: CategoryCombat, Verb: VerbAttack, TakesTarget: true},

		{Name: "status", Aliases: []string{"st"}, Help: "Show your position and exploration status", Category: CategorySystem, Verb: VerbStatus},
		{Name: "who", Aliases: nil, Help: "List players in the room", Category: CategorySystem, Verb: VerbWho},
		{Name: "help", Aliases: []string{"?"}, Help: "Show available commands", Category: CategorySystem, Verb: VerbHelp},
	}
}

// IsMovementCommand reports whether the command name is a single-direction move.
func IsMovementCommand(name string) bool {
	_, ok := world.ParseDirection(name)
	return ok
}

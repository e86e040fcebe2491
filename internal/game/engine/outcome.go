package engine

import (
	"github.com/cory-johannsen/wildlands/internal/game/encounter"
	"github.com/cory-johannsen/wildlands/internal/game/ratelimit"
	"github.com/cory-johannsen/wildlands/internal/game/world"
)

// OutcomeKind selects the response shape for a processed action.
type OutcomeKind string

const (
	// OutcomeOK is a normal action result.
	OutcomeOK OutcomeKind = "ok"
	// OutcomeGenerating means the destination is still being built; the
	// player stays put and may try again shortly.
	OutcomeGenerating OutcomeKind = "generating"
	// OutcomeFailed means content generation failed; retrying starts over.
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeRateLimited carries the limiter decision in RateLimit.
	OutcomeRateLimited OutcomeKind = "rate_limited"
	// OutcomeBlocked carries the blocking monster and a combat message.
	OutcomeBlocked OutcomeKind = "blocked"
	// OutcomeCombat reports combat the player started deliberately.
	OutcomeCombat OutcomeKind = "combat"
	// OutcomeNotFound reports a missing target, item, or retreat path.
	OutcomeNotFound OutcomeKind = "not_found"
	// OutcomeUnknownCommand reports input no command matched.
	OutcomeUnknownCommand OutcomeKind = "unknown_command"
)

// Outcome is the engine's answer to one player action.
type Outcome struct {
	Kind    OutcomeKind
	Message string
	// Room is the room the player occupies after the action.
	Room *world.Room
	// Status is the generation status of the room the action targeted.
	Status world.GenerationStatus
	// Neighbors maps each exit of Room to its generation status.
	Neighbors map[world.Direction]world.GenerationStatus
	RateLimit *ratelimit.Decision
	Blocker   *encounter.Blocker
}

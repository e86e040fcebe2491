// Package engine processes player actions against the generated world: it
// parses input, consults the encounter gate, rate-limits exploration, drives
// room generation, and keeps player positions and room occupants in step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/game/combat"
	"github.com/cory-johannsen/wildlands/internal/game/command"
	"github.com/cory-johannsen/wildlands/internal/game/encounter"
	"github.com/cory-johannsen/wildlands/internal/game/generation"
	"github.com/cory-johannsen/wildlands/internal/game/ratelimit"
	"github.com/cory-johannsen/wildlands/internal/game/room"
	"github.com/cory-johannsen/wildlands/internal/game/session"
	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/observability"
)

// ErrPlayerNotFound is returned for actions by players who have not joined.
var ErrPlayerNotFound = errors.New("player not found")

// Origin is where players join and where they are re-homed after a reset.
var Origin = world.Coordinate{X: 0, Y: 0}

// Resetter wipes the durable world.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Config tunes exploration limits.
type Config struct {
	// RateLimit is the number of new rooms a player may open per interval.
	RateLimit int
	// RateIntervalMinutes may be fractional.
	RateIntervalMinutes float64
}

// Engine is the world engine. All methods are safe for concurrent use;
// actions of different players proceed independently.
type Engine struct {
	rooms    *room.Store
	pipeline *generation.Pipeline
	limiter  *ratelimit.Limiter
	gate     *encounter.Gate
	combat   *combat.Engine
	sessions *session.Manager
	registry *command.Registry
	durable  Resetter
	cfg      Config
	logger   *zap.Logger
}

// New creates an Engine.
//
// Precondition: every collaborator must be non-nil; cfg.RateLimit >= 1 and
// cfg.RateIntervalMinutes > 0.
func New(
	rooms *room.Store,
	pipeline *generation.Pipeline,
	limiter *ratelimit.Limiter,
	gate *encounter.Gate,
	combatEngine *combat.Engine,
	sessions *session.Manager,
	registry *command.Registry,
	durable Resetter,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		rooms:    rooms,
		pipeline: pipeline,
		limiter:  limiter,
		gate:     gate,
		combat:   combatEngine,
		sessions: sessions,
		registry: registry,
		durable:  durable,
		cfg:      cfg,
		logger:   logger.Named("engine"),
	}
}

// Join places a new player at the origin, generating it if needed.
//
// Postcondition: The player is registered even when the origin could not be
// generated; their next action retries.
func (e *Engine) Join(ctx context.Context, playerID, name string) (*Outcome, error) {
	log, _ := observability.RequestLogger(e.logger, playerID)
	p, err := e.sessions.AddPlayer(playerID, name, world.RoomID(Origin))
	if err != nil {
		return nil, err
	}
	log.Info("player joined", zap.String("name", name))

	r, out, err := e.ensure(ctx, Origin)
	if err != nil || out != nil {
		return out, err
	}
	r, err = e.occupy(ctx, playerID, name, r)
	if err != nil {
		return nil, err
	}
	e.broadcast(r.ID, playerID, session.Notice{Kind: session.NoticeArrival, Text: name + " appears."})
	if _, err := e.sessions.Remember(playerID, r.ID); err != nil {
		return nil, err
	}
	return e.arrive(ctx, p, r, "Welcome, "+name+".\n")
}

// Leave disconnects a player, clearing them from their room and any combat.
func (e *Engine) Leave(ctx context.Context, playerID string) error {
	p, ok := e.sessions.GetPlayer(playerID)
	if !ok {
		return fmt.Errorf("%q: %w", playerID, ErrPlayerNotFound)
	}
	e.combat.Leave(playerID)
	if err := e.vacate(ctx, playerID, p.RoomID); err != nil {
		return err
	}
	e.broadcast(p.RoomID, playerID, session.Notice{Kind: session.NoticeDeparture, Text: p.Name + " fades from the world."})
	return e.sessions.RemovePlayer(playerID)
}

// ProcessAction runs one line of player input.
//
// Postcondition: Rate limiting, blocking, and generation failures are
// reported through Outcome.Kind; only storage faults and unknown players
// return errors. A blocked action never reaches generation and never
// changes the player's last room.
func (e *Engine) ProcessAction(ctx context.Context, playerID, input string) (*Outcome, error) {
	log, requestID := observability.RequestLogger(e.logger, playerID)
	p, ok := e.sessions.GetPlayer(playerID)
	if !ok {
		return nil, fmt.Errorf("%q: %w", playerID, ErrPlayerNotFound)
	}

	current, out, err := e.currentRoom(ctx, p, log)
	if err != nil || out != nil {
		return out, err
	}

	action, ok := e.registry.Resolve(input)
	if !ok {
		return &Outcome{
			Kind:    OutcomeUnknownCommand,
			Message: fmt.Sprintf("I don't understand %q. Type help for commands.", input),
			Room:    current,
			Status:  world.StatusReady,
		}, nil
	}
	log = log.With(zap.String("verb", action.Verb))

	blocker, err := e.gate.CheckBlocking(ctx, playerID, current.ID, action)
	if err != nil {
		return nil, err
	}
	if blocker != nil {
		msg, err := e.gate.HandleCombatInitiation(ctx, playerID, blocker.MonsterID, current.ID, action)
		if err != nil {
			return nil, err
		}
		log.Info("action blocked", zap.String("monster_id", blocker.MonsterID), zap.String("request_id", requestID))
		return &Outcome{Kind: OutcomeBlocked, Message: msg, Room: current, Status: world.StatusReady, Blocker: blocker}, nil
	}

	switch action.Verb {
	case command.VerbMove:
		return e.move(ctx, p, current, action.Direction, log)
	case command.VerbRetreat:
		return e.retreat(ctx, p, current, log)
	case command.VerbLook:
		return e.look(ctx, p, current)
	case command.VerbTake:
		return e.take(ctx, p, current, action.Target)
	case command.VerbAttack:
		return e.attack(ctx, p, current, action)
	case command.VerbInventory:
		return e.ok(current, describeInventory(p)), nil
	case command.VerbStatus:
		discovered, err := e.rooms.GetDiscoveredCoordinates(ctx)
		if err != nil {
			return nil, err
		}
		return e.ok(current, describeStatus(p, current, len(discovered))), nil
	case command.VerbWho:
		return e.ok(current, "Here: "+strings.Join(e.sessions.PlayersInRoom(current.ID), ", ")+"."), nil
	default:
		return e.ok(current, describeHelp(e.registry)), nil
	}
}

// currentRoom loads the player's room, re-homing them to the origin when the
// room no longer exists.
func (e *Engine) currentRoom(ctx context.Context, p *session.Player, log *zap.Logger) (*world.Room, *Outcome, error) {
	r, err := e.rooms.GetRoom(ctx, p.RoomID)
	if err == nil && r.HasPlayer(p.UID) {
		return r, nil, nil
	}
	if err == nil {
		// Occupant list lost the player; put them back.
		r, err = e.occupy(ctx, p.UID, p.Name, r)
		return r, nil, err
	}
	if !isNotFound(err) {
		return nil, nil, err
	}

	log.Info("re-homing player to origin", zap.String("missing_room", p.RoomID))
	if err := e.sessions.Relocate(p.UID, world.RoomID(Origin)); err != nil {
		return nil, nil, err
	}
	r, out, err := e.ensure(ctx, Origin)
	if err != nil || out != nil {
		return nil, out, err
	}
	if r, err = e.occupy(ctx, p.UID, p.Name, r); err != nil {
		return nil, nil, err
	}
	if _, err := e.gate.ArmRoom(ctx, r); err != nil {
		return nil, nil, err
	}
	e.pipeline.PreloadAdjacent(Origin)
	return r, nil, nil
}

// ensure materializes the room at c, translating generation failures into
// outcomes.
func (e *Engine) ensure(ctx context.Context, c world.Coordinate) (*world.Room, *Outcome, error) {
	r, err := e.pipeline.EnsureRoom(ctx, c)
	switch {
	case err == nil:
		return r, nil, nil
	case errors.Is(err, generation.ErrGenerationFailed):
		return nil, &Outcome{
			Kind:    OutcomeFailed,
			Message: "The land there refuses to take shape. Try again.",
			Status:  world.StatusFailed,
		}, nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return nil, &Outcome{
			Kind:    OutcomeGenerating,
			Message: "The land there is still taking shape. Try again in a moment.",
			Status:  world.StatusGenerating,
		}, nil
	default:
		return nil, nil, err
	}
}

// Reconcile repairs the coordinate index and discovery ledger from room records.
func (e *Engine) Reconcile(ctx context.Context) (room.RepairReport, error) {
	report, err := e.rooms.Repair(ctx)
	if err != nil {
		return report, err
	}
	for _, f := range report.Faults {
		e.logger.Warn("ledger fault repaired",
			zap.String("kind", string(f.Kind)),
			zap.String("coordinate", f.Coordinate),
			zap.String("want", f.Want),
			zap.String("got", f.Got),
		)
	}
	e.logger.Info("reconciliation complete",
		zap.Int("rooms", report.RoomsScanned),
		zap.Int("faults", len(report.Faults)),
		zap.Int("written", report.EntriesWritten),
		zap.Int("removed", report.EntriesRemoved),
	)
	return report, nil
}

// ResetWorld wipes every room, biome, chunk assignment, ledger entry,
// generation status, aggressive record, and combat, then returns all
// players to the origin. The origin is regenerated on the next action.
// Builds in flight are cancelled and drained before anything is wiped.
func (e *Engine) ResetWorld(ctx context.Context) error {
	err := e.pipeline.Reset(ctx, func(ctx context.Context) error {
		if err := e.durable.Reset(ctx); err != nil {
			return fmt.Errorf("resetting durable store: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.pipeline.Wait()
	if err := e.gate.ClearAll(ctx); err != nil {
		return err
	}
	e.combat.Reset()
	e.sessions.ResetAll(world.RoomID(Origin))
	for _, uid := range e.sessions.PlayerUIDsInRoom(world.RoomID(Origin)) {
		_ = e.sessions.Notify(uid, session.Notice{Kind: session.NoticeWorld, Text: "The world dissolves and reforms around you."})
	}
	e.logger.Warn("world reset")
	return nil
}

func (e *Engine) ok(r *world.Room, msg string) *Outcome {
	return &Outcome{Kind: OutcomeOK, Message: msg, Room: r, Status: world.StatusReady}
}

func (e *Engine) broadcast(roomID, except string, n session.Notice) {
	for _, uid := range e.sessions.PlayerUIDsInRoom(roomID) {
		if uid != except {
			_ = e.sessions.Notify(uid, n)
		}
	}
}

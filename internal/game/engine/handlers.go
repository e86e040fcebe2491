package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/game/command"
	"github.com/cory-johannsen/wildlands/internal/game/encounter"
	"github.com/cory-johannsen/wildlands/internal/game/session"
	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage"
)

var errNoSuchItem = errors.New("no such item")

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// move takes the player one step in direction d. Stepping onto ground that
// does not exist yet is rate limited and triggers generation.
func (e *Engine) move(ctx context.Context, p *session.Player, current *world.Room, d world.Direction, log *zap.Logger) (*Outcome, error) {
	if current.Position == nil {
		return &Outcome{Kind: OutcomeNotFound, Message: "There is no way to go from here.", Room: current, Status: world.StatusReady}, nil
	}
	dest := current.Position.Neighbor(d)
	r, err := e.rooms.Room(ctx, dest)
	if err != nil {
		return nil, err
	}

	if r == nil {
		status, err := e.pipeline.GetGenerationStatus(ctx, world.RoomID(dest))
		if err != nil {
			return nil, err
		}
		// Joining a build already in flight does not count against the player.
		if status != world.StatusGenerating {
			decision, err := e.limiter.Take(ctx, p.UID, e.cfg.RateLimit, e.cfg.RateIntervalMinutes)
			if err != nil {
				return nil, err
			}
			if !decision.Allowed {
				log.Info("exploration rate limited",
					zap.Int("count", decision.Count),
					zap.Duration("until_reset", decision.TimeUntilReset),
				)
				return &Outcome{
					Kind: OutcomeRateLimited,
					Message: fmt.Sprintf("You are exploring too quickly. New ground opens to you again in %s.",
						decision.TimeUntilReset.Round(time.Second)),
					Room:      current,
					Status:    status,
					RateLimit: &decision,
				}, nil
			}
		}

		var out *Outcome
		r, out, err = e.ensure(ctx, dest)
		if err != nil {
			return nil, err
		}
		if out != nil {
			out.Room = current
			log.Info("move did not complete", zap.String("kind", string(out.Kind)), zap.Stringer("destination", dest))
			return out, nil
		}
	}
	return e.enter(ctx, p, current, r, fmt.Sprintf("You head %s.\n", d))
}

// retreat moves the player back to the room they came from.
func (e *Engine) retreat(ctx context.Context, p *session.Player, current *world.Room, log *zap.Logger) (*Outcome, error) {
	last, ok, err := e.gate.LastRoom(ctx, p.UID)
	if err != nil {
		return nil, err
	}
	if ok && current.Position != nil {
		for _, d := range world.CardinalDirections {
			if world.RoomID(current.Position.Neighbor(d)) == last {
				return e.move(ctx, p, current, d, log)
			}
		}
	}
	return &Outcome{Kind: OutcomeNotFound, Message: "You have nowhere to retreat to.", Room: current, Status: world.StatusReady}, nil
}

// enter completes a successful move from one room into another.
func (e *Engine) enter(ctx context.Context, p *session.Player, from, to *world.Room, prefix string) (*Outcome, error) {
	if _, err := e.sessions.MovePlayer(p.UID, to.ID); err != nil {
		return nil, err
	}
	if err := e.gate.SetLastRoom(ctx, p.UID, from.ID); err != nil {
		return nil, err
	}
	if e.combat.Leave(p.UID) != "" {
		prefix = "You break away from the fight.\n" + prefix
	}

	if err := e.vacate(ctx, p.UID, from.ID); err != nil {
		return nil, err
	}
	e.broadcast(from.ID, p.UID, session.Notice{Kind: session.NoticeDeparture, Text: p.Name + " leaves."})

	to, err := e.occupy(ctx, p.UID, p.Name, to)
	if err != nil {
		return nil, err
	}
	e.broadcast(to.ID, p.UID, session.Notice{Kind: session.NoticeArrival, Text: p.Name + " arrives."})
	if _, err := e.sessions.Remember(p.UID, to.ID); err != nil {
		return nil, err
	}

	moved, _ := e.sessions.GetPlayer(p.UID)
	return e.arrive(ctx, moved, to, prefix)
}

// arrive arms the room's monsters, preloads its neighbours, and describes it.
func (e *Engine) arrive(ctx context.Context, p *session.Player, r *world.Room, prefix string) (*Outcome, error) {
	armed, err := e.gate.ArmRoom(ctx, r)
	if err != nil {
		return nil, err
	}
	var neighbors map[world.Direction]world.GenerationStatus
	if r.Position != nil {
		e.pipeline.PreloadAdjacent(*r.Position)
		if neighbors, err = e.pipeline.NeighborStatuses(ctx, *r.Position); err != nil {
			return nil, err
		}
	}
	msg := prefix + describe(r, without(e.sessions.PlayersInRoom(r.ID), p.Name), neighbors)
	if armed > 0 {
		msg += "\nSomething here will not let you pass. Only the way you came is safe."
	}
	return &Outcome{Kind: OutcomeOK, Message: msg, Room: r, Status: world.StatusReady, Neighbors: neighbors}, nil
}

func (e *Engine) look(ctx context.Context, p *session.Player, current *world.Room) (*Outcome, error) {
	var neighbors map[world.Direction]world.GenerationStatus
	if current.Position != nil {
		var err error
		if neighbors, err = e.pipeline.NeighborStatuses(ctx, *current.Position); err != nil {
			return nil, err
		}
	}
	out := e.ok(current, describe(current, without(e.sessions.PlayersInRoom(current.ID), p.Name), neighbors))
	out.Neighbors = neighbors
	return out, nil
}

func (e *Engine) take(ctx context.Context, p *session.Player, current *world.Room, target string) (*Outcome, error) {
	var taken string
	updated, err := e.rooms.UpdateRoom(ctx, current.ID, func(r *world.Room) error {
		item, ok := r.TakeItem(target)
		if !ok {
			return errNoSuchItem
		}
		taken = item
		return nil
	})
	if errors.Is(err, errNoSuchItem) {
		return &Outcome{Kind: OutcomeNotFound, Message: fmt.Sprintf("There is no %s here.", target), Room: current, Status: world.StatusReady}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := e.sessions.AddItem(p.UID, taken); err != nil {
		return nil, err
	}
	return e.ok(updated, fmt.Sprintf("You take the %s.", taken)), nil
}

// attack provokes a monster, which stays hostile until the room is cleared.
func (e *Engine) attack(ctx context.Context, p *session.Player, current *world.Room, action command.Action) (*Outcome, error) {
	m, ok := current.MonsterByName(action.Target)
	if !ok {
		return &Outcome{Kind: OutcomeNotFound, Message: fmt.Sprintf("There is no %s here.", action.Target), Room: current, Status: world.StatusReady}, nil
	}
	if err := e.gate.MarkAggressive(ctx, current.ID, m.ID, m.Name); err != nil {
		return nil, err
	}
	msg, err := e.gate.HandleCombatInitiation(ctx, p.UID, m.ID, current.ID, action)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Kind:    OutcomeCombat,
		Message: msg,
		Room:    current,
		Status:  world.StatusReady,
		Blocker: &encounter.Blocker{MonsterID: m.ID, MonsterName: m.Name, RoomID: current.ID},
	}, nil
}

func (e *Engine) occupy(ctx context.Context, uid, name string, r *world.Room) (*world.Room, error) {
	updated, err := e.rooms.UpdateRoom(ctx, r.ID, func(r *world.Room) error {
		r.AddPlayer(uid)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("placing %s in %q: %w", name, r.ID, err)
	}
	return updated, nil
}

func (e *Engine) vacate(ctx context.Context, uid, roomID string) error {
	_, err := e.rooms.UpdateRoom(ctx, roomID, func(r *world.Room) error {
		r.RemovePlayer(uid)
		return nil
	})
	if isNotFound(err) {
		return nil
	}
	return err
}

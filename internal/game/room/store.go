// Package room owns room records, the coordinate index, and the discovery
// ledger, and keeps the three consistent.
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage"
)

// ErrCoordinateImmutable is returned when a write would move an existing room.
var ErrCoordinateImmutable = errors.New("room coordinate is immutable")

// ErrInvalidRoom is returned for rooms whose id is empty or disagrees with
// the id derived from their coordinate.
var ErrInvalidRoom = errors.New("invalid room")

// Store is the room repository consumed by the generation pipeline and the
// world engine. Writes to the same room id are serialized; unrelated rooms
// never contend.
type Store struct {
	db     storage.RoomRecords
	locks  *keyedMutex
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a Store over db.
//
// Precondition: db and logger must be non-nil.
func NewStore(db storage.RoomRecords, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		locks:  newKeyedMutex(),
		logger: logger.Named("rooms"),
		now:    time.Now,
	}
}

// GetRoom returns a copy of the room with id.
//
// Postcondition: Returns storage.ErrNotFound for an unknown id.
func (s *Store) GetRoom(ctx context.Context, id string) (*world.Room, error) {
	r, err := s.db.GetRoom(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting room %q: %w", id, err)
	}
	return r, nil
}

// SetRoom writes room together with its coordinate index and ledger entries.
//
// Precondition: room.ID must be non-empty and, for grid rooms, equal RoomID(*room.Position).
// Postcondition: Readers observe the room, index, and ledger entry together or
// not at all. Returns ErrCoordinateImmutable if an existing room with the same
// id has a different position.
func (s *Store) SetRoom(ctx context.Context, room *world.Room) error {
	if err := validate(room); err != nil {
		return err
	}
	unlock := s.locks.Lock(room.ID)
	defer unlock()

	existing, err := s.db.GetRoom(ctx, room.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("checking room %q: %w", room.ID, err)
	default:
		if !samePosition(existing.Position, room.Position) {
			return fmt.Errorf("room %q: %w", room.ID, ErrCoordinateImmutable)
		}
	}
	return s.put(ctx, room)
}

// UpdateRoom applies fn to a copy of the room and writes the result. The
// read-modify-write is serialized against other writers of the same room.
//
// Precondition: fn must not change the room's ID or Position.
// Postcondition: Returns the written room, storage.ErrNotFound for an unknown
// id, or fn's error with nothing written.
func (s *Store) UpdateRoom(ctx context.Context, id string, fn func(*world.Room) error) (*world.Room, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.db.GetRoom(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading room %q: %w", id, err)
	}
	before := r.Position
	if err := fn(r); err != nil {
		return nil, err
	}
	if r.ID != id {
		return nil, fmt.Errorf("room %q: %w: id changed to %q", id, ErrInvalidRoom, r.ID)
	}
	if !samePosition(before, r.Position) {
		return nil, fmt.Errorf("room %q: %w", id, ErrCoordinateImmutable)
	}
	if err := s.put(ctx, r); err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

func (s *Store) put(ctx context.Context, room *world.Room) error {
	room.UpdatedAt = s.now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = room.UpdatedAt
	}
	if err := s.db.PutRoom(ctx, room); err != nil {
		return fmt.Errorf("writing room %q: %w", room.ID, err)
	}
	return nil
}

// GetRoomAt returns the id of the room stored at c.
//
// Postcondition: Returns ("", false, nil) when no room with matching stored
// coordinates exists, even if a stale index entry does.
func (s *Store) GetRoomAt(ctx context.Context, c world.Coordinate) (string, bool, error) {
	id, err := s.db.RoomIDAt(ctx, c)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up %s: %w", c, err)
	}
	return s.confirm(ctx, c, id)
}

// Room returns the room stored at c.
//
// Postcondition: Returns (nil, nil) when no room exists at c.
func (s *Store) Room(ctx context.Context, c world.Coordinate) (*world.Room, error) {
	id, ok, err := s.GetRoomAt(ctx, c)
	if err != nil || !ok {
		return nil, err
	}
	r, err := s.db.GetRoom(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading room %q: %w", id, err)
	}
	return r, nil
}

// IsDiscovered reports whether the ledger records c and the recorded room
// exists with matching stored coordinates.
func (s *Store) IsDiscovered(ctx context.Context, c world.Coordinate) (bool, error) {
	id, err := s.db.LedgerEntry(ctx, c)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading ledger at %s: %w", c, err)
	}
	_, ok, err := s.confirm(ctx, c, id)
	return ok, err
}

// confirm checks that room id exists and is stored at c. A mismatch is a
// consistency fault: it is logged and reported as absent.
func (s *Store) confirm(ctx context.Context, c world.Coordinate, id string) (string, bool, error) {
	r, err := s.db.GetRoom(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("index entry points at missing room", zap.Stringer("coordinate", c), zap.String("room_id", id))
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading room %q: %w", id, err)
	}
	if r.Position == nil || *r.Position != c {
		s.logger.Warn("index entry disagrees with room coordinates", zap.Stringer("coordinate", c), zap.String("room_id", id))
		return "", false, nil
	}
	return id, true, nil
}

// GetDiscoveredCoordinates returns the discovery ledger as "x,y" → room id.
func (s *Store) GetDiscoveredCoordinates(ctx context.Context) (map[string]string, error) {
	ledger, err := s.db.Ledger(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return ledger, nil
}

func validate(room *world.Room) error {
	if room == nil || room.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRoom)
	}
	if room.Position != nil && room.ID != world.RoomID(*room.Position) {
		return fmt.Errorf("%w: id %q does not match coordinate %s", ErrInvalidRoom, room.ID, room.Position)
	}
	return nil
}

func samePosition(a, b *world.Coordinate) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

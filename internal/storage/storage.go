// Package storage defines the two store contracts the world engine consumes:
// a fast ephemeral key/value store and a durable structured store.
package storage

import (
	"context"
	"errors"

	"github.com/cory-johannsen/wildlands/internal/game/world"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnavailable marks a backing store that cannot serve requests. It is the
// only storage failure the engine treats as fatal to a request.
var ErrUnavailable = errors.New("store unavailable")

// Ephemeral is a fast, non-durable key/value store holding generation status
// flags, rate-limiter windows, and encounter tracking.
//
// All methods are safe for concurrent use.
type Ephemeral interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns every key starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Append pushes value onto the tail of the list at key.
	Append(ctx context.Context, key, value string) (int, error)
	// Range returns list elements in [start, stop]; negative indexes count from the tail.
	Range(ctx context.Context, key string, start, stop int) ([]string, error)
	// Trim keeps only list elements in [start, stop].
	Trim(ctx context.Context, key string, start, stop int) error
	// DeletePrefix removes every key starting with prefix and returns the count removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// RoomSnapshot is a point-in-time view of rooms, the coordinate index, and
// the discovery ledger, read as one consistent unit.
type RoomSnapshot struct {
	Rooms  []*world.Room
	Index  map[world.Coordinate]string
	Ledger map[world.Coordinate]string
}

// RoomRecords persists rooms together with the coordinate index and the
// discovery ledger.
type RoomRecords interface {
	// GetRoom returns a copy of the stored room or ErrNotFound.
	GetRoom(ctx context.Context, id string) (*world.Room, error)
	// PutRoom writes room and, when it has a position, its coordinate index and
	// ledger entries as one atomic unit.
	PutRoom(ctx context.Context, room *world.Room) error
	// RoomIDAt returns the indexed room id at c or ErrNotFound.
	RoomIDAt(ctx context.Context, c world.Coordinate) (string, error)
	// LedgerEntry returns the discovered room id at c or ErrNotFound.
	LedgerEntry(ctx context.Context, c world.Coordinate) (string, error)
	// Ledger returns every discovery entry keyed by Coordinate.Key.
	Ledger(ctx context.Context) (map[string]string, error)
	// CoordinateIndex returns every coordinate index entry keyed by Coordinate.Key.
	CoordinateIndex(ctx context.Context) (map[string]string, error)
	// ListRooms returns copies of every stored room.
	ListRooms(ctx context.Context) ([]*world.Room, error)
	// Snapshot reads every room, index entry, and ledger entry without
	// interleaving any write.
	Snapshot(ctx context.Context) (*RoomSnapshot, error)
	// PutIndexEntry sets both the coordinate index and ledger entry at c.
	PutIndexEntry(ctx context.Context, c world.Coordinate, roomID string) error
	// DeleteIndexEntry removes both the coordinate index and ledger entry at c.
	DeleteIndexEntry(ctx context.Context, c world.Coordinate) error
}

// BiomeRecords persists biomes, chunk assignments, and landmark rooms.
type BiomeRecords interface {
	// GetBiome returns the biome with canonical name or ErrNotFound.
	GetBiome(ctx context.Context, name string) (*world.Biome, error)
	// InsertBiomeIfAbsent stores b unless a biome with the same canonical name
	// exists. It returns the stored record and whether b was inserted.
	InsertBiomeIfAbsent(ctx context.Context, b *world.Biome) (*world.Biome, bool, error)
	// ListBiomes returns every stored biome.
	ListBiomes(ctx context.Context) ([]*world.Biome, error)
	// ChunkBiome returns the canonical biome name assigned to chunk or ErrNotFound.
	ChunkBiome(ctx context.Context, chunk world.ChunkID) (string, error)
	// AssignChunkBiome assigns name to chunk unless the chunk is already assigned,
	// and returns the name that holds after the call.
	AssignChunkBiome(ctx context.Context, chunk world.ChunkID, name string) (string, error)
	// SetLandmark sets the landmark room of biome name, last write wins.
	SetLandmark(ctx context.Context, name, roomID string) error
	// ClaimLandmark sets the landmark room only if none is set.
	ClaimLandmark(ctx context.Context, name, roomID string) (bool, error)
}

// Durable is the full durable structured store.
type Durable interface {
	RoomRecords
	BiomeRecords
	// Reset atomically clears rooms, index, ledger, biomes, chunk assignments,
	// and landmark rooms.
	Reset(ctx context.Context) error
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage"
)

// Durable is an in-process implementation of storage.Durable. A single lock
// makes each room write (record + index + ledger) atomic to readers.
type Durable struct {
	mu        sync.RWMutex
	rooms     map[string]*world.Room
	index     map[world.Coordinate]string
	ledger    map[world.Coordinate]string
	biomes    map[string]*world.Biome
	chunks    map[world.ChunkID]string
	landmarks map[string]string
}

var _ storage.Durable = (*Durable)(nil)

// NewDurable creates an empty in-memory durable store.
func NewDurable() *Durable {
	d := &Durable{}
	d.clear()
	return d
}

func (d *Durable) clear() {
	d.rooms = make(map[string]*world.Room)
	d.index = make(map[world.Coordinate]string)
	d.ledger = make(map[world.Coordinate]string)
	d.biomes = make(map[string]*world.Biome)
	d.chunks = make(map[world.ChunkID]string)
	d.landmarks = make(map[string]string)
}

// GetRoom returns a copy of the room with id.
func (d *Durable) GetRoom(_ context.Context, id string) (*world.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

// PutRoom stores a copy of room and updates index and ledger in the same
// critical section.
func (d *Durable) PutRoom(_ context.Context, room *world.Room) error {
	if room == nil || room.ID == "" {
		return fmt.Errorf("memory.PutRoom: room id must not be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[room.ID] = room.Clone()
	if room.Position != nil {
		d.index[*room.Position] = room.ID
		d.ledger[*room.Position] = room.ID
	}
	return nil
}

// RoomIDAt returns the indexed room id at c.
func (d *Durable) RoomIDAt(_ context.Context, c world.Coordinate) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.index[c]
	if !ok {
		return "", storage.ErrNotFound
	}
	return id, nil
}

// LedgerEntry returns the discovery ledger entry at c.
func (d *Durable) LedgerEntry(_ context.Context, c world.Coordinate) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.ledger[c]
	if !ok {
		return "", storage.ErrNotFound
	}
	return id, nil
}

// Ledger returns a snapshot of the discovery ledger.
func (d *Durable) Ledger(_ context.Context) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.ledger))
	for c, id := range d.ledger {
		out[c.Key()] = id
	}
	return out, nil
}

// CoordinateIndex returns a snapshot of the coordinate index.
func (d *Durable) CoordinateIndex(_ context.Context) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.index))
	for c, id := range d.index {
		out[c.Key()] = id
	}
	return out, nil
}

// ListRooms returns copies of all rooms sorted by id.
func (d *Durable) ListRooms(_ context.Context) ([]*world.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*world.Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Snapshot copies rooms, index, and ledger under one read lock.
func (d *Durable) Snapshot(_ context.Context) (*storage.RoomSnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := &storage.RoomSnapshot{
		Rooms:  make([]*world.Room, 0, len(d.rooms)),
		Index:  make(map[world.Coordinate]string, len(d.index)),
		Ledger: make(map[world.Coordinate]string, len(d.ledger)),
	}
	for _, r := range d.rooms {
		snap.Rooms = append(snap.Rooms, r.Clone())
	}
	sort.Slice(snap.Rooms, func(i, j int) bool { return snap.Rooms[i].ID < snap.Rooms[j].ID })
	for c, id := range d.index {
		snap.Index[c] = id
	}
	for c, id := range d.ledger {
		snap.Ledger[c] = id
	}
	return snap, nil
}

// PutIndexEntry sets index and ledger entries at c.
func (d *Durable) PutIndexEntry(_ context.Context, c world.Coordinate, roomID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.index[c] = roomID
	d.ledger[c] = roomID
	return nil
}

// DeleteIndexEntry removes index and ledger entries at c.
func (d *Durable) DeleteIndexEntry(_ context.Context, c world.Coordinate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.index, c)
	delete(d.ledger, c)
	return nil
}

// GetBiome returns the biome stored under the canonical name.
func (d *Durable) GetBiome(_ context.Context, name string) (*world.Biome, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.biomes[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return d.withLandmark(b), nil
}

// InsertBiomeIfAbsent stores b unless its canonical name is taken.
func (d *Durable) InsertBiomeIfAbsent(_ context.Context, b *world.Biome) (*world.Biome, bool, error) {
	if b == nil || b.Name == "" {
		return nil, false, fmt.Errorf("memory.InsertBiomeIfAbsent: biome name must not be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.biomes[b.Name]; ok {
		return d.withLandmark(existing), false, nil
	}
	cp := *b
	d.biomes[b.Name] = &cp
	return d.withLandmark(&cp), true, nil
}

// ListBiomes returns every biome sorted by name.
func (d *Durable) ListBiomes(_ context.Context) ([]*world.Biome, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*world.Biome, 0, len(d.biomes))
	for _, b := range d.biomes {
		out = append(out, d.withLandmark(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ChunkBiome returns the biome name assigned to chunk.
func (d *Durable) ChunkBiome(_ context.Context, chunk world.ChunkID) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.chunks[chunk]
	if !ok {
		return "", storage.ErrNotFound
	}
	return name, nil
}

// AssignChunkBiome records the first assignment for chunk and returns the winner.
func (d *Durable) AssignChunkBiome(_ context.Context, chunk world.ChunkID, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.chunks[chunk]; ok {
		return existing, nil
	}
	if _, ok := d.biomes[name]; !ok {
		return "", fmt.Errorf("memory.AssignChunkBiome: biome %q: %w", name, storage.ErrNotFound)
	}
	d.chunks[chunk] = name
	return name, nil
}

// SetLandmark overwrites the landmark room for biome name.
func (d *Durable) SetLandmark(_ context.Context, name, roomID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.biomes[name]; !ok {
		return storage.ErrNotFound
	}
	d.landmarks[name] = roomID
	return nil
}

// ClaimLandmark sets the landmark room for name only if none is set.
func (d *Durable) ClaimLandmark(_ context.Context, name, roomID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.biomes[name]; !ok {
		return false, storage.ErrNotFound
	}
	if _, taken := d.landmarks[name]; taken {
		return false, nil
	}
	d.landmarks[name] = roomID
	return true, nil
}

// Reset clears every durable record.
func (d *Durable) Reset(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clear()
	return nil
}

// withLandmark returns a copy of b with its landmark room filled in.
// Caller must hold d.mu.
func (d *Durable) withLandmark(b *world.Biome) *world.Biome {
	cp := *b
	cp.LandmarkRoomID = d.landmarks[b.Name]
	return &cp
}

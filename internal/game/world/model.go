// Package world provides the grid world model: coordinates, directions, chunks,
// biomes, rooms, and per-room generation status.
package world

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Direction represents an orthogonal movement direction on the grid.
type Direction string

// Orthogonal grid directions.
const (
	North Direction = "north"
	East  Direction = "east"
	South Direction = "south"
	West  Direction = "west"
)

// CardinalDirections lists the four orthogonal directions in a fixed order.
var CardinalDirections = []Direction{North, East, South, West}

// IsCardinal reports whether d is one of the four orthogonal directions.
func (d Direction) IsCardinal() bool {
	switch d {
	case North, East, South, West:
		return true
	default:
		return false
	}
}

// Opposite returns the reverse of d, or an empty Direction for unknown values.
func (d Direction) Opposite() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	default:
		return ""
	}
}

// Delta returns the coordinate offset for one step in direction d.
// North increases Y; East increases X.
//
// Postcondition: Returns (0, 0) for non-cardinal directions.
func (d Direction) Delta() (dx, dy int) {
	switch d {
	case North:
		return 0, 1
	case South:
		return 0, -1
	case East:
		return 1, 0
	case West:
		return -1, 0
	default:
		return 0, 0
	}
}

// ParseDirection resolves a full direction name or its single-letter alias.
//
// Postcondition: Returns (dir, true) for n/e/s/w and their long forms, ("", false) otherwise.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n", "north":
		return North, true
	case "e", "east":
		return East, true
	case "s", "south":
		return South, true
	case "w", "west":
		return West, true
	default:
		return "", false
	}
}

// Coordinate is a position on the unbounded integer grid.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Key returns the canonical "x,y" string used by the discovery ledger.
func (c Coordinate) Key() string {
	return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Y)
}

// String implements fmt.Stringer.
func (c Coordinate) String() string {
	return "(" + c.Key() + ")"
}

// Neighbor returns the coordinate one step away in direction d.
func (c Coordinate) Neighbor(d Direction) Coordinate {
	dx, dy := d.Delta()
	return Coordinate{X: c.X + dx, Y: c.Y + dy}
}

// ParseCoordinate parses a ledger key of the form "x,y".
//
// Postcondition: Returns the Coordinate or an error on malformed input.
func ParseCoordinate(key string) (Coordinate, error) {
	xs, ys, ok := strings.Cut(key, ",")
	if !ok {
		return Coordinate{}, fmt.Errorf("coordinate key %q: missing comma", key)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return Coordinate{}, fmt.Errorf("coordinate key %q: x: %w", key, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return Coordinate{}, fmt.Errorf("coordinate key %q: y: %w", key, err)
	}
	return Coordinate{X: x, Y: y}, nil
}

const roomIDPrefix = "room_"

// RoomID derives the stable room id for coordinate c.
func RoomID(c Coordinate) string {
	return roomIDPrefix + strconv.Itoa(c.X) + "_" + strconv.Itoa(c.Y)
}

// CoordinateFromRoomID inverts RoomID.
//
// Postcondition: Returns (coord, true) for ids produced by RoomID, (Coordinate{}, false) otherwise.
func CoordinateFromRoomID(id string) (Coordinate, bool) {
	rest, ok := strings.CutPrefix(id, roomIDPrefix)
	if !ok {
		return Coordinate{}, false
	}
	// x may be negative, so split on the last underscore.
	idx := strings.LastIndexByte(rest, '_')
	if idx <= 0 {
		return Coordinate{}, false
	}
	x, err := strconv.Atoi(rest[:idx])
	if err != nil {
		return Coordinate{}, false
	}
	y, err := strconv.Atoi(rest[idx+1:])
	if err != nil {
		return Coordinate{}, false
	}
	return Coordinate{X: x, Y: y}, true
}

// ChunkID identifies a fixed-size square block of coordinates.
type ChunkID struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String returns the "cx:cy" form used as the chunk assignment key.
func (c ChunkID) String() string {
	return strconv.Itoa(c.X) + ":" + strconv.Itoa(c.Y)
}

// ParseChunkID parses the "cx:cy" form produced by String.
func ParseChunkID(s string) (ChunkID, error) {
	xs, ys, ok := strings.Cut(s, ":")
	if !ok {
		return ChunkID{}, fmt.Errorf("chunk id %q: missing colon", s)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return ChunkID{}, fmt.Errorf("chunk id %q: %w", s, err)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return ChunkID{}, fmt.Errorf("chunk id %q: %w", s, err)
	}
	return ChunkID{X: x, Y: y}, nil
}

// ChunkOf returns the chunk containing c for chunks of side length size.
// Division floors toward negative infinity so (-1, -1) lands in chunk (-1, -1).
//
// Precondition: size >= 1.
func ChunkOf(c Coordinate, size int) ChunkID {
	return ChunkID{X: floorDiv(c.X, size), Y: floorDiv(c.Y, size)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Neighbors returns the adjacent chunk ids in N, E, S, W order, followed by
// NE, SE, SW, NW when diagonals is true.
func (c ChunkID) Neighbors(diagonals bool) []ChunkID {
	out := []ChunkID{
		{X: c.X, Y: c.Y + 1},
		{X: c.X + 1, Y: c.Y},
		{X: c.X, Y: c.Y - 1},
		{X: c.X - 1, Y: c.Y},
	}
	if diagonals {
		out = append(out,
			ChunkID{X: c.X + 1, Y: c.Y + 1},
			ChunkID{X: c.X + 1, Y: c.Y - 1},
			ChunkID{X: c.X - 1, Y: c.Y - 1},
			ChunkID{X: c.X - 1, Y: c.Y + 1},
		)
	}
	return out
}

// Biome is a named environmental theme shared by a cluster of chunks.
//
// Invariant: Name is always in canonical form (see NormalizeBiomeName) and is
// the biome's identity key; DisplayName keeps the generator's original casing.
type Biome struct {
	Name           string    `json:"name"`
	DisplayName    string    `json:"display_name"`
	Description    string    `json:"description"`
	Color          string    `json:"color"`
	LandmarkRoomID string    `json:"landmark_room_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NormalizeBiomeName returns the canonical identity key for a biome name:
// trimmed, lower-cased, with internal whitespace runs collapsed to one space.
func NormalizeBiomeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Monster is a creature occupying a room.
type Monster struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Aggressive monsters block non-retreat actions while a player shares their room.
	Aggressive bool `json:"aggressive"`
}

// Image generation states recorded on a room. Rooms are stored pending with
// their ImagePrompt; the image renderer, which runs outside this module, owns
// the move to ready or failed and fills ImageURL. Nothing here advances it.
const (
	ImagePending = "pending"
	ImageReady   = "ready"
	ImageFailed  = "failed"
)

// Room is a single generated location on the grid.
//
// Invariant: ID and Position never change once the room is stored.
type Room struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImagePrompt string `json:"image_prompt,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	// ImageStatus is written by the external image renderer; see ImagePending.
	ImageStatus string `json:"image_status,omitempty"`
	// Position is nil only for rooms that do not live on the grid.
	Position  *Coordinate `json:"position,omitempty"`
	Chunk     ChunkID     `json:"chunk"`
	BiomeName string      `json:"biome_name,omitempty"`
	// Landmark marks the biome's designated three-star room.
	Landmark    bool                 `json:"landmark,omitempty"`
	Connections map[Direction]string `json:"connections"`
	Players     []string             `json:"players"`
	Monsters    []Monster            `json:"monsters"`
	Items       []string             `json:"items"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Clone returns a deep copy of r so callers can mutate it without racing readers.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := *r
	if r.Position != nil {
		p := *r.Position
		out.Position = &p
	}
	if r.Connections != nil {
		out.Connections = make(map[Direction]string, len(r.Connections))
		for k, v := range r.Connections {
			out.Connections[k] = v
		}
	}
	out.Players = append([]string(nil), r.Players...)
	out.Monsters = append([]Monster(nil), r.Monsters...)
	out.Items = append([]string(nil), r.Items...)
	return &out
}

// HasPlayer reports whether uid is listed as an occupant.
func (r *Room) HasPlayer(uid string) bool {
	for _, p := range r.Players {
		if p == uid {
			return true
		}
	}
	return false
}

// AddPlayer adds uid to the occupant list if absent.
func (r *Room) AddPlayer(uid string) {
	if !r.HasPlayer(uid) {
		r.Players = append(r.Players, uid)
	}
}

// RemovePlayer removes uid from the occupant list.
func (r *Room) RemovePlayer(uid string) {
	out := r.Players[:0]
	for _, p := range r.Players {
		if p != uid {
			out = append(out, p)
		}
	}
	r.Players = out
}

// MonsterByName returns the first monster whose name has target as a
// case-insensitive prefix.
func (r *Room) MonsterByName(target string) (Monster, bool) {
	lower := strings.ToLower(strings.TrimSpace(target))
	for _, m := range r.Monsters {
		if strings.HasPrefix(strings.ToLower(m.Name), lower) {
			return m, true
		}
	}
	return Monster{}, false
}

// TakeItem removes the first item matching name (case-insensitive).
//
// Postcondition: Returns the removed item name and true, or ("", false) if absent.
func (r *Room) TakeItem(name string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for i, it := range r.Items {
		if strings.ToLower(it) == lower {
			r.Items = append(r.Items[:i], r.Items[i+1:]...)
			return it, true
		}
	}
	return "", false
}

// NewGridRoom builds an empty room at c with connections to its four neighbours.
func NewGridRoom(c Coordinate, chunkSize int, now time.Time) *Room {
	pos := c
	conns := make(map[Direction]string, len(CardinalDirections))
	for _, d := range CardinalDirections {
		conns[d] = RoomID(c.Neighbor(d))
	}
	return &Room{
		ID:          RoomID(c),
		Position:    &pos,
		Chunk:       ChunkOf(c, chunkSize),
		ImageStatus: ImagePending,
		Connections: conns,
		Players:     []string{},
		Monsters:    []Monster{},
		Items:       []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// GenerationStatus tracks the content-generation lifecycle of a room.
type GenerationStatus int

// Generation lifecycle: NotStarted → Generating → {Ready, Failed}.
const (
	StatusNotStarted GenerationStatus = iota
	StatusGenerating
	StatusReady
	StatusFailed
)

// String returns the wire name of s.
func (s GenerationStatus) String() string {
	switch s {
	case StatusNotStarted:
		return "NOT_STARTED"
	case StatusGenerating:
		return "GENERATING"
	case StatusReady:
		return "READY"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ParseGenerationStatus inverts GenerationStatus.String.
func ParseGenerationStatus(s string) (GenerationStatus, bool) {
	switch s {
	case "NOT_STARTED":
		return StatusNotStarted, true
	case "GENERATING":
		return StatusGenerating, true
	case "READY":
		return StatusReady, true
	case "FAILED":
		return StatusFailed, true
	default:
		return StatusNotStarted, false
	}
}

package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Player is a snapshot of one connected player's state.
type Player struct {
	UID  string
	Name string
	// RoomID is the room the player occupies.
	RoomID string
	// LastRoomID is the room the player occupied before their most recent
	// successful move; empty until they have moved.
	LastRoomID string
	Inventory  []string
	// Visited holds the ids of rooms the player has entered, in first-visit order.
	Visited []string
}

type player struct {
	Player
	visited map[string]bool
	mailbox *Mailbox
}

func (p *player) snapshot() *Player {
	out := p.Player
	out.Inventory = append([]string(nil), p.Inventory...)
	out.Visited = append([]string(nil), p.Visited...)
	return &out
}

// Manager tracks all connected players and room occupancy.
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	players  map[string]*player         // uid → player
	roomSets map[string]map[string]bool // roomID → set of UIDs
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		players:  make(map[string]*player),
		roomSets: make(map[string]map[string]bool),
	}
}

// AddPlayer registers a player in roomID.
//
// Precondition: uid, name, and roomID must be non-empty.
// Postcondition: Returns a snapshot of the new player, or an error if uid is already connected.
func (m *Manager) AddPlayer(uid, name, roomID string) (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.players[uid]; exists {
		return nil, fmt.Errorf("player %q already connected", uid)
	}
	p := &player{
		Player: Player{
			UID:       uid,
			Name:      name,
			RoomID:    roomID,
			Inventory: []string{},
			Visited:   []string{},
		},
		visited: make(map[string]bool),
		mailbox: NewMailbox(uid, 32),
	}
	m.players[uid] = p
	m.enter(uid, roomID)
	return p.snapshot(), nil
}

// RemovePlayer disconnects uid and closes their mailbox.
//
// Postcondition: Returns an error if uid is not connected.
func (m *Manager) RemovePlayer(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.players[uid]
	if !exists {
		return fmt.Errorf("player %q not found", uid)
	}
	m.leave(uid, p.RoomID)
	_ = p.mailbox.Close()
	delete(m.players, uid)
	return nil
}

// GetPlayer returns a snapshot of uid's state.
//
// Postcondition: Returns (nil, false) if uid is not connected.
func (m *Manager) GetPlayer(uid string) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[uid]
	if !ok {
		return nil, false
	}
	return p.snapshot(), true
}

// MovePlayer moves uid into newRoomID and records the room they left as
// their last room.
//
// Postcondition: Returns the old room id, or an error if uid is not connected.
func (m *Manager) MovePlayer(uid, newRoomID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.players[uid]
	if !exists {
		return "", fmt.Errorf("player %q not found", uid)
	}
	old := p.RoomID
	if old == newRoomID {
		return old, nil
	}
	m.leave(uid, old)
	p.RoomID = newRoomID
	p.LastRoomID = old
	m.enter(uid, newRoomID)
	return old, nil
}

// Relocate places uid in roomID without touching their last room. Used to
// re-home players whose room no longer exists.
func (m *Manager) Relocate(uid, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.players[uid]
	if !exists {
		return fmt.Errorf("player %q not found", uid)
	}
	m.leave(uid, p.RoomID)
	p.RoomID = roomID
	p.LastRoomID = ""
	m.enter(uid, roomID)
	return nil
}

// PlayersInRoom returns the names of players in roomID, sorted.
func (m *Manager) PlayersInRoom(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uids := m.roomSets[roomID]
	names := make([]string, 0, len(uids))
	for uid := range uids {
		if p, ok := m.players[uid]; ok {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names
}

// PlayerUIDsInRoom returns the ids of players in roomID, sorted.
func (m *Manager) PlayerUIDsInRoom(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uids := make([]string, 0, len(m.roomSets[roomID]))
	for uid := range m.roomSets[roomID] {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// AddItem appends item to uid's inventory.
func (m *Manager) AddItem(uid, item string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[uid]
	if !ok {
		return fmt.Errorf("player %q not found", uid)
	}
	p.Inventory = append(p.Inventory, strings.TrimSpace(item))
	return nil
}

// Remember records that uid has entered roomID.
//
// Postcondition: Returns true the first time uid enters roomID.
func (m *Manager) Remember(uid, roomID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[uid]
	if !ok {
		return false, fmt.Errorf("player %q not found", uid)
	}
	if p.visited[roomID] {
		return false, nil
	}
	p.visited[roomID] = true
	p.Visited = append(p.Visited, roomID)
	return true, nil
}

// Notify pushes n to uid's mailbox. Unknown players and full mailboxes are
// reported as errors; callers usually ignore them.
func (m *Manager) Notify(uid string, n Notice) error {
	m.mu.RLock()
	p, ok := m.players[uid]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("player %q not found", uid)
	}
	return p.mailbox.Push(n)
}

// Mailbox returns uid's mailbox.
func (m *Manager) Mailbox(uid string) (*Mailbox, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[uid]
	if !ok {
		return nil, false
	}
	return p.mailbox, true
}

// ResetAll moves every player to roomID and forgets their last rooms and
// visit history. Used after the world is wiped.
func (m *Manager) ResetAll(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.roomSets = make(map[string]map[string]bool)
	for uid, p := range m.players {
		p.RoomID = roomID
		p.LastRoomID = ""
		p.Visited = []string{}
		p.visited = make(map[string]bool)
		m.enter(uid, roomID)
	}
}

// PlayerCount returns the number of connected players.
func (m *Manager) PlayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

// enter and leave maintain roomSets. Callers hold m.mu.
func (m *Manager) enter(uid, roomID string) {
	if m.roomSets[roomID] == nil {
		m.roomSets[roomID] = make(map[string]bool)
	}
	m.roomSets[roomID][uid] = true
}

func (m *Manager) leave(uid, roomID string) {
	if rs, ok := m.roomSets[roomID]; ok {
		delete(rs, uid)
		if len(rs) == 0 {
			delete(m.roomSets, roomID)
		}
	}
}

// Package session tracks connected players, their positions on the grid, and
// room presence.
package session

import (
	"fmt"
	"sync"
)

// Notice is a message pushed to a player outside their own action responses,
// such as another player entering their room.
type Notice struct {
	Kind string
	Text string
}

// Notice kinds.
const (
	NoticeArrival   = "arrival"
	NoticeDeparture = "departure"
	NoticeCombat    = "combat"
	NoticeWorld     = "world"
)

// Mailbox buffers notices for one player until a transport drains them.
type Mailbox struct {
	uid     string
	notices chan Notice
	mu      sync.Mutex
	closed  bool
}

// NewMailbox creates a Mailbox for uid holding at most bufferSize notices.
//
// Precondition: uid must be non-empty.
// Postcondition: Returns an open Mailbox.
func NewMailbox(uid string, bufferSize int) *Mailbox {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Mailbox{
		uid:     uid,
		notices: make(chan Notice, bufferSize),
	}
}

// UID returns the owning player's id.
func (m *Mailbox) UID() string {
	return m.uid
}

// Push enqueues n without blocking.
//
// Postcondition: Returns an error if the mailbox is closed or full.
func (m *Mailbox) Push(n Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("mailbox %s is closed", m.uid)
	}
	select {
	case m.notices <- n:
		return nil
	default:
		return fmt.Errorf("mailbox %s is full", m.uid)
	}
}

// Notices returns the receive side of the mailbox.
func (m *Mailbox) Notices() <-chan Notice {
	return m.notices
}

// Drain returns every queued notice without blocking.
func (m *Mailbox) Drain() []Notice {
	var out []Notice
	for {
		select {
		case n, ok := <-m.notices:
			if !ok {
				return out
			}
			out = append(out, n)
		default:
			return out
		}
	}
}

// Close closes the mailbox. Closing twice is harmless.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.notices)
	}
	return nil
}

// IsClosed reports whether the mailbox has been closed.
func (m *Mailbox) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

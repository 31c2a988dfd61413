// Package presence tracks which users hold a live relay connection.
package presence

import (
	"sync"

	"github.com/google/uuid"
)

// Conn is a live connection owned by the registry while registered.
type Conn interface {
	// Send queues a frame without blocking; false means it was dropped.
	Send(frame []byte) bool
	Close()
}

// Registry maps each online user to exactly one connection.
type Registry struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]Conn
	byConn map[Conn]uuid.UUID
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[uuid.UUID]Conn),
		byConn: make(map[Conn]uuid.UUID),
	}
}

// Connect registers conn for userID and returns the connection it replaced,
// if any. The replaced connection is forgotten; closing it is up to the caller.
func (r *Registry) Connect(userID uuid.UUID, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.byUser[userID]
	if ok {
		delete(r.byConn, prev)
	}
	if owner, ok := r.byConn[conn]; ok && owner != userID {
		delete(r.byUser, owner)
	}

	r.byUser[userID] = conn
	r.byConn[conn] = userID

	if prev == conn {
		return nil
	}
	return prev
}

// Disconnect removes the entry owned by conn. Unknown or already replaced
// connections are ignored and report removed=false.
func (r *Registry) Disconnect(conn Conn) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.byConn, conn)
	delete(r.byUser, userID)
	return userID, true
}

// Lookup returns the live connection for userID
func (r *Registry) Lookup(userID uuid.UUID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byUser[userID]
	return conn, ok
}

// Online returns a snapshot of the connected user ids in no particular order
func (r *Registry) Online() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	return ids
}

// Conns returns a snapshot of every registered connection
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

package chat

import (
	"io"
	"log/slog"
	"sync"
)

// Conn is a live room member as the registry sees it. Send must not block:
// a connection that cannot take the payload right away reports an error and
// is dropped from the registry.
type Conn interface {
	ID() string
	Send(payload []byte) error
}

// Registry maps room IDs to the set of connections currently joined to
// them. All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Conn
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:  make(map[string]map[string]Conn),
		logger: logger,
	}
}

// Register adds conn to the room, creating the room entry when needed.
// Registering the same connection twice is a no-op.
func (r *Registry) Register(roomID string, conn Conn) {
	if conn == nil {
		r.logger.Warn("registry: nil connection registration skipped", "room", roomID)
		return
	}

	r.mu.Lock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Conn)
		r.rooms[roomID] = members
	}
	members[conn.ID()] = conn
	count := len(members)
	r.mu.Unlock()

	r.logger.Debug("registry: connection registered", "room", roomID, "conn", conn.ID(), "members", count)
}

// Unregister removes conn from the room and drops the room entry once it is
// empty. Removing an absent connection is a silent no-op.
func (r *Registry) Unregister(roomID string, conn Conn) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	removed := r.removeLocked(roomID, conn)
	r.mu.Unlock()

	if removed {
		r.logger.Debug("registry: connection unregistered", "room", roomID, "conn", conn.ID())
	}
}

// removeLocked deletes conn only if the entry still refers to the same
// connection value. Callers must hold r.mu for writing.
func (r *Registry) removeLocked(roomID string, conn Conn) bool {
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	current, ok := members[conn.ID()]
	if !ok || current != conn {
		return false
	}
	delete(members, conn.ID())
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// Broadcast delivers payload to every member of the room except the
// connections whose IDs are listed in exclude, and returns the number of
// successful deliveries. Members whose Send fails are unregistered.
//
// Delivery happens under the read lock, so broadcasts issued one after
// another reach every member in the order they were issued.
func (r *Registry) Broadcast(roomID string, payload []byte, exclude ...string) int {
	var failed []Conn
	delivered := 0

	r.mu.RLock()
	for id, conn := range r.rooms[roomID] {
		if excluded(id, exclude) {
			continue
		}
		if err := conn.Send(payload); err != nil {
			r.logger.Warn("registry: delivery failed", "room", roomID, "conn", id, "error", err)
			failed = append(failed, conn)
			continue
		}
		delivered++
	}
	r.mu.RUnlock()

	r.removeFailed(roomID, failed)
	return delivered
}

func excluded(id string, exclude []string) bool {
	for _, ex := range exclude {
		if ex == id {
			return true
		}
	}
	return false
}

// removeFailed drops connections that could not take a broadcast.
func (r *Registry) removeFailed(roomID string, failed []Conn) {
	if len(failed) == 0 {
		return
	}

	r.mu.Lock()
	for _, conn := range failed {
		if r.removeLocked(roomID, conn) {
			r.logger.Info("registry: connection removed after failed delivery", "room", roomID, "conn", conn.ID())
		}
	}
	r.mu.Unlock()
}

// Members returns the number of live connections in the room.
func (r *Registry) Members(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Contains reports whether the connection with the given ID is registered
// in the room.
func (r *Registry) Contains(roomID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][connID]
	return ok
}

// Rooms returns the IDs of every room that currently has members.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every registered connection that supports it and returns
// how many were closed. Entries are removed by the connections' own teardown.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	var conns []Conn
	for _, members := range r.rooms {
		for _, conn := range members {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()

	closed := 0
	for _, conn := range conns {
		closer, ok := conn.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			r.logger.Warn("registry: close connection", "conn", conn.ID(), "error", err)
			continue
		}
		closed++
	}

	r.logger.Info("registry: closed client connections", "count", closed)
	return closed
}

package directory

import (
	"sync"

	"github.com/rs/zerolog"
)

// Rooms tracks room membership for this worker's view of the cluster.
// Membership here is authoritative and multi-room; the client record's room
// field is only a convenience mirror of the most recent join.
//
// None of the operations report not-found conditions: a room announced by a
// remote worker can race a local removal, and idempotent no-op semantics make
// replaying announcements safe without coordination.
type Rooms struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]struct{} // room -> set of clientIDs
	clients *Clients
	logger  zerolog.Logger
}

// NewRooms creates an empty room directory bound to a client directory for
// the denormalized room field.
func NewRooms(clients *Clients, logger zerolog.Logger) *Rooms {
	return &Rooms{
		rooms:   make(map[string]map[string]struct{}),
		clients: clients,
		logger:  logger.With().Str("component", "room-directory").Logger(),
	}
}

// AddClient inserts a client into a room, creating the room on first join.
// Adding twice is a no-op.
func (r *Rooms) AddClient(clientID, room string) {
	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
		r.logger.Debug().Str("room", room).Msg("room created")
	}
	members[clientID] = struct{}{}
	r.mu.Unlock()

	r.clients.assignRoom(clientID, room)
}

// RemoveClient removes a client from a room. The room is deleted when its
// member set becomes empty. Removing a non-member is a no-op.
func (r *Rooms) RemoveClient(clientID, room string) {
	r.mu.Lock()
	if members, ok := r.rooms[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(r.rooms, room)
			r.logger.Debug().Str("room", room).Msg("room deleted, no members left")
		}
	}
	r.mu.Unlock()

	r.clients.clearRoom(clientID, room)
}

// RemoveClientFromAll drops the client from every room it is a member of.
// Used on disconnect.
func (r *Rooms) RemoveClientFromAll(clientID string) {
	r.mu.Lock()
	for room, members := range r.rooms {
		delete(members, clientID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	r.mu.Unlock()

	r.clients.assignRoom(clientID, "")
}

// Contains reports whether the client is a member of the room.
func (r *Rooms) Contains(clientID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][clientID]
	return ok
}

// Members returns the client IDs in a room. An unknown room yields an empty
// slice, never an error.
func (r *Rooms) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// RoomsOf returns every room the client is currently a member of.
func (r *Rooms) RoomsOf(clientID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for room, members := range r.rooms {
		if _, ok := members[clientID]; ok {
			out = append(out, room)
		}
	}
	return out
}

// Names returns the names of all live rooms.
func (r *Rooms) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		out = append(out, room)
	}
	return out
}

// Count returns the number of live rooms.
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

package realtime

import (
	"log"
	"sync"
)

// Router owns the per-mission room membership and fans events out to every
// connection joined to a room. It is an explicit instance injected into
// whatever needs to publish; there is no ambient global. Delivery is
// best-effort to connections live at publish time; durable catch-up is the
// delta-sync reconciler's job, not the router's.
type Router struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]*Connection // missionID -> connectionID -> connection
	connRooms map[string]map[string]struct{}    // connectionID -> set of missionIDs
}

func NewRouter() *Router {
	return &Router{
		rooms:     make(map[string]map[string]*Connection),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to the mission room.
func (r *Router) Join(missionID string, conn *Connection) {
	r.mu.Lock()
	room := r.rooms[missionID]
	if room == nil {
		room = make(map[string]*Connection)
		r.rooms[missionID] = room
	}
	room[conn.ID] = conn

	memberships := r.connRooms[conn.ID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		r.connRooms[conn.ID] = memberships
	}
	memberships[missionID] = struct{}{}
	r.mu.Unlock()
}

// Leave removes the connection from the mission room.
func (r *Router) Leave(missionID string, conn *Connection) {
	r.mu.Lock()
	r.leaveLocked(missionID, conn.ID)
	r.mu.Unlock()
}

// Detach removes the connection from every room it joined.
func (r *Router) Detach(conn *Connection) {
	r.mu.Lock()
	for missionID := range r.connRooms[conn.ID] {
		r.leaveLocked(missionID, conn.ID)
	}
	delete(r.connRooms, conn.ID)
	r.mu.Unlock()
}

// Rooms returns the missions the connection is currently joined to.
func (r *Router) Rooms(conn *Connection) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.connRooms[conn.ID]))
	for missionID := range r.connRooms[conn.ID] {
		out = append(out, missionID)
	}
	return out
}

// Broadcast delivers event/data to every connection in the mission room.
// Returns the number of connections the frame was enqueued for.
func (r *Router) Broadcast(missionID, event string, data any) int {
	return r.BroadcastExcept(missionID, "", event, data)
}

// BroadcastExcept is Broadcast minus one connection, used to relay a sender's
// ephemeral events to everyone else.
func (r *Router) BroadcastExcept(missionID, excludeConnID, event string, data any) int {
	payload, err := EncodeEnvelope(event, data)
	if err != nil {
		log.Printf("broadcast encode %s: %v", event, err)
		return 0
	}

	r.mu.RLock()
	room := r.rooms[missionID]
	if len(room) == 0 {
		r.mu.RUnlock()
		return 0
	}
	conns := make([]*Connection, 0, len(room))
	for _, conn := range room {
		if excludeConnID != "" && conn.ID == excludeConnID {
			continue
		}
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Publish fans out a durable ChangeEvent to the mission room.
func (r *Router) Publish(event ChangeEvent) int {
	return r.Broadcast(event.MissionID, event.EventName(), event)
}

// Close terminates every tracked connection and clears router state.
func (r *Router) Close() {
	r.mu.Lock()
	conns := make([]*Connection, 0)
	seen := make(map[string]struct{})
	for _, room := range r.rooms {
		for _, conn := range room {
			if _, ok := seen[conn.ID]; ok {
				continue
			}
			seen[conn.ID] = struct{}{}
			conns = append(conns, conn)
		}
	}
	r.rooms = make(map[string]map[string]*Connection)
	r.connRooms = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close(1001, "router shutdown")
	}
}

func (r *Router) leaveLocked(missionID, connID string) {
	room := r.rooms[missionID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, missionID)
	}
	if memberships, ok := r.connRooms[connID]; ok {
		delete(memberships, missionID)
		if len(memberships) == 0 {
			delete(r.connRooms, connID)
		}
	}
}

package room

import (
	"log"
	"sync"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Router maintains room membership and performs ordered fan-out broadcast.
// The bidirectional mapping (room id -> members, connection id -> room id)
// and each member connection's room-id field are updated under one lock so
// they are mutually consistent after any completed join or leave.
type Router struct {
	mu         sync.RWMutex
	rooms      map[string]map[string]interfaces.Connection // room id -> conn id -> Connection
	memberRoom map[string]string                           // conn id -> room id

	// onDeliveryFailure schedules cleanup of a connection that failed a
	// broadcast write. Delivery to the rest of the room continues.
	onDeliveryFailure func(interfaces.Connection)
}

// NewRouter creates an empty room router.
func NewRouter() *Router {
	return &Router{
		rooms:      make(map[string]map[string]interfaces.Connection),
		memberRoom: make(map[string]string),
	}
}

// OnDeliveryFailure registers the cleanup hook invoked for connections that
// fail a broadcast write. Must be set before traffic flows.
func (r *Router) OnDeliveryFailure(fn func(interfaces.Connection)) {
	r.onDeliveryFailure = fn
}

// Join adds a connection to a room. Re-joining the current room is a no-op;
// joining a different room implicitly leaves the prior one. Membership
// changes are announced with USER_JOINED/USER_LEFT broadcasts that exclude
// the subject connection.
func (r *Router) Join(conn interfaces.Connection, roomID string) error {
	if conn == nil {
		return ErrNilConnection
	}
	if roomID == "" {
		return ErrEmptyRoomID
	}

	r.mu.Lock()
	prior := r.memberRoom[conn.ID()]
	if prior == roomID {
		r.mu.Unlock()
		return nil
	}

	if prior != "" {
		r.removeLocked(conn, prior)
	}

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]interfaces.Connection)
	}
	r.rooms[roomID][conn.ID()] = conn
	r.memberRoom[conn.ID()] = roomID
	conn.SetRoomID(roomID)
	r.mu.Unlock()

	if prior != "" {
		r.announce(prior, types.MessageTypeUserLeft, conn)
	}
	r.announce(roomID, types.MessageTypeUserJoined, conn)

	return nil
}

// Leave removes a connection from its current room. No-op if the connection
// is not in a room.
func (r *Router) Leave(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	roomID := r.memberRoom[conn.ID()]
	if roomID == "" {
		r.mu.Unlock()
		return
	}
	r.removeLocked(conn, roomID)
	r.mu.Unlock()

	r.announce(roomID, types.MessageTypeUserLeft, conn)
}

// removeLocked deletes membership state. Caller holds the write lock.
func (r *Router) removeLocked(conn interfaces.Connection, roomID string) {
	if members, exists := r.rooms[roomID]; exists {
		delete(members, conn.ID())
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	delete(r.memberRoom, conn.ID())
	conn.SetRoomID("")
}

// Broadcast delivers an envelope to every member of a room except the
// excluded connection. Membership is snapshotted under a shared lock before
// fan-out, so a concurrent join or leave never yields a partial view; whether
// it receives this particular broadcast is unspecified. Returns the number of
// successful deliveries.
func (r *Router) Broadcast(roomID string, env *types.Envelope, excludeConnID string) int {
	r.mu.RLock()
	members := r.rooms[roomID]
	snapshot := make([]interfaces.Connection, 0, len(members))
	for connID, conn := range members {
		if connID == excludeConnID {
			continue
		}
		snapshot = append(snapshot, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range snapshot {
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("Broadcast delivery failed: room=%s conn=%s user=%s err=%v", roomID, conn.ID(), conn.UserID(), err)
			if r.onDeliveryFailure != nil {
				go r.onDeliveryFailure(conn)
			}
			continue
		}
		delivered++
	}

	return delivered
}

// announce broadcasts a membership event, excluding the subject connection.
func (r *Router) announce(roomID string, msgType types.MessageType, conn interfaces.Connection) {
	env := types.NewEnvelope(msgType, types.SystemSender, map[string]interface{}{
		"user_id": conn.UserID(),
		"role":    string(conn.Role()),
	})
	env.ClassroomID = roomID
	r.Broadcast(roomID, env, conn.ID())
}

// RoomOf returns the room a connection belongs to, or "".
func (r *Router) RoomOf(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.memberRoom[connID]
}

// Members returns a snapshot of the connections in a room.
func (r *Router) Members(roomID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	snapshot := make([]interfaces.Connection, 0, len(members))
	for _, conn := range members {
		snapshot = append(snapshot, conn)
	}
	return snapshot
}

// Stats returns routing statistics for the health endpoint.
func (r *Router) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"active_rooms": len(r.rooms),
		"room_members": len(r.memberRoom),
	}
}

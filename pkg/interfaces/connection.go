package interfaces

import (
	"time"

	"classhub/pkg/types"
)

// Connection is the hub-facing view of one live client connection.
// Implementations must make WriteJSON safe for concurrent use (the WebSocket
// implementation funnels all writes through a single writer goroutine).
type Connection interface {
	// ID returns the ephemeral connection id assigned at transport open.
	ID() string

	// WriteJSON queues a JSON message for delivery to the client.
	WriteJSON(v interface{}) error

	// Close tears down the transport and releases resources. Idempotent.
	Close() error

	// UserID returns the authenticated user's id, or "" before auth.
	UserID() string

	// Role returns the connection's role; RoleUnauthenticated before auth.
	Role() types.Role

	// ParentID returns the linked parent id for child connections, or "".
	ParentID() string

	// Platform returns the client platform tag supplied at connect time.
	Platform() string

	// RoomID returns the current room id, or "" when not in a room.
	RoomID() string

	// SetRoomID records the room this connection belongs to. Maintained by
	// the room router so membership and the connection field stay consistent.
	SetRoomID(roomID string)

	// IsAuthenticated reports whether identity has been populated.
	IsAuthenticated() bool

	// SetIdentity populates identity fields after successful token
	// verification. Succeeds at most once; later calls return an error.
	SetIdentity(identity types.Identity) error

	// LastHeartbeat returns the time of the most recent heartbeat.
	LastHeartbeat() time.Time

	// TouchHeartbeat records client liveness.
	TouchHeartbeat()

	// AddSafetyFlag increments the accumulated safety flag count and
	// returns the new total.
	AddSafetyFlag() int

	// Blocked reports whether the connection has been emergency-blocked.
	Blocked() bool

	// Block marks the connection blocked prior to forced disconnect.
	Block()
}
